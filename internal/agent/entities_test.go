package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/lab-agent/internal/models"
	"go.uber.org/zap"
)

func entityTexts(entities []models.Entity, label string) []string {
	var out []string
	for _, e := range entities {
		if e.Label == label {
			out = append(out, e.Text)
		}
	}
	return out
}

func TestPatternExtraction(t *testing.T) {
	e := NewEntityExtractor(nil, zap.NewNop())

	result := e.Extract(context.Background(), "Run a t-test on glucose in lab_results.csv where value is greater than 100", nil)

	assert.Contains(t, entityTexts(result.Entities, models.LabelFiles), "lab_results.csv")
	assert.Contains(t, entityTexts(result.Entities, models.LabelStatisticalMethods), "t-test")
	assert.Contains(t, entityTexts(result.Entities, models.LabelColumns), "glucose")
	assert.Contains(t, entityTexts(result.Entities, models.LabelComparisons), "greater than")
	assert.Greater(t, result.Confidence, 0.5)
}

func TestFileValidationBoostsAndPenalizes(t *testing.T) {
	e := NewEntityExtractor(nil, zap.NewNop())
	qc := &QueryContext{AvailableFiles: []string{"/data/lab_results.csv"}}

	known := e.Extract(context.Background(), "summarize lab_results.csv", qc)
	unknown := e.Extract(context.Background(), "summarize missing_file.csv", qc)

	knownFile := findEntity(t, known.Entities, models.LabelFiles, "lab_results.csv")
	assert.InDelta(t, 1.0, knownFile.Confidence, 0.001)
	assert.Contains(t, knownFile.Metadata["validated_files"], "lab_results.csv")

	unknownFile := findEntity(t, unknown.Entities, models.LabelFiles, "missing_file.csv")
	assert.InDelta(t, 0.4, unknownFile.Confidence, 0.001)
}

func TestPotentialColumnPromotion(t *testing.T) {
	e := NewEntityExtractor(nil, zap.NewNop())
	qc := &QueryContext{AvailableColumns: []string{"wbc_count", "rbc_count"}}

	result := e.Extract(context.Background(), "histogram of wbc_count please", qc)

	promoted := findEntity(t, result.Entities, models.LabelColumns, "wbc_count")
	// 0.5 phrase confidence boosted by the schema match.
	assert.InDelta(t, 0.8, promoted.Confidence, 0.001)
	assert.Equal(t, "wbc_count", promoted.Metadata["validated_columns"])
}

func TestMergeKeepsHigherConfidence(t *testing.T) {
	merged := mergeEntities([]models.Entity{
		{Text: "Glucose", Label: models.LabelColumns, Confidence: 0.6},
		{Text: "glucose", Label: models.LabelColumns, Confidence: 0.9},
		{Text: "glucose", Label: models.LabelLaboratoryTerms, Confidence: 0.4},
	})

	require.Len(t, merged, 2)
	col := findEntity(t, merged, models.LabelColumns, "glucose")
	assert.InDelta(t, 0.9, col.Confidence, 0.001)
}

func TestStructuredEntitiesThreshold(t *testing.T) {
	structured := structureEntities([]models.Entity{
		{Text: "glucose", Label: models.LabelColumns, Confidence: 0.8},
		{Text: "maybe_col", Label: models.LabelPotentialColumn, Confidence: 0.35},
		{Text: "GLUCOSE", Label: models.LabelColumns, Confidence: 0.7},
	})

	assert.Equal(t, []string{"glucose"}, structured[models.LabelColumns])
	assert.NotContains(t, structured, models.LabelPotentialColumn)
}

func TestModelExtractionFallback(t *testing.T) {
	llm := &fakeLLM{response: `[{"text": "hba1c", "label": "columns", "confidence": 0.9}]`}
	e := NewEntityExtractor(llm, zap.NewNop())

	result := e.Extract(context.Background(), "xyzzy", nil)
	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, entityTexts(result.Entities, models.LabelColumns), "hba1c")
}

func TestModelNotCalledWithEnoughEntities(t *testing.T) {
	llm := &fakeLLM{response: `[]`}
	e := NewEntityExtractor(llm, zap.NewNop())

	e.Extract(context.Background(), "t-test on glucose and cholesterol in lab_results.csv", nil)
	assert.Equal(t, 0, llm.calls)
}

func TestModelFailureKeepsPatternResults(t *testing.T) {
	llm := &fakeLLM{response: "not json"}
	e := NewEntityExtractor(llm, zap.NewNop())

	result := e.Extract(context.Background(), "summarize data.csv", nil)
	assert.Contains(t, entityTexts(result.Entities, models.LabelFiles), "data.csv")
}

func TestEmptyQueryHasZeroConfidence(t *testing.T) {
	e := NewEntityExtractor(nil, zap.NewNop())
	result := e.Extract(context.Background(), "", nil)
	assert.Empty(t, result.Entities)
	assert.Zero(t, result.Confidence)
}

func findEntity(t *testing.T, entities []models.Entity, label, text string) models.Entity {
	t.Helper()
	for _, e := range entities {
		if e.Label == label && e.Text == text {
			return e
		}
	}
	t.Fatalf("entity %q with label %q not found in %v", text, label, entities)
	return models.Entity{}
}
