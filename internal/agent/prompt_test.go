package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/lab-agent/internal/models"
	"github.com/xaenox/lab-agent/internal/session"
	"go.uber.org/zap"
)

func retrievalWith(docs ...models.RetrievedDocument) models.RetrievalResult {
	columns := make(map[string]struct{})
	for _, d := range docs {
		for _, c := range d.Columns {
			columns[c] = struct{}{}
		}
	}
	return models.RetrievalResult{
		Documents: docs,
		Metadata: models.RetrievalMetadata{
			TotalFiles:  len(docs),
			ColumnCount: len(columns),
		},
	}
}

func TestBuildSelectsIntentTemplate(t *testing.T) {
	b := NewPromptBuilder(zap.NewNop())

	tests := []struct {
		intent       models.Intent
		wantInSystem string
		maxTokens    int
	}{
		{models.IntentDataVisualization, "visualization expert", 2000},
		{models.IntentStatisticalAnalysis, "biostatistician", 3000},
		{models.IntentDataCleaning, "data engineer", 2000},
		{models.IntentFileSummary, "summarizing laboratory data files", 1500},
		{models.IntentSearchRetrieval, "laboratory data analysis assistant", 2500},
	}

	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			prompt := b.Build(tt.intent, "do something", models.RetrievalResult{}, nil)
			assert.Contains(t, prompt.System, tt.wantInSystem)
			assert.Contains(t, prompt.System, "variable named result")
			assert.Equal(t, tt.maxTokens, prompt.MaxTokens)
			assert.Contains(t, prompt.User, "do something")
		})
	}
}

func TestBuildDataContext(t *testing.T) {
	b := NewPromptBuilder(zap.NewNop())
	retrieval := retrievalWith(models.RetrievedDocument{
		FileName: "glucose_levels.csv",
		FilePath: "/data/glucose_levels.csv",
		Columns:  []string{"patient_id", "glucose"},
		Sample: &models.SamplePreview{
			Columns: []string{"patient_id", "glucose"},
			Rows: []map[string]string{
				{"patient_id": "P001", "glucose": "98"},
				{"patient_id": "P002", "glucose": "132"},
				{"patient_id": "P003", "glucose": "105"},
			},
		},
	})

	prompt := b.Build(models.IntentFileSummary, "summarize", retrieval, nil)
	assert.Contains(t, prompt.User, "File: glucose_levels.csv (/data/glucose_levels.csv)")
	assert.Contains(t, prompt.User, "Columns: patient_id, glucose")
	assert.Contains(t, prompt.User, "patient_id=P001, glucose=98")
	// Only two sample rows make it into the prompt.
	assert.NotContains(t, prompt.User, "P003")
	assert.Contains(t, prompt.User, "Summary: 1 files, 2 unique columns")
}

func TestBuildEmptyRetrieval(t *testing.T) {
	b := NewPromptBuilder(zap.NewNop())
	prompt := b.Build(models.IntentFileSummary, "summarize", models.RetrievalResult{}, nil)
	assert.Contains(t, prompt.User, "No specific files found. Please specify which data to analyze.")
}

func TestBuildConversationContext(t *testing.T) {
	b := NewPromptBuilder(zap.NewNop())
	sess := session.New("s1")
	longResponse := strings.Repeat("x", 250)
	for _, turn := range []session.TurnCompletion{
		{Response: "First answer"},
		{Response: longResponse, GeneratedCode: "result := 1"},
	} {
		_, err := sess.StartTurn("earlier query")
		require.NoError(t, err)
		require.NoError(t, sess.CompleteTurn(turn))
	}

	prompt := b.Build(models.IntentFileSummary, "follow up", models.RetrievalResult{}, sess)
	assert.Contains(t, prompt.User, "Previous Query: earlier query")
	assert.Contains(t, prompt.User, "Response: First answer")
	assert.Contains(t, prompt.User, longResponse[:200]+"...")
	assert.NotContains(t, prompt.User, longResponse)
	assert.Contains(t, prompt.User, "Code Generated: Yes")
}

func TestBuildRelatedEarlierQuery(t *testing.T) {
	b := NewPromptBuilder(zap.NewNop())
	sess := session.New("s1")
	queries := []string{
		"plot glucose distribution by group",
		"filler one", "filler two", "filler three",
	}
	for _, q := range queries {
		_, err := sess.StartTurn(q)
		require.NoError(t, err)
		require.NoError(t, sess.CompleteTurn(session.TurnCompletion{Response: "done"}))
	}

	prompt := b.Build(models.IntentFileSummary, "glucose distribution histogram", models.RetrievalResult{}, sess)
	assert.Contains(t, prompt.User, "Related earlier query: plot glucose distribution by group")
}

func TestBuildNoHistory(t *testing.T) {
	b := NewPromptBuilder(zap.NewNop())
	prompt := b.Build(models.IntentFileSummary, "first query", models.RetrievalResult{}, session.New("s1"))
	assert.Contains(t, prompt.User, "No previous conversation history.")
}

func TestBuildTruncatesLongPrompt(t *testing.T) {
	b := NewPromptBuilder(zap.NewNop())
	var docs []models.RetrievedDocument
	for i := 0; i < 3; i++ {
		docs = append(docs, models.RetrievedDocument{
			FileName:    "big.csv",
			FilePath:    "/data/big.csv",
			Description: strings.Repeat("very long description ", 500),
			Columns:     []string{"a", "b"},
		})
	}
	retrieval := retrievalWith(docs...)
	retrieval.Documents[0].Description = strings.Repeat("words ", 3000)

	prompt := b.Build(models.IntentFileSummary, strings.Repeat("long query ", 1000), retrieval, nil)
	assert.LessOrEqual(t, len(prompt.User), promptTemplates[models.IntentFileSummary].MaxTokens*4)
	assert.Contains(t, prompt.User, "[Content truncated due to length...]")
}
