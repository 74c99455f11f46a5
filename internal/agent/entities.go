package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xaenox/lab-agent/internal/llm"
	"github.com/xaenox/lab-agent/internal/models"
	"go.uber.org/zap"
)

// entityPatterns maps each entity label to its extraction patterns. Plain
// data by design; tuning an entity family means editing this table only.
var entityPatterns = map[string][]string{
	models.LabelFiles: {
		`\b(\w+\.(csv|xlsx?|json|txt|tsv|pdf))\b`,
		`\bfile\s+["']?(\w+)["']?`,
		`\bdataset\s+["']?(\w+)["']?`,
		`\btable\s+["']?(\w+)["']?`,
	},
	models.LabelColumns: {
		`\bcolumn\s+["']?(\w+)["']?`,
		`\b["'](\w+)["']?\s+column\b`,
		`\bfield\s+["']?(\w+)["']?`,
		`\bvariable\s+["']?(\w+)["']?`,
		// Common laboratory analytes and identifier columns.
		`\b(glucose|cholesterol|hemoglobin|creatinine|albumin|bun|sodium|potassium)\b`,
		`\b(patient_?id|sample_?id|test_?date|result_?value)\b`,
	},
	models.LabelStatisticalMethods: {
		`\b(t-test|ttest|student'?s t-test)\b`,
		`\b(anova|analysis of variance)\b`,
		`\b(correlation|pearson|spearman)\b`,
		`\b(regression|linear regression|logistic regression)\b`,
		`\b(chi-square|chi squared)\b`,
		`\b(mann-whitney|wilcoxon)\b`,
		`\b(normality test|shapiro-wilk|kolmogorov-smirnov)\b`,
	},
	models.LabelVisualizationTypes: {
		`\b(histogram|hist)\b`,
		`\b(scatter plot|scatterplot|scatter)\b`,
		`\b(box plot|boxplot|box)\b`,
		`\b(heat map|heatmap)\b`,
		`\b(bar chart|bar graph|barplot)\b`,
		`\b(line plot|line chart|lineplot)\b`,
		`\b(violin plot|violinplot)\b`,
	},
	models.LabelOperations: {
		`\b(filter|remove|exclude|include)\b`,
		`\b(group by|aggregate|sum|mean|average|count)\b`,
		`\b(sort|order by|rank)\b`,
		`\b(merge|join|combine|concatenate)\b`,
		`\b(clean|normalize|standardize|transform)\b`,
	},
	models.LabelNumericalValues: {
		`\b(\d+(?:\.\d+)?)\s*(%|percent|mg/dl|mmol/l|units?|μmol/l)\b`,
		`\b(\d+(?:\.\d+)?)\b`,
	},
	models.LabelComparisons: {
		`\b(greater than|more than|above|over)\s*(\d+(?:\.\d+)?)\b`,
		`\b(less than|below|under)\s*(\d+(?:\.\d+)?)\b`,
		`\b(equals?|equal to)\s*(\d+(?:\.\d+)?)\b`,
		`\b(between)\s*(\d+(?:\.\d+)?)\s*and\s*(\d+(?:\.\d+)?)\b`,
	},
	models.LabelTimeReferences: {
		`\b(\d{4}-\d{2}-\d{2})\b`,
		`\b(\d{1,2}/\d{1,2}/\d{4})\b`,
		`\b(last|previous|past)\s+(week|month|year|day)\b`,
		`\b(this|current)\s+(week|month|year|day)\b`,
	},
	models.LabelLaboratoryTerms: {
		`\b(reference range|normal range|abnormal|out of range)\b`,
		`\b(lab results?|test results?|panel|screening)\b`,
		`\b(patient|subject|participant|sample)\b`,
		`\b(biomarker|analyte|assay|measurement)\b`,
	},
}

// phraseStopwords filters the noun-phrase pass. Short function words plus
// query verbs that never name a column.
var phraseStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "on": {}, "for": {},
	"to": {}, "and": {}, "or": {}, "by": {}, "with": {}, "from": {},
	"is": {}, "are": {}, "was": {}, "be": {}, "this": {}, "that": {},
	"me": {}, "my": {}, "it": {}, "its": {}, "as": {}, "at": {},
	"show": {}, "plot": {}, "find": {}, "get": {}, "give": {}, "make": {},
	"create": {}, "can": {}, "you": {}, "please": {}, "run": {},
	"what": {}, "which": {},
	"how": {}, "all": {}, "now": {}, "between": {}, "using": {}, "about": {},
}

// EntityExtractor pulls structured entities out of query text via regex
// patterns, a noun-phrase heuristic, context validation against the known
// file/column registry, and a single completion-service call when the
// cheap passes find too little.
type EntityExtractor struct {
	llm      llm.Client
	patterns map[string][]*regexp.Regexp
	logger   *zap.Logger
}

func NewEntityExtractor(client llm.Client, logger *zap.Logger) *EntityExtractor {
	compiled := make(map[string][]*regexp.Regexp, len(entityPatterns))
	for label, patterns := range entityPatterns {
		for _, p := range patterns {
			compiled[label] = append(compiled[label], regexp.MustCompile(p))
		}
	}
	return &EntityExtractor{
		llm:      client,
		patterns: compiled,
		logger:   logger,
	}
}

// Extract pulls entities from the query. Model-call failures degrade to
// pattern-only results and are never surfaced.
func (e *EntityExtractor) Extract(ctx context.Context, query string, qc *QueryContext) models.ExtractionResult {
	entities := e.patternEntities(query)
	entities = append(entities, e.phraseEntities(query)...)

	if qc != nil {
		entities = validateWithContext(entities, qc)
	}

	if e.llm != nil && len(entities) < 3 {
		modelEntities, err := e.modelEntities(ctx, query, qc)
		if err != nil {
			e.logger.Warn("model-based entity extraction failed, keeping pattern results",
				zap.Error(err),
				zap.String("query", query))
		} else {
			entities = append(entities, modelEntities...)
		}
	}

	entities = mergeEntities(entities)

	return models.ExtractionResult{
		Entities:   entities,
		Structured: structureEntities(entities),
		Confidence: extractionConfidence(entities),
	}
}

func (e *EntityExtractor) patternEntities(query string) []models.Entity {
	var entities []models.Entity
	queryLower := strings.ToLower(query)

	for label, patterns := range e.patterns {
		for _, p := range patterns {
			for _, match := range p.FindAllStringSubmatchIndex(queryLower, -1) {
				start, end := match[0], match[1]
				text := queryLower[start:end]
				// Prefer the first capture group when present.
				if len(match) >= 4 && match[2] >= 0 {
					text = queryLower[match[2]:match[3]]
				}
				entities = append(entities, models.Entity{
					Text:       text,
					Label:      label,
					Confidence: 0.8,
					StartPos:   start,
					EndPos:     end,
				})
			}
		}
	}
	return entities
}

// phraseEntities promotes short word runs to potential column references.
// A lightweight stand-in for a linguistic noun-phrase pass: candidate
// columns are the short phrases left after stripping stopwords, numbers,
// and punctuation.
func (e *EntityExtractor) phraseEntities(query string) []models.Entity {
	var entities []models.Entity
	var run []string

	flush := func() {
		if len(run) == 0 {
			return
		}
		if len(run) <= 3 {
			entities = append(entities, models.Entity{
				Text:       strings.Join(run, " "),
				Label:      models.LabelPotentialColumn,
				Confidence: 0.5,
			})
		}
		run = nil
	}

	for _, raw := range strings.Fields(strings.ToLower(query)) {
		word := strings.Trim(raw, ".,;:!?\"'()")
		if word == "" || !isAlphaWord(word) {
			flush()
			continue
		}
		if _, stop := phraseStopwords[word]; stop {
			flush()
			continue
		}
		run = append(run, word)
	}
	flush()
	return entities
}

func isAlphaWord(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// validateWithContext boosts entities that match the known files/columns
// and discounts those that do not. A potential column confirmed by a
// schema match is promoted to a real column entity.
func validateWithContext(entities []models.Entity, qc *QueryContext) []models.Entity {
	validated := make([]models.Entity, 0, len(entities))
	for _, entity := range entities {
		switch entity.Label {
		case models.LabelFiles:
			matches := substringMatches(entity.Text, qc.AvailableFiles)
			if len(matches) > 0 {
				entity.Confidence = clamp(entity.Confidence + 0.2)
				entity.Metadata = map[string]string{"validated_files": strings.Join(matches, ",")}
			} else {
				entity.Confidence *= 0.5
			}
		case models.LabelColumns, models.LabelPotentialColumn:
			matches := substringMatches(entity.Text, qc.AvailableColumns)
			if len(matches) > 0 {
				entity.Label = models.LabelColumns
				entity.Confidence = clamp(entity.Confidence + 0.3)
				entity.Metadata = map[string]string{"validated_columns": strings.Join(matches, ",")}
			} else {
				entity.Confidence *= 0.7
			}
		}
		validated = append(validated, entity)
	}
	return validated
}

func substringMatches(needle string, haystack []string) []string {
	var matches []string
	needleLower := strings.ToLower(needle)
	for _, candidate := range haystack {
		if strings.Contains(strings.ToLower(candidate), needleLower) {
			matches = append(matches, candidate)
		}
	}
	return matches
}

const entitySystemPrompt = `You are an expert at extracting entities from laboratory data analysis queries.

Extract the following types of entities:
- files: File names or references
- columns: Column names or data fields
- statistical_methods: Statistical tests or methods
- visualization_types: Types of plots or charts
- operations: Data operations or transformations
- numerical_values: Numbers with or without units
- comparisons: Comparison operators and values
- time_references: Dates or time periods
- laboratory_terms: Lab-specific terminology

Return a JSON list of entities in this format:
[
    {"text": "glucose", "label": "columns", "confidence": 0.9},
    {"text": "t-test", "label": "statistical_methods", "confidence": 0.95}
]`

func (e *EntityExtractor) modelEntities(ctx context.Context, query string, qc *QueryContext) ([]models.Entity, error) {
	userPrompt := "Query: " + query
	if qc != nil {
		if len(qc.AvailableFiles) > 0 {
			userPrompt += "\nAvailable files: " + strings.Join(qc.AvailableFiles, ", ")
		}
		if len(qc.AvailableColumns) > 0 {
			userPrompt += "\nAvailable columns: " + strings.Join(qc.AvailableColumns, ", ")
		}
	}

	response, err := e.llm.Complete(ctx, entitySystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		Text       string  `json:"text"`
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &parsed); err != nil {
		return nil, fmt.Errorf("error parsing entity response: %w", err)
	}

	entities := make([]models.Entity, 0, len(parsed))
	for _, item := range parsed {
		if item.Text == "" || item.Label == "" {
			continue
		}
		entities = append(entities, models.Entity{
			Text:       item.Text,
			Label:      item.Label,
			Confidence: clamp(item.Confidence),
			Metadata:   map[string]string{"source": "llm"},
		})
	}
	return entities, nil
}

// mergeEntities deduplicates by (lowercased text, label), keeping the
// higher-confidence duplicate. Idempotent.
func mergeEntities(entities []models.Entity) []models.Entity {
	type key struct{ text, label string }
	index := make(map[key]int)
	merged := make([]models.Entity, 0, len(entities))

	for _, entity := range entities {
		k := key{strings.ToLower(entity.Text), entity.Label}
		if at, seen := index[k]; seen {
			if entity.Confidence > merged[at].Confidence {
				merged[at] = entity
			}
			continue
		}
		index[k] = len(merged)
		merged = append(merged, entity)
	}
	return merged
}

// structureEntities builds the label → texts map from entities with
// confidence at or above 0.5, deduplicated per label.
func structureEntities(entities []models.Entity) map[string][]string {
	structured := make(map[string][]string)
	seen := make(map[string]map[string]struct{})

	for _, entity := range entities {
		if entity.Confidence < 0.5 {
			continue
		}
		if seen[entity.Label] == nil {
			seen[entity.Label] = make(map[string]struct{})
		}
		lower := strings.ToLower(entity.Text)
		if _, dup := seen[entity.Label][lower]; dup {
			continue
		}
		seen[entity.Label][lower] = struct{}{}
		structured[entity.Label] = append(structured[entity.Label], entity.Text)
	}
	return structured
}

// extractionConfidence is the average entity confidence plus a bonus of
// 0.05 per distinct label, capped at 0.2.
func extractionConfidence(entities []models.Entity) float64 {
	if len(entities) == 0 {
		return 0
	}
	total := 0.0
	labels := make(map[string]struct{})
	for _, entity := range entities {
		total += entity.Confidence
		labels[entity.Label] = struct{}{}
	}
	bonus := float64(len(labels)) * 0.05
	if bonus > 0.2 {
		bonus = 0.2
	}
	return clamp(total/float64(len(entities)) + bonus)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
