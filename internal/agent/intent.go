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

// QueryContext carries the session and registry context that classification
// and extraction use to ground a query.
type QueryContext struct {
	FocusedFiles     []string
	AvailableFiles   []string
	AvailableColumns []string
}

// intentPatterns is the rule table for quick intent detection. Kept as
// plain data so scoring stays tunable without touching logic.
var intentPatterns = map[models.Intent][]string{
	models.IntentSearchRetrieval: {
		`\b(find|search|look for|show me|get|retrieve)\b`,
		`\b(where is|locate|which file)\b`,
		`\b(data about|information on)\b`,
	},
	models.IntentMetadataQuery: {
		`\b(what columns|column names|schema|structure)\b`,
		`\b(file info|metadata|description|properties)\b`,
		`\bhow many (rows|columns|files)\b`,
	},
	models.IntentDataVisualization: {
		`\b(plot|graph|chart|visualize|show)\b`,
		`\b(histogram|scatter|boxplot|heatmap|bar chart)\b`,
		`\b(distribution|correlation matrix)\b`,
	},
	models.IntentStatisticalAnalysis: {
		`\b(t-test|anova|regression|correlation|chi-square)\b`,
		`\b(mean|median|std|variance|p-value|significant)\b`,
		`\b(compare|test|analyze|statistical)\b`,
	},
	models.IntentDataCleaning: {
		`\b(clean|filter|remove|outliers|missing values)\b`,
		`\b(normalize|standardize|transform)\b`,
		`\b(duplicates|null|nan|invalid)\b`,
	},
	models.IntentNewDatasetGeneration: {
		`\b(create|generate|make|build) .*(dataset|file|table)\b`,
		`\b(combine|merge|join|aggregate)\b`,
		`\b(export|save|output)\b`,
	},
	models.IntentFileSummary: {
		`\b(summary|overview|describe|basic stats)\b`,
		`\b(what's in|contents of|about this file)\b`,
	},
	models.IntentCodeGeneration: {
		`\b(code|script|function|write|generate)\b`,
		`\b(golang|program|snippet|implementation)\b`,
	},
	models.IntentScientificQuestion: {
		`\b(hypothesis|research question|study|experiment)\b`,
		`\b(clinical|laboratory|biomarker|patient)\b`,
	},
	models.IntentAccessPermission: {
		`\b(access|permission|authorize|login|auth)\b`,
		`\b(can't access|denied|forbidden)\b`,
	},
	models.IntentHelpInstruction: {
		`\b(help|how to|instructions|guide|tutorial)\b`,
		`\b(what can you do|commands|options)\b`,
	},
}

// IntentClassifier classifies queries into laboratory data analysis intents
// using rule-based patterns, escalating to the completion service only when
// rule confidence is low. Classification never fails: any model error falls
// back to the rule-based result.
type IntentClassifier struct {
	llm      llm.Client
	patterns map[models.Intent][]*regexp.Regexp
	logger   *zap.Logger
}

func NewIntentClassifier(client llm.Client, logger *zap.Logger) *IntentClassifier {
	compiled := make(map[models.Intent][]*regexp.Regexp, len(intentPatterns))
	for intent, patterns := range intentPatterns {
		for _, p := range patterns {
			compiled[intent] = append(compiled[intent], regexp.MustCompile(p))
		}
	}
	return &IntentClassifier{
		llm:      client,
		patterns: compiled,
		logger:   logger,
	}
}

// Classify resolves the query's intent. The model-based result is accepted
// only when its confidence is strictly greater than the rule-based one;
// ties keep the rule-based result.
func (c *IntentClassifier) Classify(ctx context.Context, query string, qc *QueryContext) models.IntentResult {
	ruleResult := c.ruleBased(query)

	if c.llm != nil && ruleResult.Confidence < 0.7 {
		modelResult, err := c.modelBased(ctx, query, qc)
		if err != nil {
			c.logger.Warn("model-based classification failed, keeping rule-based result",
				zap.Error(err),
				zap.String("query", query))
			return ruleResult
		}
		if modelResult.Confidence > ruleResult.Confidence {
			return modelResult
		}
	}
	return ruleResult
}

func (c *IntentClassifier) ruleBased(query string) models.IntentResult {
	queryLower := strings.ToLower(query)

	scores := make(map[models.Intent]int)
	for intent, patterns := range c.patterns {
		score := 0
		for _, p := range patterns {
			score += len(p.FindAllString(queryLower, -1))
		}
		if score > 0 {
			scores[intent] = score
		}
	}

	if len(scores) == 0 {
		return models.IntentResult{
			PrimaryIntent: models.IntentSearchRetrieval,
			Confidence:    0.3,
			Reasoning:     "No specific patterns matched, defaulting to search",
		}
	}

	primary := models.IntentSearchRetrieval
	maxScore := 0
	for _, intent := range models.AllIntents() {
		if score, ok := scores[intent]; ok && score > maxScore {
			primary = intent
			maxScore = score
		}
	}

	var secondary []models.Intent
	for _, intent := range models.AllIntents() {
		score, ok := scores[intent]
		if ok && intent != primary && float64(score) >= float64(maxScore)*0.5 {
			secondary = append(secondary, intent)
		}
	}

	confidence := float64(maxScore)*0.2 + 0.3
	if confidence > 0.9 {
		confidence = 0.9
	}

	return models.IntentResult{
		PrimaryIntent:    primary,
		SecondaryIntents: secondary,
		Confidence:       confidence,
		Reasoning:        fmt.Sprintf("Rule-based classification with %d pattern matches", maxScore),
	}
}

const intentSystemPrompt = `You are an expert at classifying user intents for laboratory data analysis.

Available intent types:
- search_retrieval: Finding or retrieving specific data/files
- metadata_query: Questions about file structure, columns, properties
- data_visualization: Creating plots, charts, or visual representations
- statistical_analysis: Statistical tests, calculations, comparisons
- data_cleaning: Filtering, cleaning, transforming data
- new_dataset_generation: Creating new datasets, combining data
- file_summary: Getting overviews or summaries of data
- code_generation: Generating code or scripts
- scientific_question: Research questions or hypotheses
- access_permission: Authentication or access issues
- help_instruction: Asking for help or instructions

Classify the user query into one primary intent and any relevant secondary intents.
Also extract any entities like file names, column names, statistical methods, etc.

Respond in this exact JSON format:
{
    "primary_intent": "intent_name",
    "secondary_intents": ["intent1", "intent2"],
    "confidence": 0.85,
    "reasoning": "Explanation of classification",
    "entities": {
        "files": ["file1.csv"],
        "columns": ["column1", "column2"],
        "statistical_methods": ["t-test"]
    }
}`

type intentCompletion struct {
	PrimaryIntent    string              `json:"primary_intent"`
	SecondaryIntents []string            `json:"secondary_intents"`
	Confidence       float64             `json:"confidence"`
	Reasoning        string              `json:"reasoning"`
	Entities         map[string][]string `json:"entities"`
}

func (c *IntentClassifier) modelBased(ctx context.Context, query string, qc *QueryContext) (models.IntentResult, error) {
	userPrompt := "User query: " + query
	if qc != nil && len(qc.FocusedFiles) > 0 {
		userPrompt += "\nCurrent files in focus: " + strings.Join(qc.FocusedFiles, ", ")
	}

	response, err := c.llm.Complete(ctx, intentSystemPrompt, userPrompt)
	if err != nil {
		return models.IntentResult{}, err
	}

	var parsed intentCompletion
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &parsed); err != nil {
		return models.IntentResult{}, fmt.Errorf("error parsing classification response: %w", err)
	}

	primary := models.Intent(parsed.PrimaryIntent)
	if !primary.Valid() {
		return models.IntentResult{}, fmt.Errorf("unknown intent %q in classification response", parsed.PrimaryIntent)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return models.IntentResult{}, fmt.Errorf("classification confidence %v out of range", parsed.Confidence)
	}

	var secondary []models.Intent
	for _, name := range parsed.SecondaryIntents {
		if intent := models.Intent(name); intent.Valid() {
			secondary = append(secondary, intent)
		}
	}

	return models.IntentResult{
		PrimaryIntent:    primary,
		SecondaryIntents: secondary,
		Confidence:       parsed.Confidence,
		Reasoning:        parsed.Reasoning,
		Entities:         parsed.Entities,
	}, nil
}

// stripCodeFences removes a surrounding markdown fence from a model reply
// that was asked for bare JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
