package agent

import (
	"fmt"
	"strings"

	"github.com/xaenox/lab-agent/internal/models"
	"github.com/xaenox/lab-agent/internal/session"
	"go.uber.org/zap"
)

// PromptTemplate pairs a system prompt with a user template and a token
// ceiling for the assembled prompt.
type PromptTemplate struct {
	System    string
	User      string
	MaxTokens int
}

// BuiltPrompt is the assembled prompt pair handed to the completion service.
type BuiltPrompt struct {
	System    string
	User      string
	MaxTokens int
}

const codeGuidelines = `Generate Go code that:
1. Reads the relevant CSV data from the provided file paths
2. Performs the requested analysis with clear intermediate steps
3. Stores the final answer in a variable named result
4. Uses only the standard library (strings, strconv, fmt, math, sort, encoding/csv)
5. Handles missing or malformed values without panicking`

var promptTemplates = map[models.Intent]PromptTemplate{
	models.IntentDataVisualization: {
		System: `You are a data visualization expert for laboratory data analysis.

` + codeGuidelines + `

For visualization requests, compute the aggregates or bins that the plot
would display and store them in result as a [][]string table with a header
row, then print a short textual rendering of the chart.`,
		User: `Create a visualization for this request: {query}

Data context:
{context}

Previous conversation:
{conversation_context}`,
		MaxTokens: 2000,
	},
	models.IntentStatisticalAnalysis: {
		System: `You are a biostatistician analyzing laboratory data.

` + codeGuidelines + `

Choose the statistical method the request names, state its assumptions in
comments, compute the test statistic and p-value where applicable, and
store the findings in result.`,
		User: `Perform this statistical analysis: {query}

Data context:
{context}

Previous conversation:
{conversation_context}`,
		MaxTokens: 3000,
	},
	models.IntentDataCleaning: {
		System: `You are a data engineer cleaning laboratory datasets.

` + codeGuidelines + `

Report what was removed or transformed and why. Store the cleaned rows or
a cleaning summary in result.`,
		User: `Clean the data as requested: {query}

Data context:
{context}

Previous conversation:
{conversation_context}`,
		MaxTokens: 2000,
	},
	models.IntentFileSummary: {
		System: `You are summarizing laboratory data files.

` + codeGuidelines + `

Summarize row counts, column types, value ranges, and notable gaps. Store
the summary table in result.`,
		User: `Summarize the data: {query}

Data context:
{context}

Previous conversation:
{conversation_context}`,
		MaxTokens: 1500,
	},
}

var defaultTemplate = PromptTemplate{
	System: `You are a laboratory data analysis assistant.

` + codeGuidelines,
	User: `Help with this request: {query}

Data context:
{context}

Previous conversation:
{conversation_context}`,
	MaxTokens: 2500,
}

// PromptBuilder assembles intent-specific prompts with retrieved data
// context and recent conversation history.
type PromptBuilder struct {
	logger *zap.Logger
}

func NewPromptBuilder(logger *zap.Logger) *PromptBuilder {
	return &PromptBuilder{logger: logger}
}

// Build assembles the prompt for one turn. The user prompt is truncated to
// the template's token ceiling so context growth never overruns the model.
func (b *PromptBuilder) Build(intent models.Intent, query string, retrieval models.RetrievalResult, sess *session.Session) BuiltPrompt {
	tmpl, ok := promptTemplates[intent]
	if !ok {
		tmpl = defaultTemplate
	}

	user := strings.NewReplacer(
		"{query}", query,
		"{context}", dataContextSection(retrieval),
		"{conversation_context}", conversationSection(sess, query),
	).Replace(tmpl.User)

	maxChars := tmpl.MaxTokens * 4
	if len(user) > maxChars {
		b.logger.Debug("truncating prompt",
			zap.String("intent", string(intent)),
			zap.Int("length", len(user)),
			zap.Int("max", maxChars))
		user = user[:maxChars-50] + "\n\n[Content truncated due to length...]"
	}

	return BuiltPrompt{
		System:    tmpl.System,
		User:      user,
		MaxTokens: tmpl.MaxTokens,
	}
}

// dataContextSection describes the top retrieved files with columns and a
// couple of sample rows.
func dataContextSection(retrieval models.RetrievalResult) string {
	if len(retrieval.Documents) == 0 {
		return "No specific files found. Please specify which data to analyze."
	}

	var sb strings.Builder
	docs := retrieval.Documents
	if len(docs) > 3 {
		docs = docs[:3]
	}
	for _, doc := range docs {
		fmt.Fprintf(&sb, "File: %s (%s)\n", doc.FileName, doc.FilePath)
		if len(doc.Columns) > 0 {
			cols := doc.Columns
			if len(cols) > 10 {
				cols = cols[:10]
			}
			fmt.Fprintf(&sb, "Columns: %s\n", strings.Join(cols, ", "))
		}
		if doc.Sample != nil && len(doc.Sample.Rows) > 0 {
			sb.WriteString("Sample rows:\n")
			rows := doc.Sample.Rows
			if len(rows) > 2 {
				rows = rows[:2]
			}
			for _, row := range rows {
				sb.WriteString("  " + formatSampleRow(doc.Sample.Columns, row, 5) + "\n")
			}
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Summary: %d files, %d unique columns",
		retrieval.Metadata.TotalFiles, retrieval.Metadata.ColumnCount)
	return sb.String()
}

func formatSampleRow(columns []string, row map[string]string, maxCols int) string {
	if len(columns) > maxCols {
		columns = columns[:maxCols]
	}
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, fmt.Sprintf("%s=%s", col, row[col]))
	}
	return strings.Join(parts, ", ")
}

// conversationSection renders the last few completed turns for continuity,
// plus an older similar exchange when one exists outside that window.
func conversationSection(sess *session.Session, query string) string {
	if sess == nil {
		return "No previous conversation history."
	}
	turns := sess.RecentTurns(3)
	if len(turns) == 0 {
		return "No previous conversation history."
	}

	var sb strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&sb, "Previous Query: %s\n", turn.UserQuery)
		response := turn.Response
		if len(response) > 200 {
			response = response[:200] + "..."
		}
		fmt.Fprintf(&sb, "Response: %s\n", response)
		if turn.GeneratedCode != "" {
			sb.WriteString("Code Generated: Yes\n")
		}
		sb.WriteString("---\n")
	}

	recent := make(map[string]struct{}, len(turns))
	for _, turn := range turns {
		recent[turn.TurnID] = struct{}{}
	}
	for _, similar := range sess.SimilarPastQueries(query, 2) {
		if _, inWindow := recent[similar.TurnID]; inWindow {
			continue
		}
		fmt.Fprintf(&sb, "Related earlier query: %s\n", similar.UserQuery)
		break
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
