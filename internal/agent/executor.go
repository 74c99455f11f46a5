package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/lab-agent/internal/models"
	"github.com/xaenox/lab-agent/internal/sandbox"
	"go.uber.org/zap"
)

var (
	fencedGoRe   = regexp.MustCompile("(?s)```go\\s*\\n(.*?)```")
	fencedAnyRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")
	plotCallRe   = regexp.MustCompile(`\b(plot|chart|histogram|scatter|heatmap)\b`)
	plotMarkerRe = regexp.MustCompile(`(?m)^Plots created:\s*(.+)$`)
	dataMarkerRe = regexp.MustCompile(`(?m)^Data exported:\s*(.+)$`)
)

var followUpSuggestions = map[models.Intent][]string{
	models.IntentDataVisualization: {
		"Would you like to change the plot type?",
		"Should I add a trend line or grouping?",
		"Want to visualize a different column?",
	},
	models.IntentStatisticalAnalysis: {
		"Would you like to test a different variable?",
		"Should I check the test's assumptions?",
		"Want a visualization of these results?",
	},
	models.IntentFileSummary: {
		"Would you like detailed statistics for a specific column?",
		"Should I check for missing values?",
		"Want to compare this file with another?",
	},
	models.IntentDataCleaning: {
		"Would you like to see the rows that were removed?",
		"Should I export the cleaned dataset?",
		"Want summary statistics for the cleaned data?",
	},
}

// Executor turns a model completion into a user-facing response: extract
// the generated code, run it in the sandbox, and format the outcome with
// follow-up suggestions. Process never returns an error; every failure
// becomes a formatted message.
type Executor struct {
	runner  sandbox.Runner
	timeout time.Duration
	logger  *zap.Logger
}

func NewExecutor(runner sandbox.Runner, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
}

// Process formats the completion for the user, running extracted code when
// a runner is configured.
func (e *Executor) Process(ctx context.Context, completion, query string, intent models.Intent, filePaths []string) models.FormattedResponse {
	code := extractCode(completion)
	message := strings.TrimSpace(stripFencedBlocks(completion))

	response := models.FormattedResponse{
		Message: message,
		Code:    code,
	}
	if code != "" {
		response.CodeType = "go"
	}

	var execOutput string
	if code != "" && e.runner != nil {
		execOutput = e.execute(ctx, code, filePaths)
		response.ExecutionResult = execOutput
	}

	response.FollowUpSuggestions = buildSuggestions(intent, code, execOutput)
	response.Attachments = extractAttachments(execOutput)

	if response.Message == "" {
		if execOutput != "" {
			response.Message = "Analysis complete."
		} else {
			response.Message = completion
		}
	}
	return response
}

func (e *Executor) execute(ctx context.Context, code string, filePaths []string) string {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.runner.Run(runCtx, code, filePaths)
	if err != nil {
		e.logger.Warn("snippet execution failed", zap.Error(err))
		if errors.Is(err, sandbox.ErrTimeout) {
			return "Execution failed:\nThe analysis took too long and was stopped."
		}
		return "Execution failed:\n" + err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Execution successful:\n")
	if out := strings.TrimSpace(result.Stdout); out != "" {
		sb.WriteString(out + "\n")
	}
	if result.HasValue {
		sb.WriteString(formatResultValue(result) + "\n")
	}
	fmt.Fprintf(&sb, "Execution time: %.2fs\n", result.Duration.Seconds())
	if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
		sb.WriteString("Warnings:\n" + errOut + "\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// formatResultValue renders the snippet's result variable. Tables get a
// shape line and a head preview; everything else is truncated text.
func formatResultValue(result sandbox.Result) string {
	switch v := result.Raw.(type) {
	case [][]string:
		return formatTable(v)
	case []map[string]string:
		return formatTable(recordsToTable(v))
	case []string:
		return fmt.Sprintf("List with %d elements: %s", len(v), truncate(strings.Join(v, ", "), 500))
	case []float64:
		return fmt.Sprintf("List with %d elements: %s", len(v), truncate(fmt.Sprintf("%v", v), 500))
	case []int:
		return fmt.Sprintf("List with %d elements: %s", len(v), truncate(fmt.Sprintf("%v", v), 500))
	default:
		return truncate(result.Value, 1000)
	}
}

func formatTable(rows [][]string) string {
	if len(rows) == 0 {
		return "Empty table"
	}
	cols := len(rows[0])
	var sb strings.Builder
	fmt.Fprintf(&sb, "Table with %d rows x %d columns\n", len(rows), cols)
	head := rows
	if len(head) > 6 {
		head = head[:6]
	}
	for _, row := range head {
		sb.WriteString(strings.Join(row, " | ") + "\n")
	}
	if len(rows) > 6 {
		fmt.Fprintf(&sb, "... (%d more rows)", len(rows)-6)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// recordsToTable flattens row maps into a header-plus-rows table with a
// stable column order.
func recordsToTable(records []map[string]string) [][]string {
	seen := make(map[string]struct{})
	var header []string
	for _, rec := range records {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				header = append(header, k)
			}
		}
	}
	sort.Strings(header)

	table := [][]string{header}
	for _, rec := range records {
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = rec[k]
		}
		table = append(table, row)
	}
	return table
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// extractCode pulls generated code from the completion. Fenced blocks win;
// without fences a line heuristic collects the code-shaped prefix run.
func extractCode(completion string) string {
	if m := fencedGoRe.FindStringSubmatch(completion); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := fencedAnyRe.FindStringSubmatch(completion); m != nil {
		return strings.TrimSpace(m[1])
	}
	return heuristicCode(completion)
}

func heuristicCode(completion string) string {
	var lines []string
	collecting := false
	for _, line := range strings.Split(completion, "\n") {
		trimmed := strings.TrimSpace(line)
		codeLike := strings.Contains(line, ":=") ||
			strings.HasPrefix(trimmed, "import ") ||
			strings.HasPrefix(trimmed, "func ") ||
			strings.HasPrefix(trimmed, "result")
		switch {
		case codeLike:
			collecting = true
			lines = append(lines, line)
		case collecting && (trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "    ") || trimmed == "}" || strings.HasSuffix(trimmed, "{")):
			lines = append(lines, line)
		case collecting:
			return strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripFencedBlocks(completion string) string {
	return fencedAnyRe.ReplaceAllString(completion, "")
}

func buildSuggestions(intent models.Intent, code, execOutput string) []string {
	suggestions := append([]string{}, followUpSuggestions[intent]...)

	if strings.Contains(strings.ToLower(execOutput), "table") || plotCallRe.MatchString(strings.ToLower(code)) {
		suggestions = append(suggestions, "Would you like to explore this data further?")
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions
}

// extractAttachments synthesizes attachment records from execution output
// markers the generated code is instructed to print.
func extractAttachments(execOutput string) []models.Attachment {
	var attachments []models.Attachment
	for _, m := range plotMarkerRe.FindAllStringSubmatch(execOutput, -1) {
		for _, name := range splitList(m[1]) {
			attachments = append(attachments, models.Attachment{
				Type:        "plot",
				Description: "Generated plot",
				Filename:    name,
			})
		}
	}
	for _, m := range dataMarkerRe.FindAllStringSubmatch(execOutput, -1) {
		for _, name := range splitList(m[1]) {
			attachments = append(attachments, models.Attachment{
				Type:        "file",
				Description: "Exported data file",
				Filename:    name,
			})
		}
	}
	return attachments
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
