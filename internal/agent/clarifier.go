package agent

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xaenox/lab-agent/internal/models"
	"github.com/xaenox/lab-agent/internal/registry"
	"github.com/xaenox/lab-agent/internal/session"
	"go.uber.org/zap"
)

// missingInfo is one category of information the clarifier found absent or
// unresolvable, with a user-facing suggestion for supplying it.
type missingInfo struct {
	category   string
	suggestion string
}

// Clarifier decides whether a classified query carries enough information
// to act on, and phrases the single highest-priority clarification question
// when it does not. Priority runs file, then column, then method, then
// visualization type.
type Clarifier struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func NewClarifier(reg *registry.Registry, logger *zap.Logger) *Clarifier {
	return &Clarifier{
		registry: reg,
		logger:   logger,
	}
}

// Check inspects the classified query against the known files and schemas.
// The session supplies already-focused files, which satisfy the file
// requirement without re-stating it in every turn.
func (c *Clarifier) Check(intent models.Intent, entities map[string][]string, sess *session.Session) models.ClarificationResult {
	var missing []missingInfo

	missing = append(missing, c.checkFiles(entities, sess)...)
	missing = append(missing, c.checkColumns(intent, entities)...)
	missing = append(missing, c.checkMethod(intent, entities)...)
	missing = append(missing, c.checkVisualization(intent, entities)...)

	if len(missing) == 0 {
		return models.ClarificationResult{
			Status:     models.StatusReady,
			Confidence: 1.0,
		}
	}

	categories := make([]string, len(missing))
	for i, m := range missing {
		categories[i] = m.category
	}
	c.logger.Debug("clarification needed",
		zap.String("intent", string(intent)),
		zap.Strings("missing", categories))

	return models.ClarificationResult{
		Status:      models.StatusClarificationNeeded,
		MissingInfo: categories,
		Question:    clarificationQuestion(missing[0]),
		Suggestions: suggestionList(missing),
		Confidence:  0.8,
	}
}

func (c *Clarifier) checkFiles(entities map[string][]string, sess *session.Session) []missingInfo {
	available := c.registry.List()
	fileEntities := entities[models.LabelFiles]

	if len(fileEntities) == 0 {
		if sess != nil && len(sess.FocusedFileNames()) > 0 {
			return nil
		}
		return []missingInfo{{
			category:   "file_specification",
			suggestion: "Available files: " + joinBaseNames(available, 5),
		}}
	}

	for _, name := range fileEntities {
		matches := fuzzyFileMatches(name, available)
		if len(matches) == 0 {
			return []missingInfo{{
				category:   "valid_file",
				suggestion: "Did you mean: " + joinBaseNames(available, 3) + "?",
			}}
		}
		if len(matches) > 1 {
			return []missingInfo{{
				category:   "specific_file",
				suggestion: "Multiple files match. Please specify: " + joinBaseNames(matches, 5),
			}}
		}
	}
	return nil
}

func (c *Clarifier) checkColumns(intent models.Intent, entities map[string][]string) []missingInfo {
	switch intent {
	case models.IntentDataVisualization, models.IntentStatisticalAnalysis, models.IntentDataCleaning:
	default:
		return nil
	}

	columns := append([]string{}, entities[models.LabelColumns]...)
	columns = append(columns, entities[models.LabelPotentialColumn]...)
	if len(columns) == 0 {
		return []missingInfo{{
			category:   "column_specification",
			suggestion: "Please specify which columns to analyze",
		}}
	}

	schemas := c.registry.Schemas()
	if len(schemas) == 0 {
		return nil
	}

	for _, col := range columns {
		if columnKnown(col, schemas) {
			return nil
		}
	}
	return []missingInfo{{
		category:   "valid_columns",
		suggestion: "Available columns: " + schemaSummary(schemas, 3),
	}}
}

func (c *Clarifier) checkMethod(intent models.Intent, entities map[string][]string) []missingInfo {
	if intent != models.IntentStatisticalAnalysis {
		return nil
	}
	if len(entities[models.LabelStatisticalMethods]) > 0 {
		return nil
	}
	return []missingInfo{{
		category:   "statistical_method",
		suggestion: "Available methods: t-test, ANOVA, correlation, regression, chi-square",
	}}
}

func (c *Clarifier) checkVisualization(intent models.Intent, entities map[string][]string) []missingInfo {
	if intent != models.IntentDataVisualization {
		return nil
	}
	if len(entities[models.LabelVisualizationTypes]) > 0 {
		return nil
	}
	return []missingInfo{{
		category:   "visualization_type",
		suggestion: "Available plots: histogram, scatter, boxplot, heatmap, bar chart",
	}}
}

// clarificationQuestion phrases the question for the highest-priority
// missing category.
func clarificationQuestion(m missingInfo) string {
	switch m.category {
	case "file_specification":
		return fmt.Sprintf("Which file would you like to analyze? %s", m.suggestion)
	case "valid_file":
		return fmt.Sprintf("I couldn't find that file. %s", m.suggestion)
	case "specific_file":
		return fmt.Sprintf("Multiple files match your request. %s", m.suggestion)
	case "column_specification":
		return fmt.Sprintf("Which columns or variables would you like to analyze? %s", m.suggestion)
	case "valid_columns":
		return fmt.Sprintf("I couldn't find those columns. %s", m.suggestion)
	case "statistical_method":
		return fmt.Sprintf("Which statistical test would you like to perform? %s", m.suggestion)
	case "visualization_type":
		return fmt.Sprintf("What type of plot would you like to create? %s", m.suggestion)
	default:
		return "Could you provide more details about what you'd like to do?"
	}
}

func suggestionList(missing []missingInfo) []string {
	out := make([]string, len(missing))
	for i, m := range missing {
		out[i] = m.suggestion
	}
	return out
}

// fuzzyFileMatches is a case-insensitive substring match in either
// direction, so both "glucose" and "glucose_levels.csv" resolve against a
// file named glucose_levels.csv.
func fuzzyFileMatches(name string, available []string) []string {
	var matches []string
	nameLower := strings.ToLower(name)
	for _, path := range available {
		baseLower := strings.ToLower(filepath.Base(path))
		if strings.Contains(baseLower, nameLower) || strings.Contains(nameLower, baseLower) {
			matches = append(matches, path)
		}
	}
	return matches
}

func columnKnown(col string, schemas map[string][]string) bool {
	colLower := strings.ToLower(col)
	for _, cols := range schemas {
		for _, known := range cols {
			knownLower := strings.ToLower(known)
			if strings.Contains(knownLower, colLower) || strings.Contains(colLower, knownLower) {
				return true
			}
		}
	}
	return false
}

func joinBaseNames(paths []string, limit int) string {
	if len(paths) > limit {
		paths = paths[:limit]
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return strings.Join(names, ", ")
}

func schemaSummary(schemas map[string][]string, perFile int) string {
	paths := make([]string, 0, len(schemas))
	for path := range schemas {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		cols := schemas[path]
		if len(cols) > perFile {
			cols = cols[:perFile]
		}
		parts = append(parts, fmt.Sprintf("%s: %s", filepath.Base(path), strings.Join(cols, ", ")))
	}
	return strings.Join(parts, "; ")
}
