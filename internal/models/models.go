package models

import "time"

// Intent is one of the fixed set of laboratory data analysis intents.
type Intent string

const (
	IntentSearchRetrieval      Intent = "search_retrieval"
	IntentMetadataQuery        Intent = "metadata_query"
	IntentDataVisualization    Intent = "data_visualization"
	IntentStatisticalAnalysis  Intent = "statistical_analysis"
	IntentDataCleaning         Intent = "data_cleaning"
	IntentNewDatasetGeneration Intent = "new_dataset_generation"
	IntentFileSummary          Intent = "file_summary"
	IntentCodeGeneration       Intent = "code_generation"
	IntentScientificQuestion   Intent = "scientific_question"
	IntentAccessPermission     Intent = "access_permission"
	IntentHelpInstruction      Intent = "help_instruction"

	// IntentError is not a classification outcome; it marks responses
	// produced after an unrecoverable pipeline failure.
	IntentError Intent = "error"
)

// AllIntents returns the classifiable intents (IntentError excluded).
func AllIntents() []Intent {
	return []Intent{
		IntentSearchRetrieval,
		IntentMetadataQuery,
		IntentDataVisualization,
		IntentStatisticalAnalysis,
		IntentDataCleaning,
		IntentNewDatasetGeneration,
		IntentFileSummary,
		IntentCodeGeneration,
		IntentScientificQuestion,
		IntentAccessPermission,
		IntentHelpInstruction,
	}
}

// Valid reports whether i is a classifiable intent.
func (i Intent) Valid() bool {
	for _, known := range AllIntents() {
		if i == known {
			return true
		}
	}
	return false
}

// Entity label vocabulary.
const (
	LabelFiles              = "files"
	LabelColumns            = "columns"
	LabelStatisticalMethods = "statistical_methods"
	LabelVisualizationTypes = "visualization_types"
	LabelOperations         = "operations"
	LabelNumericalValues    = "numerical_values"
	LabelComparisons        = "comparisons"
	LabelTimeReferences     = "time_references"
	LabelLaboratoryTerms    = "laboratory_terms"
	LabelPotentialColumn    = "potential_column"
	LabelPotentialFile      = "potential_file"
)

// Entity is a typed span of text extracted from a query.
type Entity struct {
	Text       string            `json:"text"`
	Label      string            `json:"label"`
	Confidence float64           `json:"confidence"`
	StartPos   int               `json:"start_pos,omitempty"`
	EndPos     int               `json:"end_pos,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IntentResult is the outcome of intent classification.
type IntentResult struct {
	PrimaryIntent    Intent              `json:"primary_intent"`
	SecondaryIntents []Intent            `json:"secondary_intents,omitempty"`
	Confidence       float64             `json:"confidence"`
	Reasoning        string              `json:"reasoning,omitempty"`
	Entities         map[string][]string `json:"entities,omitempty"`
}

// ExtractionResult is the outcome of entity extraction.
type ExtractionResult struct {
	Entities   []Entity            `json:"entities"`
	Structured map[string][]string `json:"structured_entities"`
	Confidence float64             `json:"confidence"`
}

// ClarificationStatus indicates whether a query can proceed to analysis.
type ClarificationStatus string

const (
	StatusReady               ClarificationStatus = "ready"
	StatusClarificationNeeded ClarificationStatus = "clarification_needed"
	StatusAmbiguous           ClarificationStatus = "ambiguous"
)

// ClarificationResult is the outcome of the clarification check.
// Status is StatusClarificationNeeded exactly when MissingInfo is non-empty.
type ClarificationResult struct {
	Status      ClarificationStatus `json:"status"`
	Question    string              `json:"question,omitempty"`
	Suggestions []string            `json:"suggestions,omitempty"`
	MissingInfo []string            `json:"missing_info,omitempty"`
	Confidence  float64             `json:"confidence"`
}

// SamplePreview holds the first few rows of a dataset for prompt context.
type SamplePreview struct {
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// RetrievedDocument is an enriched dataset descriptor returned by retrieval.
type RetrievedDocument struct {
	FilePath    string         `json:"file_path"`
	FileName    string         `json:"file_name"`
	Description string         `json:"description"`
	Columns     []string       `json:"columns,omitempty"`
	FileSize    int64          `json:"file_size,omitempty"`
	ModifiedAt  time.Time      `json:"modified_at,omitempty"`
	Sample      *SamplePreview `json:"sample,omitempty"`
	Score       float64        `json:"score"`
}

// RetrievalMetadata aggregates metadata across retrieved documents.
type RetrievalMetadata struct {
	TotalFiles     int      `json:"total_files"`
	UniqueColumns  []string `json:"unique_columns,omitempty"`
	FileTypes      []string `json:"file_types,omitempty"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
	ColumnCount    int      `json:"column_count"`
}

// RetrievalResult is the outcome of data retrieval.
type RetrievalResult struct {
	Documents  []RetrievedDocument `json:"documents"`
	FilePaths  []string            `json:"file_paths"`
	Metadata   RetrievalMetadata   `json:"metadata"`
	Confidence float64             `json:"confidence"`
}

// Attachment describes a generated artifact (plot image, exported file).
type Attachment struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// FormattedResponse is the executor's formatted output for one completion.
type FormattedResponse struct {
	Message             string       `json:"message"`
	Code                string       `json:"code,omitempty"`
	ExecutionResult     string       `json:"execution_result,omitempty"`
	CodeType            string       `json:"code_type,omitempty"`
	Attachments         []Attachment `json:"attachments,omitempty"`
	FollowUpSuggestions []string     `json:"follow_up_suggestions,omitempty"`
}

// AgentResponse is the complete structured reply for one query.
type AgentResponse struct {
	SessionID           string              `json:"session_id"`
	Message             string              `json:"message"`
	Code                string              `json:"code,omitempty"`
	ExecutionResult     string              `json:"execution_result,omitempty"`
	CodeType            string              `json:"code_type,omitempty"`
	Attachments         []Attachment        `json:"attachments,omitempty"`
	FollowUpSuggestions []string            `json:"follow_up_suggestions,omitempty"`
	Intent              Intent              `json:"intent"`
	Entities            map[string][]string `json:"entities,omitempty"`
	ClarificationNeeded bool                `json:"clarification_needed"`
	Confidence          float64             `json:"confidence"`
	ProcessingTime      float64             `json:"processing_time"`
}
