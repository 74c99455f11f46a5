package session

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/lab-agent/internal/models"
)

var (
	ErrNoActiveTurn   = errors.New("no active conversation turn")
	ErrTurnInProgress = errors.New("a conversation turn is already in progress")
)

// FileContext tracks a dataset the session currently considers in focus.
type FileContext struct {
	FilePath       string            `json:"file_path"`
	FileName       string            `json:"file_name"`
	Columns        []string          `json:"columns,omitempty"`
	AppliedFilters map[string]string `json:"applied_filters,omitempty"`
	LastAccessed   time.Time         `json:"last_accessed"`
}

// ConversationTurn is a single query/response exchange. Immutable once
// appended to the session history.
type ConversationTurn struct {
	TurnID                string              `json:"turn_id"`
	UserQuery             string              `json:"user_query"`
	Intent                models.Intent       `json:"intent,omitempty"`
	Entities              map[string][]string `json:"entities,omitempty"`
	ClarificationNeeded   bool                `json:"clarification_needed"`
	ClarificationQuestion string              `json:"clarification_question,omitempty"`
	Response              string              `json:"response,omitempty"`
	GeneratedCode         string              `json:"generated_code,omitempty"`
	ExecutionResult       string              `json:"execution_result,omitempty"`
	Timestamp             time.Time           `json:"timestamp"`
}

// TurnCompletion carries the fields recorded when a turn completes.
type TurnCompletion struct {
	Intent                models.Intent
	Entities              map[string][]string
	Response              string
	GeneratedCode         string
	ExecutionResult       string
	ClarificationNeeded   bool
	ClarificationQuestion string
}

// Session holds conversational state for one user session. Sessions are not
// safe for concurrent use on their own; the Manager serializes access per
// session ID.
type Session struct {
	ID            string                  `json:"session_id"`
	CreatedAt     time.Time               `json:"created_at"`
	LastActivity  time.Time               `json:"last_activity"`
	History       []ConversationTurn      `json:"conversation_history"`
	FocusedFiles  map[string]*FileContext `json:"focused_files"`
	GlobalFilters map[string]string       `json:"global_filters"`
	Preferences   map[string]string       `json:"preferences"`

	current *ConversationTurn
}

// New creates a session. An empty id generates a fresh one.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		ID:            id,
		CreatedAt:     now,
		LastActivity:  now,
		FocusedFiles:  make(map[string]*FileContext),
		GlobalFilters: make(map[string]string),
		Preferences: map[string]string{
			"visualization_style":            "standard",
			"statistical_significance_level": "0.05",
			"max_display_rows":               "100",
			"preferred_file_format":          "csv",
		},
	}
}

// StartTurn opens a new in-flight turn. At most one turn may be in flight.
func (s *Session) StartTurn(query string) (*ConversationTurn, error) {
	if s.current != nil {
		return nil, ErrTurnInProgress
	}
	s.current = &ConversationTurn{
		TurnID:    uuid.NewString(),
		UserQuery: query,
		Timestamp: time.Now().UTC(),
	}
	s.LastActivity = time.Now().UTC()
	return s.current, nil
}

// CompleteTurn finalizes the in-flight turn and appends it to the history.
func (s *Session) CompleteTurn(done TurnCompletion) error {
	if s.current == nil {
		return ErrNoActiveTurn
	}
	s.current.Intent = done.Intent
	s.current.Entities = done.Entities
	s.current.Response = done.Response
	s.current.GeneratedCode = done.GeneratedCode
	s.current.ExecutionResult = done.ExecutionResult
	s.current.ClarificationNeeded = done.ClarificationNeeded
	s.current.ClarificationQuestion = done.ClarificationQuestion

	s.History = append(s.History, *s.current)
	s.current = nil
	s.LastActivity = time.Now().UTC()
	return nil
}

// AbortTurn discards the in-flight turn, if any. Called on every abnormal
// exit path so a failed pipeline never leaves the session mid-turn.
func (s *Session) AbortTurn() {
	s.current = nil
	s.LastActivity = time.Now().UTC()
}

// TurnInProgress reports whether a turn is currently in flight.
func (s *Session) TurnInProgress() bool {
	return s.current != nil
}

// AddFileFocus adds or refreshes a file in the session's focus.
func (s *Session) AddFileFocus(filePath, fileName string, columns []string) {
	s.FocusedFiles[filePath] = &FileContext{
		FilePath:     filePath,
		FileName:     fileName,
		Columns:      columns,
		LastAccessed: time.Now().UTC(),
	}
}

// ApplyFileFilter records a filter against a focused file.
func (s *Session) ApplyFileFilter(filePath, name, value string) {
	fc, ok := s.FocusedFiles[filePath]
	if !ok {
		return
	}
	if fc.AppliedFilters == nil {
		fc.AppliedFilters = make(map[string]string)
	}
	fc.AppliedFilters[name] = value
	fc.LastAccessed = time.Now().UTC()
}

// ApplyGlobalFilter records a filter applied across all focused files.
func (s *Session) ApplyGlobalFilter(name, value string) {
	s.GlobalFilters[name] = value
}

// FocusedFileNames returns the names of the files currently in focus.
func (s *Session) FocusedFileNames() []string {
	names := make([]string, 0, len(s.FocusedFiles))
	for _, fc := range s.FocusedFiles {
		names = append(names, fc.FileName)
	}
	return names
}

// RecentTurns returns up to n most recent completed turns, oldest first.
func (s *Session) RecentTurns(n int) []ConversationTurn {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) > n {
		return s.History[len(s.History)-n:]
	}
	return s.History
}

// ClearFocus drops all focused files and global filters.
func (s *Session) ClearFocus() {
	s.FocusedFiles = make(map[string]*FileContext)
	s.GlobalFilters = make(map[string]string)
}

// UpdatePreference sets a user preference.
func (s *Session) UpdatePreference(key, value string) {
	s.Preferences[key] = value
}

// SimilarPastQueries returns completed turns whose queries share at least
// two words with the given query, most recent first.
func (s *Session) SimilarPastQueries(query string, limit int) []ConversationTurn {
	current := wordSet(query)
	var similar []ConversationTurn
	for i := len(s.History) - 1; i >= 0 && len(similar) < limit; i-- {
		turn := s.History[i]
		if turn.Response == "" {
			continue
		}
		overlap := 0
		for w := range wordSet(turn.UserQuery) {
			if _, ok := current[w]; ok {
				overlap++
			}
		}
		if overlap >= 2 {
			similar = append(similar, turn)
		}
	}
	return similar
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
