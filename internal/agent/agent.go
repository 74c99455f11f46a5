// Package agent implements the conversational pipeline that turns natural
// language queries about laboratory datasets into clarification questions
// or executed analyses.
package agent

import (
	"context"
	"path/filepath"
	"time"

	"github.com/xaenox/lab-agent/internal/llm"
	"github.com/xaenox/lab-agent/internal/models"
	"github.com/xaenox/lab-agent/internal/registry"
	"github.com/xaenox/lab-agent/internal/session"
	"go.uber.org/zap"
)

// Agent wires the pipeline stages together and drives one conversation
// turn per Query call. Turns for the same session are serialized by the
// session manager.
type Agent struct {
	classifier *IntentClassifier
	extractor  *EntityExtractor
	clarifier  *Clarifier
	retriever  *Retriever
	prompts    *PromptBuilder
	executor   *Executor
	llm        llm.Client
	sessions   *session.Manager
	registry   *registry.Registry
	logger     *zap.Logger
}

// Config bundles the collaborators the agent needs.
type Config struct {
	Classifier *IntentClassifier
	Extractor  *EntityExtractor
	Clarifier  *Clarifier
	Retriever  *Retriever
	Prompts    *PromptBuilder
	Executor   *Executor
	LLM        llm.Client
	Sessions   *session.Manager
	Registry   *registry.Registry
	Logger     *zap.Logger
}

func New(cfg Config) *Agent {
	return &Agent{
		classifier: cfg.Classifier,
		extractor:  cfg.Extractor,
		clarifier:  cfg.Clarifier,
		retriever:  cfg.Retriever,
		prompts:    cfg.Prompts,
		executor:   cfg.Executor,
		llm:        cfg.LLM,
		sessions:   cfg.Sessions,
		registry:   cfg.Registry,
		logger:     cfg.Logger,
	}
}

// Query processes one user query end to end. It never returns a pipeline
// error to the caller; failures produce an error-intent response. The
// returned session ID is the one the turn ran under, generated fresh when
// the request carried none.
func (a *Agent) Query(ctx context.Context, sessionID, query string) (models.AgentResponse, string) {
	start := time.Now()
	var response models.AgentResponse

	id, err := a.sessions.Do(sessionID, func(sess *session.Session) error {
		response = a.runTurn(ctx, sess, query)
		return nil
	})
	if err != nil {
		a.logger.Error("session handling failed",
			zap.Error(err),
			zap.String("session_id", sessionID))
		response = errorResponse()
	}

	response.SessionID = id
	response.ProcessingTime = time.Since(start).Seconds()
	return response, id
}

// runTurn executes the pipeline inside the session lock. A panic in any
// stage is converted to an error response and the in-flight turn is
// aborted so the session never sticks mid-turn.
func (a *Agent) runTurn(ctx context.Context, sess *session.Session, query string) (response models.AgentResponse) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("pipeline panic",
				zap.Any("panic", r),
				zap.String("session_id", sess.ID),
				zap.String("query", query))
			if sess.TurnInProgress() {
				sess.AbortTurn()
			}
			response = errorResponse()
		}
	}()

	if _, err := sess.StartTurn(query); err != nil {
		a.logger.Warn("could not start turn", zap.Error(err), zap.String("session_id", sess.ID))
		return errorResponse()
	}

	qc := &QueryContext{
		FocusedFiles:     sess.FocusedFileNames(),
		AvailableFiles:   a.registry.List(),
		AvailableColumns: a.registry.AllColumns(),
	}

	intentResult := a.classifier.Classify(ctx, query, qc)
	extraction := a.extractor.Extract(ctx, query, qc)
	entities := mergeEntityMaps(intentResult.Entities, extraction.Structured)

	a.logger.Info("query classified",
		zap.String("session_id", sess.ID),
		zap.String("intent", string(intentResult.PrimaryIntent)),
		zap.Float64("intent_confidence", intentResult.Confidence),
		zap.Int("entity_count", len(extraction.Entities)))

	clarification := a.clarifier.Check(intentResult.PrimaryIntent, entities, sess)
	if clarification.Status == models.StatusClarificationNeeded {
		return a.completeClarificationTurn(sess, intentResult, entities, clarification)
	}

	retrieval := a.retriever.Retrieve(ctx, query, entities, nil)
	a.focusRetrievedFiles(sess, retrieval)

	prompt := a.prompts.Build(intentResult.PrimaryIntent, query, retrieval, sess)

	var completion string
	if a.llm == nil {
		completion = llm.DegradedMessage(llm.ErrNotConfigured)
	} else {
		var err error
		completion, err = a.llm.Complete(ctx, prompt.System, prompt.User)
		if err != nil {
			a.logger.Warn("completion failed, degrading",
				zap.Error(err),
				zap.String("session_id", sess.ID))
			completion = llm.DegradedMessage(err)
		}
	}

	formatted := a.executor.Process(ctx, completion, query, intentResult.PrimaryIntent, retrieval.FilePaths)

	confidence := overallConfidence(intentResult.Confidence, extraction.Confidence, retrieval.Confidence)

	if err := sess.CompleteTurn(session.TurnCompletion{
		Intent:          intentResult.PrimaryIntent,
		Entities:        entities,
		Response:        formatted.Message,
		GeneratedCode:   formatted.Code,
		ExecutionResult: formatted.ExecutionResult,
	}); err != nil {
		a.logger.Error("completing turn failed", zap.Error(err), zap.String("session_id", sess.ID))
	}

	return models.AgentResponse{
		Message:             formatted.Message,
		Code:                formatted.Code,
		ExecutionResult:     formatted.ExecutionResult,
		CodeType:            formatted.CodeType,
		Attachments:         formatted.Attachments,
		FollowUpSuggestions: formatted.FollowUpSuggestions,
		Intent:              intentResult.PrimaryIntent,
		Entities:            entities,
		Confidence:          confidence,
	}
}

// completeClarificationTurn records the clarification exchange as a
// finished turn so the user's follow-up starts clean.
func (a *Agent) completeClarificationTurn(sess *session.Session, intentResult models.IntentResult, entities map[string][]string, clarification models.ClarificationResult) models.AgentResponse {
	if err := sess.CompleteTurn(session.TurnCompletion{
		Intent:                intentResult.PrimaryIntent,
		Entities:              entities,
		Response:              clarification.Question,
		ClarificationNeeded:   true,
		ClarificationQuestion: clarification.Question,
	}); err != nil {
		a.logger.Error("completing clarification turn failed", zap.Error(err), zap.String("session_id", sess.ID))
	}

	return models.AgentResponse{
		Message:             clarification.Question,
		FollowUpSuggestions: clarification.Suggestions,
		Intent:              intentResult.PrimaryIntent,
		Entities:            entities,
		ClarificationNeeded: true,
		Confidence:          clarification.Confidence,
	}
}

// focusRetrievedFiles adds retrieved files to the session focus so later
// turns can omit the file name.
func (a *Agent) focusRetrievedFiles(sess *session.Session, retrieval models.RetrievalResult) {
	for _, doc := range retrieval.Documents {
		name := doc.FileName
		if name == "" {
			name = filepath.Base(doc.FilePath)
		}
		sess.AddFileFocus(doc.FilePath, name, doc.Columns)
	}
}

// mergeEntityMaps merges classifier entities with extractor entities. The
// extractor's values win per label; it validated against the registry.
func mergeEntityMaps(fromIntent, fromExtractor map[string][]string) map[string][]string {
	merged := make(map[string][]string, len(fromIntent)+len(fromExtractor))
	for label, values := range fromIntent {
		merged[label] = append([]string{}, values...)
	}
	for label, values := range fromExtractor {
		merged[label] = append([]string{}, values...)
	}
	return merged
}

// overallConfidence weights retrieval slightly over classification and
// extraction.
func overallConfidence(intent, entity, retrieval float64) float64 {
	return clamp(0.3*intent + 0.3*entity + 0.4*retrieval)
}

func errorResponse() models.AgentResponse {
	return models.AgentResponse{
		Message:    "I encountered an unexpected error while processing your request. Please try again.",
		Intent:     models.IntentError,
		Confidence: 0,
	}
}
