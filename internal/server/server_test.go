package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/lab-agent/internal/agent"
	"github.com/xaenox/lab-agent/internal/registry"
	"github.com/xaenox/lab-agent/internal/search"
	"github.com/xaenox/lab-agent/internal/session"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	logger := zap.NewNop()

	reg := registry.New()
	reg.Update([]string{"/data/glucose_levels.csv"}, map[string][]string{
		"/data/glucose_levels.csv": {"patient_id", "glucose"},
	})
	sessions := session.NewManager(session.NewMemoryStore(time.Minute), logger)

	a := agent.New(agent.Config{
		Classifier: agent.NewIntentClassifier(nil, logger),
		Extractor:  agent.NewEntityExtractor(nil, logger),
		Clarifier:  agent.NewClarifier(reg, logger),
		Retriever:  agent.NewRetriever(search.NewIndex(nil, logger), 5, logger),
		Prompts:    agent.NewPromptBuilder(logger),
		Executor:   agent.NewExecutor(nil, time.Second, logger),
		Sessions:   sessions,
		Registry:   reg,
		Logger:     logger,
	})

	reindex := func() (int, error) { return 1, nil }
	return New(a, sessions, reindex, logger), sessions
}

func postJSON(t *testing.T, handler http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := postJSON(t, router, "/api/query", map[string]string{
		"query": "plot a histogram",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		SessionID           string `json:"session_id"`
		Message             string `json:"message"`
		ClarificationNeeded bool   `json:"clarification_needed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.NotEmpty(t, response.SessionID)
	assert.True(t, response.ClarificationNeeded)
	assert.Contains(t, response.Message, "Which file")
}

func TestQueryEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := postJSON(t, router, "/api/query", map[string]string{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader([]byte("{broken")))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestSessionEndpoints(t *testing.T) {
	srv, sessions := newTestServer(t)
	router := srv.Router()

	_, err := sessions.Do("s1", func(s *session.Session) error { return nil })
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "s1")

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/unknown", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/sessions/s1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReindexEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := postJSON(t, router, "/api/files/reindex", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"files":1`)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
