package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/lab-agent/internal/models"
)

func TestTurnLifecycle(t *testing.T) {
	s := New("")
	require.NotEmpty(t, s.ID)
	assert.False(t, s.TurnInProgress())

	turn, err := s.StartTurn("show glucose levels")
	require.NoError(t, err)
	assert.NotEmpty(t, turn.TurnID)
	assert.True(t, s.TurnInProgress())

	_, err = s.StartTurn("another query")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	err = s.CompleteTurn(TurnCompletion{
		Intent:   models.IntentDataVisualization,
		Response: "Here is the plot",
	})
	require.NoError(t, err)
	assert.False(t, s.TurnInProgress())
	require.Len(t, s.History, 1)
	assert.Equal(t, "show glucose levels", s.History[0].UserQuery)
	assert.Equal(t, models.IntentDataVisualization, s.History[0].Intent)
}

func TestCompleteTurnWithoutStart(t *testing.T) {
	s := New("s1")
	err := s.CompleteTurn(TurnCompletion{Response: "x"})
	assert.ErrorIs(t, err, ErrNoActiveTurn)
}

func TestAbortTurnDiscardsInFlight(t *testing.T) {
	s := New("s1")
	_, err := s.StartTurn("broken query")
	require.NoError(t, err)

	s.AbortTurn()
	assert.False(t, s.TurnInProgress())
	assert.Empty(t, s.History)

	// A fresh turn can start after an abort.
	_, err = s.StartTurn("retry")
	assert.NoError(t, err)
}

func TestFileFocus(t *testing.T) {
	s := New("s1")
	s.AddFileFocus("/data/glucose_levels.csv", "glucose_levels.csv", []string{"patient_id", "glucose"})
	s.AddFileFocus("/data/lipids.csv", "lipids.csv", nil)

	names := s.FocusedFileNames()
	assert.ElementsMatch(t, []string{"glucose_levels.csv", "lipids.csv"}, names)

	s.ApplyFileFilter("/data/glucose_levels.csv", "glucose", "> 100")
	assert.Equal(t, "> 100", s.FocusedFiles["/data/glucose_levels.csv"].AppliedFilters["glucose"])

	// Filters on unfocused files are ignored.
	s.ApplyFileFilter("/data/unknown.csv", "a", "b")

	s.ClearFocus()
	assert.Empty(t, s.FocusedFiles)
}

func TestRecentTurns(t *testing.T) {
	s := New("s1")
	for i := 0; i < 5; i++ {
		_, err := s.StartTurn("query")
		require.NoError(t, err)
		require.NoError(t, s.CompleteTurn(TurnCompletion{Response: "ok"}))
	}

	assert.Len(t, s.RecentTurns(3), 3)
	assert.Len(t, s.RecentTurns(10), 5)
	assert.Nil(t, s.RecentTurns(0))
}

func TestSimilarPastQueries(t *testing.T) {
	s := New("s1")
	queries := []string{
		"plot glucose distribution",
		"show cholesterol levels",
		"compare glucose distribution by group",
	}
	for _, q := range queries {
		_, err := s.StartTurn(q)
		require.NoError(t, err)
		require.NoError(t, s.CompleteTurn(TurnCompletion{Response: "done"}))
	}

	similar := s.SimilarPastQueries("glucose distribution histogram", 5)
	require.Len(t, similar, 2)
	// Most recent first.
	assert.Equal(t, "compare glucose distribution by group", similar[0].UserQuery)
}

func TestDefaultPreferences(t *testing.T) {
	s := New("s1")
	assert.Equal(t, "0.05", s.Preferences["statistical_significance_level"])

	s.UpdatePreference("visualization_style", "minimal")
	assert.Equal(t, "minimal", s.Preferences["visualization_style"])
}
