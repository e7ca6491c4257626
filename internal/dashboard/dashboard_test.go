package dashboard_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/dashboard"
	"codeberg.org/mutker/posturectl/internal/journal"
	"codeberg.org/mutker/posturectl/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamingState() session.State {
	snap := analysis.DefaultSnapshot()
	snap.OverallScore = 77
	snap.Prediction = analysis.PredictionStrike
	return session.State{
		Phase:    session.PhaseStreaming,
		Source:   session.SourceLive,
		File:     "swing.mp4",
		Snapshot: snap,
		Frame:    make([]byte, 2048),
	}
}

func TestScorecard(t *testing.T) {
	view := dashboard.Scorecard(streamingState(), 120)

	for _, want := range []string{
		"streaming (live)", "swing.mp4", "77.0", "strike",
		"stance", "88.0", "footwork", "79.0", "needs improvement", "frame 2.0 KiB",
	} {
		assert.Contains(t, view, want)
	}
}

func TestScorecardShowsError(t *testing.T) {
	s := session.State{Phase: session.PhaseError, Err: errors.New("backend unreachable")}
	view := dashboard.Scorecard(s, 40)

	assert.Contains(t, view, "error")
	assert.Contains(t, view, "backend unreachable")
	assert.Contains(t, view, "no frame")
}

func TestDrawIsRateLimited(t *testing.T) {
	var out bytes.Buffer
	d := dashboard.New(&out, 0.001, 100, false)

	drawn, err := d.Draw(streamingState(), false)
	require.NoError(t, err)
	assert.True(t, drawn)

	drawn, err = d.Draw(streamingState(), false)
	require.NoError(t, err)
	assert.False(t, drawn, "second draw within the budget is skipped")

	drawn, err = d.Draw(streamingState(), true)
	require.NoError(t, err)
	assert.True(t, drawn)
	assert.Equal(t, 2, strings.Count(out.String(), "Posture analysis"))
}

func TestDrawClearsScreen(t *testing.T) {
	var out bytes.Buffer
	d := dashboard.New(&out, 10, 100, true)

	_, err := d.Draw(session.State{}, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "\x1b[H\x1b[2J"))
}

func TestStats(t *testing.T) {
	assert.Contains(t, dashboard.Stats(analysis.AggregateStats{}), "No analyses yet")

	view := dashboard.Stats(analysis.AggregateStats{
		AnalysisCount:   4,
		AverageScore:    86.4,
		BestMetric:      analysis.BestMetric{Name: "balance", Score: 91},
		Recommendations: []analysis.Recommendation{{Title: "Footwork", Description: "Widen your stance"}},
		HasAnalyzed:     true,
	})
	assert.Contains(t, view, "4")
	assert.Contains(t, view, "86.4")
	assert.Contains(t, view, "balance (91.0)")
	assert.Contains(t, view, "Footwork: Widen your stance")
}

func TestHistory(t *testing.T) {
	assert.Contains(t, dashboard.History(nil, 5), "No history")

	records := []analysis.HistoryRecord{
		{Timestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), Score: 92.5, Prediction: "strike"},
		{Timestamp: time.Date(2024, 1, 14, 10, 0, 0, 0, time.UTC), Score: 80},
		{Score: 70},
	}
	view := dashboard.History(records, 2)
	lines := strings.Split(view, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "92.5")
	assert.Contains(t, lines[1], "strike")
	assert.Contains(t, lines[2], "80.0")
	assert.Contains(t, lines[2], "-")
}

func TestJournal(t *testing.T) {
	assert.Contains(t, dashboard.Journal(nil), "Journal is empty")

	view := dashboard.Journal([]journal.Entry{{
		Timestamp: time.Now(),
		SessionID: "s1",
		Source:    "demo",
		Snapshot:  analysis.Snapshot{OverallScore: 88, Prediction: "ball"},
	}})
	assert.Contains(t, view, "demo")
	assert.Contains(t, view, "88.0")
	assert.Contains(t, view, "ball")
	assert.Contains(t, view, "no")
}
