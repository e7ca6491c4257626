package stats_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/backend"
	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/journal"
	"codeberg.org/mutker/posturectl/internal/logger"
	"codeberg.org/mutker/posturectl/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu         sync.Mutex
	stats      analysis.AggregateStats
	history    []analysis.HistoryRecord
	statsErr   error
	historyErr error
	saveErr    error
	saved      []backend.Record
	calls      []string
}

func (f *fakeAPI) FetchAggregateStats(context.Context) (analysis.AggregateStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "analytics")
	return f.stats, f.statsErr
}

func (f *fakeAPI) FetchHistory(context.Context) ([]analysis.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "history")
	return append([]analysis.HistoryRecord(nil), f.history...), f.historyErr
}

func (f *fakeAPI) SaveRecord(_ context.Context, r backend.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "save")
	f.saved = append(f.saved, r)
	return f.saveErr
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(api stats.API, opts ...stats.Option) *stats.Service {
	opts = append([]stats.Option{stats.WithClock(func() time.Time { return fixedNow })}, opts...)
	return stats.New(api, logger.Nop(), opts...)
}

func TestRefreshCachesAndSortsHistory(t *testing.T) {
	api := &fakeAPI{
		stats: analysis.AggregateStats{AnalysisCount: 3, AverageScore: 84.5, HasAnalyzed: true},
		history: []analysis.HistoryRecord{
			{Timestamp: fixedNow.Add(-2 * time.Hour), Score: 80},
			{Timestamp: fixedNow, Score: 90},
		},
	}
	svc := newService(api)

	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 3, svc.Stats().AnalysisCount)
	require.Len(t, svc.History(), 2)
	assert.Equal(t, 90.0, svc.History()[0].Score)
	assert.Equal(t, fixedNow, svc.FetchedAt())
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	api := &fakeAPI{
		stats:   analysis.AggregateStats{AnalysisCount: 1},
		history: []analysis.HistoryRecord{{Timestamp: fixedNow, Score: 81}},
	}
	svc := newService(api)
	require.NoError(t, svc.Refresh(context.Background()))

	api.statsErr = errors.New().New(errors.ErrFetchFailed)
	api.historyErr = errors.New().New(errors.ErrFetchFailed)
	api.stats = analysis.AggregateStats{AnalysisCount: 99}

	err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryPersistence, errors.CategoryOf(err))
	assert.Equal(t, 1, svc.Stats().AnalysisCount)
	assert.Len(t, svc.History(), 1)
}

func TestPersistSessionSavesThenRefreshes(t *testing.T) {
	api := &fakeAPI{stats: analysis.AggregateStats{AnalysisCount: 5}}
	svc := newService(api)

	snap := analysis.DefaultSnapshot()
	snap.OverallScore = 77
	snap.Prediction = analysis.PredictionBall

	require.NoError(t, svc.PersistSession(context.Background(), "abc", "live", snap))

	assert.Equal(t, []string{"save", "analytics", "history"}, api.calls)
	require.Len(t, api.saved, 1)
	assert.Equal(t, 77.0, api.saved[0].Score)
	assert.Equal(t, analysis.PredictionBall, api.saved[0].Prediction)
	assert.Equal(t, "2024-03-01T12:00:00Z", api.saved[0].Timestamp)
	assert.Equal(t, 5, svc.Stats().AnalysisCount)
}

func TestPersistSessionFailureSkipsRefresh(t *testing.T) {
	api := &fakeAPI{saveErr: errors.New().New(errors.ErrPersistFailed)}
	svc := newService(api)

	err := svc.PersistSession(context.Background(), "abc", "live", analysis.DefaultSnapshot())
	require.Error(t, err)
	assert.Equal(t, []string{"save"}, api.calls, "failed saves are not retried")
}

func TestPersistSessionWritesJournal(t *testing.T) {
	rec, err := journal.NewService(journal.Config{
		DBPath:    filepath.Join(t.TempDir(), "journal.db"),
		BatchSize: 1,
		Enabled:   true,
	}, logger.Nop())
	require.NoError(t, err)
	defer rec.Close()

	api := &fakeAPI{saveErr: errors.New().New(errors.ErrPersistFailed)}
	svc := newService(api, stats.WithJournal(rec))

	_ = svc.PersistSession(context.Background(), "offline-1", "demo", analysis.DefaultSnapshot())

	entries, err := rec.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "offline-1", entries[0].SessionID)
	assert.Equal(t, "demo", entries[0].Source)
	assert.False(t, entries[0].Persisted)
}
