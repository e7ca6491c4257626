package journal_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/journal"
	"codeberg.org/mutker/posturectl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T, batchSize int) (journal.Recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	rec, err := journal.NewService(journal.Config{
		DBPath:       path,
		BatchSize:    batchSize,
		BatchTimeout: 60,
		Enabled:      true,
	}, logger.Nop())
	require.NoError(t, err)
	return rec, path
}

func entry(id string, at time.Time, score float64) *journal.Entry {
	snap := analysis.DefaultSnapshot()
	snap.OverallScore = score
	snap.Prediction = analysis.PredictionStrike
	return &journal.Entry{Timestamp: at, SessionID: id, Source: "live", Snapshot: snap, Persisted: true}
}

func TestDisabledJournalIsNoop(t *testing.T) {
	rec, err := journal.NewService(journal.DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	assert.False(t, rec.IsEnabled())
	assert.NoError(t, rec.Record(context.Background(), entry("a", time.Now(), 80)))

	entries, err := rec.Recent(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, rec.Close())
}

func TestEnabledJournalRequiresPath(t *testing.T) {
	_, err := journal.NewService(journal.Config{Enabled: true, BatchSize: 1}, logger.Nop())
	assert.Error(t, err)
}

func TestRecordAndRecent(t *testing.T) {
	rec, _ := newJournal(t, 10)
	defer rec.Close()
	ctx := context.Background()

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Record(ctx, entry("old", base.Add(-time.Hour), 78)))
	require.NoError(t, rec.Record(ctx, entry("new", base, 92)))
	require.NoError(t, rec.Record(ctx, entry("mid", base.Add(-30*time.Minute), 85)))

	// Buffered entries are flushed before reading.
	entries, err := rec.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "new", entries[0].SessionID)
	assert.Equal(t, "mid", entries[1].SessionID)
	assert.Equal(t, 92.0, entries[0].Snapshot.OverallScore)
	assert.Equal(t, analysis.PredictionStrike, entries[0].Snapshot.Prediction)
	assert.Equal(t, analysis.StatusGood, entries[0].Snapshot.Metrics[analysis.MetricStance].Status)
	assert.True(t, entries[0].Timestamp.Equal(base))
	assert.True(t, entries[0].Persisted)
}

func TestRecordRejectsInvalidEntry(t *testing.T) {
	rec, _ := newJournal(t, 1)
	defer rec.Close()

	assert.Error(t, rec.Record(context.Background(), nil))
	assert.Error(t, rec.Record(context.Background(), &journal.Entry{}))
}

func TestCloseFlushesBuffer(t *testing.T) {
	rec, path := newJournal(t, 100)
	require.NoError(t, rec.Record(context.Background(), entry("pending", time.Now(), 81)))
	require.NoError(t, rec.Close())

	reopened, err := journal.NewService(journal.Config{DBPath: path, BatchSize: 1, Enabled: true}, logger.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pending", entries[0].SessionID)
}

func TestSchemaMismatchRecreatesWithBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	rec, err := journal.NewService(journal.Config{DBPath: path, BatchSize: 1, Enabled: true}, logger.Nop())
	require.NoError(t, err)
	defer rec.Close()

	backups, err := filepath.Glob(filepath.Join(filepath.Dir(path), "backups", "journal_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	require.NoError(t, rec.Record(context.Background(), entry("fresh", time.Now(), 88)))
	entries, err := rec.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
