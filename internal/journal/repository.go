package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*Entry
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Journal repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*Entry, 0, max(cfg.BatchSize, 1)),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Start background goroutine for periodic flushing if batching is enabled
	if cfg.BatchSize > 0 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, entry)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Recent returns the newest entries, flushing buffered ones first.
func (r *repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	errFactory := errors.New()

	r.mu.Lock()
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, recentSessionsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			ts        int64
			metrics   string
			persisted int
			e         Entry
		)
		if err := rows.Scan(&ts, &e.SessionID, &e.Source, &e.Snapshot.OverallScore,
			&e.Snapshot.Prediction, &metrics, &persisted); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		if err := json.Unmarshal([]byte(metrics), &e.Snapshot.Metrics); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Persisted = persisted == 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return entries, nil
}

func (r *repository) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		// Signal the flusher goroutine to stop and wait for its final flush
		close(r.shutdownChan)
		<-r.flushDoneChan

		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}

		r.mu.Lock()
		if err := r.flush(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to flush journal on close")
		}
		r.mu.Unlock()

		// Checkpoint WAL and cleanup on close
		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
			r.db.Close()
			return
		}

		if err := r.db.Close(); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: err.Error(),
			})
			return
		}

		r.logger.Info().Msg("Journal repository closed gracefully")
	})
	return closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic journal flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes buffered entries in one transaction. Callers hold r.mu. The
// buffer is kept when the write fails so the next flush retries it.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	err := withTx(r.db, ErrTransactionFailed, r.logger, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(insertSessionSQL)
		if err != nil {
			return errors.New().Wrap(ErrTransactionFailed, err)
		}
		defer stmt.Close()

		for _, entry := range r.buffer {
			metrics := entry.Snapshot.Metrics
			if metrics == nil {
				metrics = map[string]analysis.Metric{}
			}
			encoded, err := json.Marshal(metrics)
			if err != nil {
				return errors.New().Wrap(ErrInvalidEntry, err)
			}

			if _, err := stmt.Exec(
				entry.Timestamp.UnixMilli(),
				entry.SessionID,
				entry.Source,
				entry.Snapshot.OverallScore,
				entry.Snapshot.Prediction,
				string(encoded),
				boolToInt(entry.Persisted),
			); err != nil {
				return errors.New().WithData(ErrTransactionFailed, struct {
					SessionID string
					Error     string
				}{
					SessionID: entry.SessionID,
					Error:     err.Error(),
				})
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Int("entries", len(r.buffer)).Msg("Failed to flush journal entries")
		return err
	}

	r.logger.Debug().Int("entries", len(r.buffer)).Msg("Flushed journal entries to database")
	r.buffer = r.buffer[:0]
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
