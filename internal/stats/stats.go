// Package stats mirrors the backend's aggregate analytics and session
// history, and persists completed sessions.
package stats

import (
	"context"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/backend"
	"codeberg.org/mutker/posturectl/internal/journal"
	"codeberg.org/mutker/posturectl/internal/logger"
)

// API is the part of the backend client used by the Service.
type API interface {
	FetchAggregateStats(ctx context.Context) (analysis.AggregateStats, error)
	FetchHistory(ctx context.Context) ([]analysis.HistoryRecord, error)
	SaveRecord(ctx context.Context, record backend.Record) error
}

// Service caches the last fetched aggregates and history. Every call is
// fire-and-log: a failure leaves the cache untouched and is not retried.
type Service struct {
	api     API
	journal journal.Recorder
	log     logger.Logger
	now     func() time.Time

	mu      sync.RWMutex
	stats   analysis.AggregateStats
	history []analysis.HistoryRecord
	fetched time.Time
}

type Option func(*Service)

// WithJournal also records persisted sessions in the local journal.
func WithJournal(rec journal.Recorder) Option {
	return func(s *Service) {
		s.journal = rec
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(api API, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		api: api,
		log: log.With("stats"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh re-fetches aggregates and history. Each fetch updates its own
// cache entry independently. The first failure is returned after being
// logged.
func (s *Service) Refresh(ctx context.Context) error {
	var firstErr error

	agg, err := s.api.FetchAggregateStats(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to fetch aggregate stats, keeping cached values")
		firstErr = err
	} else {
		s.mu.Lock()
		s.stats = agg
		s.fetched = s.now()
		s.mu.Unlock()
	}

	history, err := s.api.FetchHistory(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to fetch history, keeping cached values")
		if firstErr == nil {
			firstErr = err
		}
	} else {
		analysis.SortHistory(history)
		s.mu.Lock()
		s.history = history
		s.fetched = s.now()
		s.mu.Unlock()
	}

	if firstErr == nil {
		s.log.Debug().
			Int("analysis_count", agg.AnalysisCount).
			Int("history", len(history)).
			Msg("Stats refreshed")
	}
	return firstErr
}

// PersistSession saves the final snapshot of a completed session and then
// refreshes aggregates and history. When a journal is configured the
// session is recorded locally whether or not the backend accepted it.
func (s *Service) PersistSession(ctx context.Context, sessionID, source string, snapshot analysis.Snapshot) error {
	at := s.now()
	snapshot = snapshot.Normalize()

	saveErr := s.api.SaveRecord(ctx, backend.NewRecord(at, snapshot))
	if saveErr != nil {
		s.log.Warn().Err(saveErr).Str("session_id", sessionID).Msg("Failed to persist session")
	} else {
		s.log.Info().
			Str("session_id", sessionID).
			Float64("score", snapshot.OverallScore).
			Str("prediction", snapshot.Prediction).
			Msg("Session persisted")
	}

	if s.journal != nil && s.journal.IsEnabled() {
		entry := &journal.Entry{
			Timestamp: at,
			SessionID: sessionID,
			Source:    source,
			Snapshot:  snapshot,
			Persisted: saveErr == nil,
		}
		if err := s.journal.Record(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to record session in journal")
		}
	}

	if saveErr != nil {
		return saveErr
	}

	// Refresh failures are logged by Refresh and do not fail the save.
	_ = s.Refresh(ctx)
	return nil
}

// Stats returns the last fetched aggregates.
func (s *Service) Stats() analysis.AggregateStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats
	out.Recommendations = slices.Clone(s.stats.Recommendations)
	return out
}

// History returns the last fetched history, most recent first.
func (s *Service) History() []analysis.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// FetchedAt returns when the cache was last updated, or the zero time.
func (s *Service) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetched
}
