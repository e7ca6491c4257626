// Package journal keeps a local sqlite record of completed sessions,
// independent of the backend's own history.
package journal

import (
	"context"

	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopRecorder struct{}

func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If the journal is disabled, return a no-op recorder
	if !cfg.Enabled {
		log.Debug().Msg("Session journal disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log.With("journal"))
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create journal repository")
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, entry *Entry) error {
	errFactory := errors.New()

	if entry == nil || entry.SessionID == "" {
		return errFactory.New(ErrInvalidEntry)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(entry); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	return nil
}

func (s *service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.Recent(ctx, limit)
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

func (*service) IsEnabled() bool {
	return true
}

func (*noopRecorder) Record(_ context.Context, _ *Entry) error {
	return nil
}

func (*noopRecorder) Recent(_ context.Context, _ int) ([]Entry, error) {
	return nil, nil
}

func (*noopRecorder) Close() error {
	return nil
}

func (*noopRecorder) IsEnabled() bool {
	return false
}
