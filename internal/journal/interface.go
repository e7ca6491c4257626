package journal

import (
	"context"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
)

// Recorder is the journal as seen by the rest of the application
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
	IsEnabled() bool
}

// Repository defines the interface for journal storage
type Repository interface {
	Record(entry *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Entry is one completed session
type Entry struct {
	Timestamp time.Time
	SessionID string
	Source    string
	Snapshot  analysis.Snapshot
	Persisted bool
}
