// Package session implements the analysis session controller: it probes the
// backend, drives live streaming sessions and falls back to synthetic ones.
package session

import (
	"context"
	"io"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/backend"
)

// Phase is the lifecycle stage of the current session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseStreaming
	PhaseCompleted
	// PhaseError is held between a connectivity failure and the start of
	// the synthetic fallback.
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Source tells where streamed updates come from.
type Source string

const (
	SourceNone      Source = ""
	SourceLive      Source = "live"
	SourceSynthetic Source = "synthetic"
	SourceDemo      Source = "demo"
)

// State is a copy of the controller's shared state.
type State struct {
	SessionID string
	Phase     Phase
	Source    Source
	// File is the selected video, empty for camera and demo sessions.
	File     string
	Camera   bool
	Snapshot analysis.Snapshot
	// Frame is the latest JPEG frame. It is replaced, never mutated.
	Frame     []byte
	Err       error
	Reachable bool
	UpdatedAt time.Time
}

func (s State) clone() State {
	out := s
	out.Snapshot = s.Snapshot.Clone()
	return out
}

// Backend is the part of the backend client used to start live sessions.
type Backend interface {
	Healthy(ctx context.Context) bool
	Upload(ctx context.Context, name string, video io.Reader) (backend.UploadResult, error)
}

// Persister stores completed sessions.
type Persister interface {
	PersistSession(ctx context.Context, sessionID, source string, snapshot analysis.Snapshot) error
}

// Camera grants access to a capture device. Open fails with a permission
// error when access is denied; release gives the device back.
type Camera interface {
	Open() (release func(), err error)
}

// Monitor receives session lifecycle counters.
type Monitor interface {
	SessionStarted(source string)
	SessionFinished(source, outcome string)
	Fallback(reason string)
	StreamEvent(kind string, score float64)
	PersistFailed()
}

type nopMonitor struct{}

func (nopMonitor) SessionStarted(string)          {}
func (nopMonitor) SessionFinished(string, string) {}
func (nopMonitor) Fallback(string)                {}
func (nopMonitor) StreamEvent(string, float64)    {}
func (nopMonitor) PersistFailed()                 {}
