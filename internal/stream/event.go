// Package stream implements the streaming channel between the session
// controller and the analysis backend.
package stream

import (
	"context"

	"codeberg.org/mutker/posturectl/internal/analysis"
)

// Kind tags the variant carried by an Event.
type Kind int

const (
	KindFrame Kind = iota + 1
	KindMetrics
	KindComplete
	KindError
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindMetrics:
		return "metrics"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one message delivered by a Channel. Only the field matching
// Kind is populated.
type Event struct {
	Kind     Kind
	Frame    []byte
	Snapshot analysis.Snapshot
	Err      error
}

// Server to client event names
const (
	TypeVideoFrame       = "video_frame"
	TypeAnalysisData     = "analysis_data"
	TypeAnalysisComplete = "analysis_complete"
)

// Client to server intent names
const (
	IntentStartAnalysis       = "start_analysis"
	IntentStartVideoAnalysis  = "start_video_analysis"
	IntentStartCameraAnalysis = "start_camera_analysis"
)

// Intent is a client to server message.
type Intent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// StartIntent announces analysis of an uploaded video.
func StartIntent(name, sessionID string) Intent {
	return Intent{Type: name, Data: map[string]string{"session_id": sessionID}}
}

// StartCameraIntent announces a camera session.
func StartCameraIntent() Intent {
	return Intent{Type: IntentStartCameraAnalysis}
}

// Channel is an open streaming connection. Events is closed after the
// terminal Error or Closed event, or once Close has been called.
type Channel interface {
	Send(intent Intent) error
	Events() <-chan Event
	Close() error
}

// Dialer opens Channels.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}
