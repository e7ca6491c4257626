package backend

import (
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
)

// UploadResult is the upload response. Backends answer with either a
// session id or the stored filename.
type UploadResult struct {
	SessionID string `json:"session_id,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Identifier returns the server-assigned handle for the uploaded video.
func (r UploadResult) Identifier() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.Filename
}

// Record is the save-record payload.
type Record struct {
	Timestamp  string                     `json:"timestamp"`
	Score      float64                    `json:"score"`
	Metrics    map[string]analysis.Metric `json:"metrics"`
	Prediction string                     `json:"predict"`
}

// NewRecord builds the payload for a completed session.
func NewRecord(at time.Time, snapshot analysis.Snapshot) Record {
	s := snapshot.Normalize()
	metrics := s.Metrics
	if metrics == nil {
		metrics = map[string]analysis.Metric{}
	}
	return Record{
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
		Score:      s.OverallScore,
		Metrics:    metrics,
		Prediction: s.Prediction,
	}
}

type historyResponse struct {
	Records []historyEntry `json:"records"`
}

type historyEntry struct {
	Timestamp  string  `json:"timestamp"`
	Score      float64 `json:"score"`
	Prediction string  `json:"predict"`
}

// Layouts accepted for history timestamps, most specific first
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"20060102_150405",
	"2006-01-02",
}

func (e historyEntry) toRecord() analysis.HistoryRecord {
	rec := analysis.HistoryRecord{Score: e.Score, Prediction: e.Prediction}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, e.Timestamp); err == nil {
			rec.Timestamp = ts
			break
		}
	}
	return rec
}
