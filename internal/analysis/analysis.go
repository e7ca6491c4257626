// Package analysis holds the posture-analysis domain values shared by the
// session controller, the synthetic generator and the backend client.
package analysis

import (
	"sort"
	"time"
)

// Status is the categorical label derived from a metric score.
type Status string

const (
	StatusExcellent        Status = "excellent"
	StatusGood             Status = "good"
	StatusNeedsImprovement Status = "needs improvement"
)

// Score thresholds for Status
const (
	ExcellentThreshold = 90.0
	GoodThreshold      = 80.0
)

// Prediction values produced by the backend and the demo generator
const (
	PredictionStrike = "strike"
	PredictionBall   = "ball"
)

// Metric names shown on the default scorecard
const (
	MetricStance      = "stance"
	MetricBalance     = "balance"
	MetricArmPosition = "armPosition"
	MetricFootwork    = "footwork"
	MetricTiming      = "timing"
)

// StatusFor maps a score to its status. It is total and monotonic in score.
func StatusFor(score float64) Status {
	switch {
	case score >= ExcellentThreshold:
		return StatusExcellent
	case score >= GoodThreshold:
		return StatusGood
	default:
		return StatusNeedsImprovement
	}
}

// Metric is one named measurement. Status is never set independently of Score.
type Metric struct {
	Score  float64 `json:"score"`
	Status Status  `json:"status"`
}

// NewMetric builds a Metric with its status derived from score.
func NewMetric(score float64) Metric {
	return Metric{Score: score, Status: StatusFor(score)}
}

// Snapshot is the complete current scorecard.
type Snapshot struct {
	Metrics      map[string]Metric `json:"metrics"`
	OverallScore float64           `json:"overall_score"`
	Prediction   string            `json:"predict,omitempty"`
}

// DefaultSnapshot returns the scorecard shown before any analysis has run.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Metrics: map[string]Metric{
			MetricStance:      NewMetric(88),
			MetricBalance:     NewMetric(82),
			MetricArmPosition: NewMetric(91),
			MetricFootwork:    NewMetric(79),
			MetricTiming:      NewMetric(86),
		},
		OverallScore: 85,
	}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		OverallScore: s.OverallScore,
		Prediction:   s.Prediction,
	}
	if s.Metrics != nil {
		out.Metrics = make(map[string]Metric, len(s.Metrics))
		for name, m := range s.Metrics {
			out.Metrics[name] = m
		}
	}
	return out
}

// Merge applies update on top of s by metric name. Metrics absent from
// update keep their previous values. The overall score is always taken
// from update; the prediction only when update carries one.
func (s Snapshot) Merge(update Snapshot) Snapshot {
	out := s.Clone()
	if out.Metrics == nil {
		out.Metrics = make(map[string]Metric, len(update.Metrics))
	}
	for name, m := range update.Metrics {
		out.Metrics[name] = NewMetric(m.Score)
	}
	out.OverallScore = update.OverallScore
	if update.Prediction != "" {
		out.Prediction = update.Prediction
	}
	return out
}

// Normalize returns a copy with every status recomputed from its score.
func (s Snapshot) Normalize() Snapshot {
	out := s.Clone()
	for name, m := range out.Metrics {
		out.Metrics[name] = NewMetric(m.Score)
	}
	return out
}

// Names returns the metric names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BestMetric names the metric mirrored from the backend's aggregates.
type BestMetric struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Recommendation is one improvement tip from the backend.
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AggregateStats is owned by the backend; the client only mirrors it.
type AggregateStats struct {
	AnalysisCount   int              `json:"analysis_count"`
	BestMetric      BestMetric       `json:"best_metric"`
	AverageScore    float64          `json:"average_score"`
	Recommendations []Recommendation `json:"recommendations"`
	HasAnalyzed     bool             `json:"has_analyzed"`
}

// HistoryRecord is one persisted session as reported by the backend.
type HistoryRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Score      float64   `json:"score"`
	Prediction string    `json:"predict"`
}

// SortHistory orders records most recent first. Ties keep their order.
func SortHistory(records []HistoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}
