package analysis_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		score float64
		want  analysis.Status
	}{
		{0, analysis.StatusNeedsImprovement},
		{70, analysis.StatusNeedsImprovement},
		{79.99, analysis.StatusNeedsImprovement},
		{80, analysis.StatusGood},
		{85.5, analysis.StatusGood},
		{89.999, analysis.StatusGood},
		{90, analysis.StatusExcellent},
		{100, analysis.StatusExcellent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, analysis.StatusFor(tt.score), "score %v", tt.score)
	}
}

func TestStatusForIsMonotonic(t *testing.T) {
	rank := map[analysis.Status]int{
		analysis.StatusNeedsImprovement: 0,
		analysis.StatusGood:             1,
		analysis.StatusExcellent:        2,
	}

	prev := rank[analysis.StatusFor(0)]
	for s := 0.0; s <= 100; s += 0.25 {
		cur := rank[analysis.StatusFor(s)]
		require.GreaterOrEqual(t, cur, prev, "status regressed at %v", s)
		prev = cur
	}
}

func TestMergeKeepsUntouchedMetrics(t *testing.T) {
	prev := analysis.DefaultSnapshot()
	prev.Prediction = analysis.PredictionStrike

	update := analysis.Snapshot{
		Metrics: map[string]analysis.Metric{
			analysis.MetricBalance: {Score: 93, Status: "bogus"},
			"hip_rotation":         {Score: 71},
		},
		OverallScore: 77,
	}

	got := prev.Merge(update)

	assert.Equal(t, 77.0, got.OverallScore)
	assert.Equal(t, analysis.PredictionStrike, got.Prediction)
	assert.Equal(t, analysis.NewMetric(93), got.Metrics[analysis.MetricBalance])
	assert.Equal(t, analysis.StatusExcellent, got.Metrics[analysis.MetricBalance].Status)
	assert.Equal(t, analysis.StatusNeedsImprovement, got.Metrics["hip_rotation"].Status)
	assert.Equal(t, prev.Metrics[analysis.MetricStance], got.Metrics[analysis.MetricStance])
	assert.Len(t, got.Metrics, 6)

	// prev must not be mutated
	assert.Equal(t, 82.0, prev.Metrics[analysis.MetricBalance].Score)
	assert.Len(t, prev.Metrics, 5)
}

func TestMergeIntoEmpty(t *testing.T) {
	got := analysis.Snapshot{}.Merge(analysis.Snapshot{
		Metrics:      map[string]analysis.Metric{"stride_angle": {Score: 88}},
		OverallScore: 88,
		Prediction:   analysis.PredictionBall,
	})

	assert.Equal(t, analysis.StatusGood, got.Metrics["stride_angle"].Status)
	assert.Equal(t, analysis.PredictionBall, got.Prediction)
}

func TestCloneIsDeep(t *testing.T) {
	orig := analysis.DefaultSnapshot()
	cp := orig.Clone()
	cp.Metrics[analysis.MetricStance] = analysis.NewMetric(10)

	assert.Equal(t, 88.0, orig.Metrics[analysis.MetricStance].Score)
}

func TestNormalize(t *testing.T) {
	s := analysis.Snapshot{Metrics: map[string]analysis.Metric{"timing": {Score: 91, Status: "poor"}}}
	assert.Equal(t, analysis.StatusExcellent, s.Normalize().Metrics["timing"].Status)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 70.0, analysis.Clamp(65, 70, 95))
	assert.Equal(t, 95.0, analysis.Clamp(99, 70, 95))
	assert.Equal(t, 80.0, analysis.Clamp(80, 70, 95))
}

func TestSortHistory(t *testing.T) {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	records := []analysis.HistoryRecord{
		{Timestamp: base.Add(-48 * time.Hour), Score: 78},
		{Timestamp: base, Score: 85},
		{Timestamp: base.Add(-24 * time.Hour), Score: 92},
	}

	analysis.SortHistory(records)

	assert.Equal(t, []float64{85, 92, 78}, []float64{records[0].Score, records[1].Score, records[2].Score})
}

func TestNames(t *testing.T) {
	assert.Equal(t,
		[]string{"armPosition", "balance", "footwork", "stance", "timing"},
		analysis.DefaultSnapshot().Names())
}
