// Package synthetic produces locally generated scorecards and placeholder
// frames for sessions that run without the analysis backend.
package synthetic

import (
	"context"
	"math/rand/v2"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
)

// Mode selects how a Generator behaves.
type Mode int

const (
	// ModeFallback runs until cancelled, jittering the previous scorecard.
	// It is used when the backend is unreachable.
	ModeFallback Mode = iota
	// ModeDemo runs a bounded session with fresh random scores and a
	// prediction on every tick, then completes.
	ModeDemo
)

func (m Mode) String() string {
	if m == ModeDemo {
		return "demo"
	}
	return "fallback"
}

// Score bounds per mode
const (
	FallbackMin = 70.0
	FallbackMax = 95.0
	MaxDelta    = 2.0

	DemoMin = 70.0
	DemoMax = 100.0
)

// Tick is one generated update.
type Tick struct {
	Seq      int
	Snapshot analysis.Snapshot
	Frame    []byte
	// Final marks the last tick of a demo session.
	Final bool
}

// Generator produces Ticks at a fixed cadence.
type Generator struct {
	mode     Mode
	interval time.Duration
	duration time.Duration
	rng      *rand.Rand
	renderer *Renderer
}

// NewFallback returns an unbounded generator ticking every interval.
func NewFallback(interval time.Duration, src rand.Source) *Generator {
	return &Generator{
		mode:     ModeFallback,
		interval: interval,
		rng:      newRand(src),
		renderer: NewRenderer(CaptionFallback),
	}
}

// NewDemo returns a generator that ticks every interval and completes
// after duration.
func NewDemo(interval, duration time.Duration, src rand.Source) *Generator {
	return &Generator{
		mode:     ModeDemo,
		interval: interval,
		duration: duration,
		rng:      newRand(src),
		renderer: NewRenderer(CaptionDemo),
	}
}

func newRand(src rand.Source) *rand.Rand {
	if src == nil {
		src = rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())
	}
	return rand.New(src)
}

// Mode returns the generator's mode.
func (g *Generator) Mode() Mode {
	return g.mode
}

// Ticks returns how many ticks a demo session emits. Zero for fallback.
func (g *Generator) Ticks() int {
	if g.mode != ModeDemo {
		return 0
	}
	n := int(g.duration / g.interval)
	if n < 1 {
		n = 1
	}
	return n
}

// Perturb jitters every metric and the overall score by a uniform delta
// in [-MaxDelta, +MaxDelta], clamped to [FallbackMin, FallbackMax]. The
// result never carries a prediction.
func (g *Generator) Perturb(s analysis.Snapshot) analysis.Snapshot {
	out := analysis.Snapshot{Metrics: make(map[string]analysis.Metric, len(s.Metrics))}
	// Sorted names keep a seeded generator reproducible.
	for _, name := range s.Names() {
		score := analysis.Clamp(s.Metrics[name].Score+g.delta(), FallbackMin, FallbackMax)
		out.Metrics[name] = analysis.NewMetric(score)
	}
	out.OverallScore = analysis.Clamp(s.OverallScore+g.delta(), FallbackMin, FallbackMax)
	return out
}

// Bound clamps every metric and the overall score to [FallbackMin,
// FallbackMax], recomputes statuses and drops the prediction.
func Bound(s analysis.Snapshot) analysis.Snapshot {
	out := analysis.Snapshot{Metrics: make(map[string]analysis.Metric, len(s.Metrics))}
	for name, m := range s.Metrics {
		out.Metrics[name] = analysis.NewMetric(analysis.Clamp(m.Score, FallbackMin, FallbackMax))
	}
	out.OverallScore = analysis.Clamp(s.OverallScore, FallbackMin, FallbackMax)
	return out
}

// Randomize draws every metric and the overall score uniformly from
// [DemoMin, DemoMax) and picks a prediction.
func (g *Generator) Randomize(s analysis.Snapshot) analysis.Snapshot {
	out := analysis.Snapshot{Metrics: make(map[string]analysis.Metric, len(s.Metrics))}
	for _, name := range s.Names() {
		out.Metrics[name] = analysis.NewMetric(g.uniform(DemoMin, DemoMax))
	}
	out.OverallScore = g.uniform(DemoMin, DemoMax)
	out.Prediction = analysis.PredictionBall
	if g.rng.IntN(2) == 0 {
		out.Prediction = analysis.PredictionStrike
	}
	return out
}

func (g *Generator) delta() float64 {
	return (g.rng.Float64()*2 - 1) * MaxDelta
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// Run emits ticks until ctx is cancelled or, in demo mode, until the
// final tick. emit is never called after Run has observed cancellation,
// and Run does not return while a call to emit is in progress.
func (g *Generator) Run(ctx context.Context, start analysis.Snapshot, emit func(Tick)) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	began := time.Now()
	current := start.Normalize()
	if g.mode == ModeFallback {
		// Scores carried over from a failed live stream may be out of band.
		current = Bound(current)
		emit(Tick{Snapshot: current.Clone(), Frame: g.renderer.Render(current.OverallScore, 0)})
	}

	total := g.Ticks()
	for seq := 1; ; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if g.mode == ModeDemo {
				current = g.Randomize(current)
			} else {
				current = g.Perturb(current)
			}

			tick := Tick{
				Seq:      seq,
				Snapshot: current.Clone(),
				Frame:    g.renderer.Render(current.OverallScore, now.Sub(began)),
				Final:    g.mode == ModeDemo && seq >= total,
			}
			emit(tick)

			if tick.Final {
				return nil
			}
		}
	}
}
