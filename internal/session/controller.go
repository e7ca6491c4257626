package session

import (
	"context"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/config"
	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/logger"
	"codeberg.org/mutker/posturectl/internal/stream"
	"codeberg.org/mutker/posturectl/internal/synthetic"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const persistTimeout = 30 * time.Second

// Controller owns at most one active session. Every state mutation happens
// under mu; network calls run with mu released and are committed only if
// their session is still the active one.
type Controller struct {
	cfg         config.SessionConfig
	startIntent string
	backend     Backend
	dialer      stream.Dialer
	camera      Camera
	persister   Persister
	monitor     Monitor
	log         logger.Logger
	randSource  func() rand.Source
	newID       func() string
	now         func() time.Time

	mu       sync.Mutex
	state    State
	active   *run
	closed   bool
	updates  chan State
	persists sync.WaitGroup
}

// run holds the resources of one session.
type run struct {
	id        string
	source    Source
	ctx       context.Context
	cancel    context.CancelFunc
	channel   stream.Channel
	release   func()
	persisted bool
	wg        sync.WaitGroup
}

type Option func(*Controller)

func WithCamera(cam Camera) Option {
	return func(c *Controller) {
		c.camera = cam
	}
}

func WithPersister(p Persister) Option {
	return func(c *Controller) {
		c.persister = p
	}
}

func WithMonitor(m Monitor) Option {
	return func(c *Controller) {
		c.monitor = m
	}
}

// WithRandSource sets the random source given to each synthetic generator.
func WithRandSource(fn func() rand.Source) Option {
	return func(c *Controller) {
		c.randSource = fn
	}
}

// WithStartIntent overrides the intent announced after an upload.
func WithStartIntent(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.startIntent = name
		}
	}
}

func New(cfg config.SessionConfig, b Backend, d stream.Dialer, log logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		cfg:         cfg,
		startIntent: stream.IntentStartVideoAnalysis,
		backend:     b,
		dialer:      d,
		camera:      noCamera{},
		monitor:     nopMonitor{},
		log:         log.With("session"),
		randSource:  func() rand.Source { return nil },
		newID:       uuid.NewString,
		now:         time.Now,
		updates:     make(chan State, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = State{Phase: PhaseIdle, Snapshot: analysis.DefaultSnapshot(), UpdatedAt: c.now()}
	return c
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Updates delivers state copies. It holds one value; a newer state replaces
// an unread one.
func (c *Controller) Updates() <-chan State {
	return c.updates
}

// StartUpload validates path, uploads it and streams the analysis. Only
// validation errors are returned; connectivity and streaming failures are
// recorded in the state and resolved by the synthetic fallback.
func (c *Controller) StartUpload(ctx context.Context, path string) error {
	video, err := openVideo(path)
	if err != nil {
		c.reject(path, err)
		return err
	}
	defer video.Close()

	r, err := c.begin(path, nil)
	if err != nil {
		return err
	}

	c.connect(ctx, r, c.cfg.UploadFailureDelay, func(ctx context.Context) (stream.Intent, error) {
		result, err := c.backend.Upload(ctx, path, video)
		if err != nil {
			return stream.Intent{}, err
		}
		return stream.StartIntent(c.startIntent, result.Identifier()), nil
	})
	return nil
}

// StartCamera acquires the camera and streams a camera analysis. A denied
// camera is returned as an error and recorded in the state; any running
// session is left alone.
func (c *Controller) StartCamera(ctx context.Context) error {
	release, err := c.camera.Open()
	if err != nil {
		c.log.Warn().Err(err).Msg("Camera session not started")

		c.mu.Lock()
		c.state.Err = err
		c.publishLocked()
		c.mu.Unlock()
		return err
	}

	r, err := c.begin("", release)
	if err != nil {
		release()
		return err
	}

	c.connect(ctx, r, c.cfg.FallbackDelay, func(context.Context) (stream.Intent, error) {
		return stream.StartCameraIntent(), nil
	})
	return nil
}

// StartDemo runs a bounded synthetic session that completes and persists on
// its own. It does not contact the backend until persisting.
func (c *Controller) StartDemo(_ context.Context) error {
	r, err := c.begin("", nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r {
		return nil
	}
	c.startGeneratorLocked(r, synthetic.ModeDemo)
	c.publishLocked()
	return nil
}

// Stop ends the active session and waits for its goroutines to exit.
// Calling it on an idle controller does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.detachLocked("stopped")
	if r == nil && c.state.Phase == PhaseIdle && c.state.Frame == nil {
		c.mu.Unlock()
		return
	}
	c.state.Phase = PhaseIdle
	c.state.Source = SourceNone
	c.state.Frame = nil
	c.state.Camera = false
	c.publishLocked()
	c.mu.Unlock()

	if r != nil {
		r.wg.Wait()
		c.log.Debug().Str("session_id", r.id).Msg("Session stopped")
	}
}

// Reset stops the session and clears the selected file and error.
func (c *Controller) Reset() {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.File = ""
	c.state.Err = nil
	c.state.SessionID = ""
	c.publishLocked()
}

// Close stops the controller for good and waits for pending persistence.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Stop()
	c.persists.Wait()
}

// reject records a start error without touching the active session.
func (c *Controller) reject(file string, err error) {
	c.log.Warn().Err(err).Str("file", file).Msg("Session not started")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.File = file
	c.state.Err = err
	c.publishLocked()
}

// begin tears down the active session, waits for it to release its
// resources and registers a new one in the connecting phase.
func (c *Controller) begin(file string, release func()) (*run, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New().WithMessage(errors.ErrInvalidOperation, "session controller is closed")
	}

	old := c.detachLocked("replaced")
	r := c.newRunLocked()
	r.release = release

	c.state.Phase = PhaseConnecting
	c.state.Source = SourceNone
	c.state.File = file
	c.state.Camera = release != nil
	c.state.Frame = nil
	c.state.Err = nil
	c.publishLocked()
	c.mu.Unlock()

	if old != nil {
		old.wg.Wait()
	}

	c.log.Info().Str("session_id", r.id).Str("file", file).Bool("camera", release != nil).Msg("Session starting")
	return r, nil
}

// connect probes the backend, prepares the start intent and opens the
// streaming channel. Failures before the channel is open fall back after
// failureDelay; a failed dial falls back immediately.
func (c *Controller) connect(ctx context.Context, r *run, failureDelay time.Duration,
	prepare func(context.Context) (stream.Intent, error),
) {
	opCtx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	reachable := c.backend.Healthy(opCtx)

	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return
	}
	c.state.Reachable = reachable
	if !reachable {
		c.failLocked(r, errors.New().New(errors.ErrBackendUnreachable), c.cfg.FallbackDelay)
		c.mu.Unlock()
		return
	}
	c.publishLocked()
	c.mu.Unlock()

	intent, err := prepare(opCtx)
	if err != nil {
		c.mu.Lock()
		if c.active == r {
			c.failLocked(r, err, failureDelay)
		}
		c.mu.Unlock()
		return
	}

	ch, err := c.dialer.Dial(opCtx)
	if err == nil {
		if sendErr := ch.Send(intent); sendErr != nil {
			ch.Close()
			ch, err = nil, sendErr
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != r {
		if ch != nil {
			ch.Close()
		}
		return
	}
	if err != nil {
		c.failLocked(r, err, 0)
		return
	}

	r.channel = ch
	r.source = SourceLive
	c.state.Phase = PhaseStreaming
	c.state.Source = SourceLive
	c.monitor.SessionStarted(string(SourceLive))

	r.wg.Add(1)
	go c.pump(r.id, ch, &r.wg)

	c.log.Info().Str("session_id", r.id).Str("intent", intent.Type).Msg("Live session streaming")
	c.publishLocked()
}

func (c *Controller) pump(id string, ch stream.Channel, wg *sync.WaitGroup) {
	defer wg.Done()
	for ev := range ch.Events() {
		c.dispatch(id, ev)
	}
}

// dispatch applies one streaming event to the session it was produced for.
// Events for any other session are dropped.
func (c *Controller) dispatch(id string, ev stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.active
	if r == nil || r.id != id || r.source != SourceLive {
		c.log.Debug().Str("session_id", id).Stringer("event", ev.Kind).Msg("Dropping stale stream event")
		return
	}

	switch ev.Kind {
	case stream.KindFrame:
		c.state.Frame = ev.Frame
		c.monitor.StreamEvent(ev.Kind.String(), 0)

	case stream.KindMetrics:
		if c.cfg.ReplaceUpdates {
			c.state.Snapshot = ev.Snapshot.Normalize()
		} else {
			c.state.Snapshot = c.state.Snapshot.Merge(ev.Snapshot)
		}
		c.monitor.StreamEvent(ev.Kind.String(), c.state.Snapshot.OverallScore)

	case stream.KindComplete:
		c.monitor.StreamEvent(ev.Kind.String(), 0)
		c.completeLocked(r)

	case stream.KindError:
		err := ev.Err
		if err == nil {
			err = errors.New().New(errors.ErrStreamFailed)
		}
		c.state.Err = err
		c.log.Warn().Err(err).Str("session_id", id).Msg("Streaming channel failed")

		// The camera stays held by the fallback session.
		release := r.release
		r.release = nil
		c.detachLocked("error")

		next := c.newRunLocked()
		next.release = release
		c.monitor.Fallback(fallbackReason(err))
		c.startGeneratorLocked(next, synthetic.ModeFallback)

	case stream.KindClosed:
		c.log.Info().Str("session_id", id).Msg("Streaming channel closed by backend")
		c.detachLocked("closed")
		c.state.Phase = PhaseIdle
		c.state.Source = SourceNone
		c.state.Frame = nil
		c.state.Camera = false

	default:
		return
	}

	c.publishLocked()
}

// failLocked records err and schedules the synthetic fallback for r.
func (c *Controller) failLocked(r *run, err error, delay time.Duration) {
	c.state.Err = err
	c.state.Phase = PhaseError
	c.monitor.Fallback(fallbackReason(err))

	c.log.Warn().
		Err(err).
		Str("session_id", r.id).
		Str("category", string(errors.CategoryOf(err))).
		Dur("fallback_in", delay).
		Msg("Falling back to synthetic analysis")

	if delay <= 0 {
		c.startGeneratorLocked(r, synthetic.ModeFallback)
		c.publishLocked()
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.active != r {
			return
		}
		c.startGeneratorLocked(r, synthetic.ModeFallback)
		c.publishLocked()
	}()

	c.publishLocked()
}

// startGeneratorLocked runs a synthetic generator for r. r must be active.
func (c *Controller) startGeneratorLocked(r *run, mode synthetic.Mode) {
	var gen *synthetic.Generator
	if mode == synthetic.ModeDemo {
		gen = synthetic.NewDemo(c.cfg.DemoInterval, c.cfg.DemoDuration, c.randSource())
		r.source = SourceDemo
	} else {
		gen = synthetic.NewFallback(c.cfg.SyntheticInterval, c.randSource())
		r.source = SourceSynthetic
	}

	c.state.Phase = PhaseStreaming
	c.state.Source = r.source
	c.monitor.SessionStarted(string(r.source))

	start := c.state.Snapshot.Clone()
	if len(start.Metrics) == 0 {
		start = analysis.DefaultSnapshot()
	}
	if mode == synthetic.ModeFallback {
		start = synthetic.Bound(start)
		c.state.Snapshot = start.Clone()
	}

	c.log.Info().Str("session_id", r.id).Stringer("mode", mode).Msg("Synthetic session running")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := gen.Run(r.ctx, start, func(tick synthetic.Tick) {
			c.applyTick(r, tick)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn().Err(err).Str("session_id", r.id).Msg("Synthetic generator stopped")
		}
	}()
}

func (c *Controller) applyTick(r *run, tick synthetic.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != r {
		return
	}

	c.state.Snapshot = tick.Snapshot
	c.state.Frame = tick.Frame
	c.monitor.StreamEvent(string(r.source), tick.Snapshot.OverallScore)

	if tick.Final {
		c.completeLocked(r)
	}
	c.publishLocked()
}

// completeLocked ends r as completed and persists its last snapshot once.
func (c *Controller) completeLocked(r *run) {
	c.detachLocked("completed")
	c.state.Phase = PhaseCompleted
	c.state.Camera = false

	if c.persister == nil || r.persisted {
		return
	}
	r.persisted = true

	snapshot := c.state.Snapshot.Clone()
	source := string(r.source)

	c.persists.Add(1)
	go func() {
		defer c.persists.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := c.persister.PersistSession(ctx, r.id, source, snapshot); err != nil {
			c.monitor.PersistFailed()
		}
	}()
}

func (c *Controller) newRunLocked() *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     c.newID(),
		ctx:    ctx,
		cancel: cancel,
	}
	c.active = r
	c.state.SessionID = r.id
	return r
}

// detachLocked cancels the active session, closes its channel and releases
// its camera. The caller waits on the returned run's goroutines after
// unlocking, unless it is one of them.
func (c *Controller) detachLocked(outcome string) *run {
	r := c.active
	if r == nil {
		return nil
	}
	c.active = nil
	r.cancel()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			c.log.Debug().Err(err).Str("session_id", r.id).Msg("Failed to close streaming channel")
		}
		r.channel = nil
	}
	if r.release != nil {
		r.release()
		r.release = nil
	}

	if r.source != SourceNone {
		c.monitor.SessionFinished(string(r.source), outcome)
	}
	return r
}

// publishLocked offers a copy of the state, replacing any unread one.
func (c *Controller) publishLocked() {
	c.state.UpdatedAt = c.now()
	s := c.state.clone()

	select {
	case c.updates <- s:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- s:
	default:
	}
}

func fallbackReason(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	return "unknown"
}

// openVideo opens path and checks that its content sniffs as video. The
// returned file is positioned at the start.
func openVideo(path string) (*os.File, error) {
	errFactory := errors.New()

	if strings.TrimSpace(path) == "" {
		return nil, errFactory.New(errors.ErrNoFileSelected)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidVideoFile, err)
	}

	mtype, err := mimetype.DetectReader(f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		return nil, errFactory.Wrap(errors.ErrInvalidVideoFile, err)
	}

	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return f, nil
		}
	}

	f.Close()
	return nil, errFactory.WithData(errors.ErrInvalidVideoFile, struct {
		Path string
		MIME string
	}{
		Path: path,
		MIME: mtype.String(),
	})
}
