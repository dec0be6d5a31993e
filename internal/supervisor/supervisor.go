// Package supervisor drives a gateway from launch to readiness.
//
// A Supervisor owns one boot.State. Start launches the gateway and, once the
// spawn succeeds, a single polling loop probes the health endpoint until it
// reports ready, the deadline passes, or the run is cancelled, reset or
// superseded. Every dispatch on behalf of a run is checked against that run's
// id under the supervisor lock, so a stale launcher result or a late probe
// never changes the state of a newer run.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/benaskins/gateboot/internal/boot"
	"github.com/benaskins/gateboot/internal/health"
)

const (
	DefaultMaxWait        = 10 * time.Minute
	DefaultPollInterval   = 2 * time.Second
	DefaultRequestTimeout = 1500 * time.Millisecond

	// notReadyEvery throttles the per-attempt "not ready" log line.
	notReadyEvery = 30 * time.Second
)

const tracerName = "github.com/benaskins/gateboot/internal/supervisor"

// errNoHealthURL fails a run whose timing names no endpoint to poll.
const errNoHealthURL = "no health URL configured"

// Launcher starts and stops the gateway process.
type Launcher interface {
	StartGateway(ctx context.Context) error
	StopGateway(ctx context.Context) error
}

// Prober performs one bounded health check.
type Prober interface {
	Check(ctx context.Context, url string, timeout time.Duration) health.Result
}

// Timing is the polling configuration captured by each run at start.
type Timing struct {
	HealthURL      string
	MaxWait        time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.MaxWait <= 0 {
		t.MaxWait = DefaultMaxWait
	}
	if t.PollInterval <= 0 {
		t.PollInterval = DefaultPollInterval
	}
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = DefaultRequestTimeout
	}
	return t
}

// Options configures a Supervisor.
type Options struct {
	Timing

	// OnReady runs at most once per run, after READY. Its error or panic is
	// logged and does not revoke readiness.
	OnReady func(ctx context.Context, runID uint64) error

	// OnSettled receives each run's first terminal state.
	OnSettled func(boot.State)

	// LastRunID seeds the run counter; the first Start returns LastRunID+1.
	LastRunID uint64

	Logger *slog.Logger
	Prober Prober
	Clock  func() time.Time

	// TracerProvider receives one span per polling loop. Defaults to the
	// global provider.
	TracerProvider trace.TracerProvider
}

// Supervisor coordinates launcher, prober and state for successive runs.
type Supervisor struct {
	launcher  Launcher
	prober    Prober
	onReady   func(context.Context, uint64) error
	onSettled func(boot.State)
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	state      boot.State
	timing     Timing // applied to the next run
	runTiming  Timing // captured by the current run
	lastID     uint64
	cancelled  bool
	closed     bool
	runCtx     context.Context
	runCancel  context.CancelFunc
	loopRun    uint64 // run id that already has a polling loop
	settledRun uint64 // run id whose terminal state was reported
	changed    chan struct{}
	subs       map[int]chan boot.Snapshot
	nextSub    int
}

// New creates an idle supervisor.
func New(launcher Launcher, opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prober == nil {
		opts.Prober = health.NewProber(nil, opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	timing := opts.Timing.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		launcher:   launcher,
		prober:     opts.Prober,
		onReady:    opts.OnReady,
		onSettled:  opts.OnSettled,
		logger:     opts.Logger.With("component", "supervisor"),
		now:        opts.Clock,
		tracer:     opts.TracerProvider.Tracer(tracerName),
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      boot.Initial(),
		timing:     timing,
		runTiming:  timing,
		lastID:     opts.LastRunID,
		changed:    make(chan struct{}),
		subs:       make(map[int]chan boot.Snapshot),
	}
	s.warnTiming(timing)
	return s
}

func (s *Supervisor) warnTiming(t Timing) {
	if t.HealthURL == "" {
		s.logger.Warn("no health URL configured, runs will fail until one is set")
	}
}

// Start begins a new run and returns its id. It supersedes any run in
// flight. Launch failures land in the state as an error, never as a return
// value. A closed supervisor returns 0.
func (s *Supervisor) Start(ctx context.Context) uint64 {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.cancelled = false
	s.lastID++
	runID := s.lastID
	if s.runCancel != nil {
		s.runCancel()
	}
	s.runCtx, s.runCancel = context.WithCancel(s.baseCtx)
	runCtx := s.runCtx
	s.runTiming = s.timing
	settled := s.applyLocked(boot.RequestStart(runID, s.now()))
	s.mu.Unlock()
	s.report(settled)

	logger := s.logger.With("run_id", runID)
	logger.Info("starting gateway")

	// The launch is bounded by the caller and by the run itself.
	launchCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, cancel)
	err := s.launcher.StartGateway(launchCtx)
	stop()
	cancel()

	if err != nil {
		if s.dispatch(runID, boot.Fail(err.Error())) {
			logger.Error("gateway launch failed", "error", err)
		}
		return runID
	}
	if !s.dispatch(runID, boot.SpawnOK()) {
		logger.Debug("launch result discarded", "reason", "run no longer current")
		return runID
	}
	logger.Info("gateway spawned, waiting for readiness")
	return runID
}

// Cancel ends the current run and stops the gateway. Stop errors are logged.
func (s *Supervisor) Cancel(ctx context.Context) {
	s.mu.Lock()
	s.cancelled = true
	runID := s.state.RunID
	settled := s.applyLocked(boot.Cancelled())
	s.abortLocked()
	s.mu.Unlock()
	s.report(settled)

	s.logger.Info("boot cancelled", "run_id", runID)
	if err := s.launcher.StopGateway(ctx); err != nil {
		s.logger.Warn("stopping gateway after cancel", "run_id", runID, "error", err)
	}
}

// Reset returns the state to idle. A loop still running notices on its next
// guard check and exits without writing.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.cancelled = false
	s.abortLocked()
	s.applyLocked(boot.Reset())
	s.mu.Unlock()
}

// UpdateTiming replaces the polling configuration for subsequent runs.
func (s *Supervisor) UpdateTiming(t Timing) {
	t = t.withDefaults()
	s.warnTiming(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timing = t
}

// State returns the current state.
func (s *Supervisor) State() boot.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current state with metrics computed now.
func (s *Supervisor) Snapshot() boot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() boot.Snapshot {
	maxWait := s.timing.MaxWait
	if s.state.RunID != 0 {
		maxWait = s.runTiming.MaxWait
	}
	return boot.NewSnapshot(s.state, s.now(), maxWait)
}

// Subscribe returns a channel that receives a snapshot after every state
// change. Only the latest undelivered snapshot is kept. The channel is
// closed by the returned cancel func or by Close.
func (s *Supervisor) Subscribe() (<-chan boot.Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan boot.Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Wait blocks until no run is in flight and returns the state at that point.
func (s *Supervisor) Wait(ctx context.Context) (boot.State, error) {
	for {
		s.mu.Lock()
		st, changed := s.state, s.changed
		s.mu.Unlock()
		if !st.Phase.Active() {
			return st, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Close stops every polling loop and waits for them to exit. The gateway
// itself is left running. State stays readable after Close.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	s.abortLocked()
	s.baseCancel()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// dispatch applies a to the state if runID is still the live run.
func (s *Supervisor) dispatch(runID uint64, a boot.Action) bool {
	s.mu.Lock()
	if !s.currentLocked(runID) {
		s.mu.Unlock()
		return false
	}
	settled := s.applyLocked(a)
	s.mu.Unlock()
	s.report(settled)
	return true
}

func (s *Supervisor) current(runID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(runID)
}

func (s *Supervisor) currentLocked(runID uint64) bool {
	return !s.cancelled && !s.closed && s.state.RunID == runID
}

func (s *Supervisor) abortLocked() {
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
}

// applyLocked reduces a into the state, notifies watchers and starts the
// polling loop when a run first reaches polling. It returns the state to
// report to OnSettled, if this action settled the run.
func (s *Supervisor) applyLocked(a boot.Action) *boot.State {
	s.state = boot.Reduce(s.state, a)
	st := s.state

	close(s.changed)
	s.changed = make(chan struct{})

	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}

	if st.Phase == boot.PhasePolling && s.loopRun != st.RunID && !s.closed {
		s.loopRun = st.RunID
		s.wg.Add(1)
		go s.poll(s.runCtx, st.RunID, st.StartedAt, s.runTiming)
	}

	if st.Phase.Terminal() && st.RunID != 0 && s.settledRun != st.RunID {
		s.settledRun = st.RunID
		return &st
	}
	return nil
}

func (s *Supervisor) report(st *boot.State) {
	if st == nil || s.onSettled == nil {
		return
	}
	s.onSettled(*st)
}

// poll probes the health endpoint for one run until it settles.
func (s *Supervisor) poll(ctx context.Context, runID uint64, startedAt time.Time, t Timing) {
	defer s.wg.Done()

	ctx, span := s.tracer.Start(ctx, "supervisor.poll", trace.WithAttributes(
		attribute.Int64("run_id", int64(runID)),
		attribute.String("health_url", t.HealthURL),
	))
	defer span.End()

	logger := s.logger.With("run_id", runID)
	notReady := rate.Sometimes{First: 1, Interval: notReadyEvery}
	deadline := startedAt.Add(t.MaxWait)

	if t.HealthURL == "" {
		if s.dispatch(runID, boot.Fail(errNoHealthURL)) {
			span.SetStatus(codes.Error, errNoHealthURL)
			logger.Error("boot failed", "error", errNoHealthURL)
		}
		return
	}

	for attempt := 1; s.current(runID); attempt++ {
		if s.now().After(deadline) {
			msg := fmt.Sprintf("gateway did not become ready within %s", t.MaxWait)
			if s.dispatch(runID, boot.Fail(msg)) {
				span.SetStatus(codes.Error, msg)
				logger.Error("boot timed out", "attempts", attempt-1, "max_wait", t.MaxWait)
			}
			return
		}

		res := s.prober.Check(ctx, t.HealthURL, t.RequestTimeout)
		span.AddEvent("health.attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("ready", res.OK),
			attribute.String("result", res.String()),
		))
		if !s.dispatch(runID, boot.HealthAttempt(res.HTTPStatus, res.Readiness)) {
			return
		}

		if res.OK {
			if s.dispatch(runID, boot.Ready()) {
				logger.Info("gateway ready", "attempts", attempt,
					"elapsed", s.now().Sub(startedAt).Round(time.Millisecond))
				span.SetStatus(codes.Ok, "")
				s.runReadyHook(ctx, runID, logger)
			}
			return
		}

		notReady.Do(func() {
			logger.Info("gateway not ready yet", "attempt", attempt, "result", res.String())
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.PollInterval):
		}
	}
}

func (s *Supervisor) runReadyHook(ctx context.Context, runID uint64, logger *slog.Logger) {
	if s.onReady == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("ready hook panicked", "panic", r)
		}
	}()
	if err := s.onReady(ctx, runID); err != nil {
		logger.Warn("ready hook failed", "error", err)
	}
}
