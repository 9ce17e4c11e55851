package coordinator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
	"github.com/mirkobrombin/go-lockstep/v1/events"
	"github.com/mirkobrombin/go-lockstep/v1/executor"
	"github.com/mirkobrombin/go-lockstep/v1/lock"
)

const tracerName = "github.com/mirkobrombin/go-lockstep/v1/coordinator"

// Work is the transactional logic run while every requested lock is held.
// It must not acquire registry locks itself.
type Work func(ctx context.Context) error

// Coordinator executes transactions over a shared lock registry.
type Coordinator struct {
	reg    *lock.Registry
	exec   executor.Executor
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
	pub    events.Publisher

	attemptCounter  prometheus.Counter
	resultCounter   *prometheus.CounterVec
	timeoutCounter  prometheus.Counter
	waitHist        prometheus.Histogram
	inflightGauge   prometheus.Gauge
	metricsEnabled  bool
	metricsRegistry prometheus.Registerer

	mu     sync.RWMutex
	closed bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig replaces the default acquisition and retry policy.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithEvents publishes every state transition to pub.
func WithEvents(pub events.Publisher) Option {
	return func(c *Coordinator) {
		c.pub = pub
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.metricsEnabled = true
		c.metricsRegistry = reg
	}
}

func (c *Coordinator) initMetrics() error {
	c.attemptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_attempts_total",
		Help: "Total number of transaction attempts",
	})
	c.resultCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_transactions_total",
		Help: "Total number of resolved transactions by result",
	}, []string{"result"})
	c.timeoutCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_acquire_timeouts_total",
		Help: "Total number of lock acquisitions that timed out",
	})
	c.waitHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockstep_lock_wait_seconds",
		Help:    "Time spent waiting for individual resource locks",
		Buckets: prometheus.DefBuckets,
	})
	c.inflightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_inflight_transactions",
		Help: "Current number of unresolved transactions",
	})
	for _, col := range []prometheus.Collector{c.attemptCounter, c.resultCounter, c.timeoutCounter, c.waitHist, c.inflightGauge} {
		if err := c.metricsRegistry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// New returns a Coordinator that takes locks from reg and runs attempts on
// exec. The coordinator owns exec from now on: Shutdown shuts it down.
func New(reg *lock.Registry, exec executor.Executor, opts ...Option) (*Coordinator, error) {
	if reg == nil || exec == nil {
		return nil, fmt.Errorf("%w: registry and executor are required", lserrors.ErrInvalidConfig)
	}
	c := &Coordinator{
		reg:    reg,
		exec:   exec,
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if c.metricsEnabled {
		if err := c.initMetrics(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Config returns the policy in use.
func (c *Coordinator) Config() Config { return c.cfg }

// Registry returns the registry locks are taken from.
func (c *Coordinator) Registry() *lock.Registry { return c.reg }

type heldLock struct {
	m   *lock.Mutex
	tok lock.Token
}

// transaction is the state carried across the attempts of one Execute call.
type transaction struct {
	id        string
	ctx       context.Context
	span      trace.Span
	resources []string
	work      Work
	future    *Future
	// attempt is the 0-based index of the current attempt; attempts counts
	// the attempts actually made.
	attempt  int
	attempts int
}

// Execute runs work once every lock named by ids is held. The order of ids is
// irrelevant and duplicates are ignored. Execute never waits for the
// transaction; the returned Future resolves when it commits, fails or
// exhausts its attempts.
//
// ctx bounds lock waits and is handed to work. Once it ends, the transaction
// stops retrying and resolves with ctx.Err().
func (c *Coordinator) Execute(ctx context.Context, ids []string, work Work) *Future {
	if work == nil {
		work = func(context.Context) error { return nil }
	}
	resources := slices.Clone(ids)
	slices.Sort(resources)
	resources = slices.Compact(resources)

	id, err := uuid.GenerateUUID()
	if err != nil {
		f := newFuture("")
		f.resolve(Outcome{Err: err})
		return f
	}

	ctx, span := c.tracer.Start(ctx, "Coordinator.Execute", trace.WithAttributes(
		attribute.String("lockstep.txn", id),
		attribute.StringSlice("lockstep.resources", resources),
	))
	t := &transaction{
		id:        id,
		ctx:       ctx,
		span:      span,
		resources: resources,
		work:      work,
		future:    newFuture(id),
	}
	if c.inflightGauge != nil {
		c.inflightGauge.Inc()
	}
	c.publish(t, events.StatePending, nil)

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		c.finish(t, false, lserrors.ErrShutdown)
		return t.future
	}
	if err := c.exec.Go(func() { c.run(t) }); err != nil {
		c.finish(t, false, err)
	}
	return t.future
}

// run performs the current attempt and decides what follows it.
func (c *Coordinator) run(t *transaction) {
	ran, err := c.attempt(t)
	switch {
	case ran:
		if err != nil {
			err = fmt.Errorf("%w: %w", lserrors.ErrWorkFailed, err)
		}
		c.finish(t, err == nil, err)
	case err != nil:
		c.publish(t, events.StateFailedAttempt, err)
		c.finish(t, false, err)
	case t.attempt < c.cfg.MaxAttempts-1:
		c.publish(t, events.StateFailedAttempt, nil)
		t.attempt++
		c.publish(t, events.StateRetryWait, nil)
		if err := c.exec.AfterFunc(c.retryDelay(), func() { c.run(t) }); err != nil {
			c.logger.Warn("coordinator: retry rejected",
				zap.String("txn", t.id),
				zap.Int("attempt", t.attempt),
				zap.Error(err))
			c.finish(t, false, err)
		}
	default:
		c.publish(t, events.StateFailedAttempt, nil)
		c.finish(t, false, nil)
	}
}

// attempt tries to take every lock in order and, if it gets them all, runs
// the work. ran reports whether the work was invoked; err is then the work's
// error. When ran is false a non-nil err means the context ended before or
// while waiting, and a nil err means a lock wait timed out. Held locks are
// always released in reverse order before attempt returns.
//
// The RUNNING event carries the time the work started but is published only
// after the release, so publishers never run inside the critical section.
func (c *Coordinator) attempt(t *transaction) (ran bool, err error) {
	ctx, span := c.tracer.Start(t.ctx, "Coordinator.attempt", trace.WithAttributes(
		attribute.Int("lockstep.attempt", t.attempt),
	))
	defer span.End()
	t.attempts++
	if c.attemptCounter != nil {
		c.attemptCounter.Inc()
	}
	c.publish(t, events.StateAcquiring, nil)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	var runningAt time.Time
	defer func() {
		if !runningAt.IsZero() {
			c.publishAt(t, events.StateRunning, nil, runningAt)
		}
	}()

	held := make([]heldLock, 0, len(t.resources))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			if rerr := held[i].m.Release(held[i].tok); rerr != nil {
				c.logger.Warn("coordinator: release failed",
					zap.String("txn", t.id),
					zap.String("resource", held[i].m.Key()),
					zap.Error(rerr))
			}
		}
	}()

	for _, id := range t.resources {
		m := c.reg.Get(id)
		start := time.Now()
		tok, ok, err := m.TryAcquire(ctx, c.cfg.LockTimeout)
		if c.waitHist != nil {
			c.waitHist.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
		if !ok {
			if c.timeoutCounter != nil {
				c.timeoutCounter.Inc()
			}
			span.SetAttributes(attribute.String("lockstep.timeout_resource", id))
			c.logger.Debug("coordinator: lock wait timed out",
				zap.String("txn", t.id),
				zap.String("resource", id),
				zap.Int("attempt", t.attempt))
			return false, nil
		}
		held = append(held, heldLock{m: m, tok: tok})
	}

	runningAt = time.Now()
	if err := runWork(ctx, t.work); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, err
	}
	return true, nil
}

func runWork(ctx context.Context, w Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w(ctx)
}

func (c *Coordinator) retryDelay() time.Duration {
	d := c.cfg.RetryDelay
	if c.cfg.RetryJitter > 0 {
		d += time.Duration(rand.Int64N(int64(c.cfg.RetryJitter)))
	}
	return d
}

// finish resolves the transaction. A false commit with a nil error is retry
// exhaustion.
func (c *Coordinator) finish(t *transaction, committed bool, err error) {
	state, result := events.StateFailed, "failed"
	switch {
	case committed:
		state, result = events.StateSucceeded, "committed"
	case err == nil:
		state, result = events.StateExhausted, "exhausted"
	}
	c.publish(t, state, err)

	if c.resultCounter != nil {
		c.resultCounter.WithLabelValues(result).Inc()
	}
	if c.inflightGauge != nil {
		c.inflightGauge.Dec()
	}
	c.logger.Info("coordinator: transaction resolved",
		zap.String("txn", t.id),
		zap.Strings("resources", t.resources),
		zap.String("result", result),
		zap.Int("attempts", t.attempts),
		zap.Error(err))

	t.span.SetAttributes(
		attribute.String("lockstep.result", result),
		attribute.Int("lockstep.attempts", t.attempts),
	)
	if err != nil {
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()

	t.future.resolve(Outcome{
		TxnID:     t.id,
		Committed: committed,
		Attempts:  t.attempts,
		Err:       err,
	})
}

func (c *Coordinator) publish(t *transaction, state events.State, err error) {
	c.publishAt(t, state, err, time.Now())
}

func (c *Coordinator) publishAt(t *transaction, state events.State, err error, at time.Time) {
	if c.pub == nil {
		return
	}
	ev := events.Event{
		TxnID:     t.id,
		State:     state,
		Attempt:   t.attempt,
		Resources: t.resources,
		Time:      at,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := c.pub.Publish(context.WithoutCancel(t.ctx), ev); perr != nil {
		c.logger.Warn("coordinator: event publish failed",
			zap.String("txn", t.id),
			zap.String("state", string(state)),
			zap.Error(perr))
	}
}

// Shutdown stops accepting transactions and shuts the executor down. Attempts
// already running finish normally; a transaction that would need another
// attempt after this point resolves with errors.ErrShutdown. Shutdown is
// idempotent.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.exec.Shutdown(ctx)
}
