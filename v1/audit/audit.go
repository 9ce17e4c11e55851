// Package audit periodically checks that the balances kept in an
// adapter.Store still add up to the amount of money put into it.
package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mirkobrombin/go-lockstep/v1/adapter"
	"github.com/mirkobrombin/go-lockstep/v1/coordinator"
)

// Mode defines what the auditor does on a mismatch.
type Mode int

const (
	// ModeNoop only counts mismatches.
	ModeNoop Mode = iota
	// ModeAlert also logs every mismatch.
	ModeAlert
)

// Auditor sums every account of a store while holding all of their locks, so
// no transfer can be half applied when it looks.
type Auditor struct {
	c        *coordinator.Coordinator
	store    adapter.Store
	expected int64
	mode     Mode
	interval time.Duration
	logger   *zap.Logger

	scans      uint64
	mismatches uint64
	last       atomic.Int64
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithMode sets the mismatch behaviour. The default is ModeAlert.
func WithMode(m Mode) Option {
	return func(a *Auditor) { a.mode = m }
}

// WithLogger sets the logger used in ModeAlert.
func WithLogger(l *zap.Logger) Option {
	return func(a *Auditor) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Auditor expecting store to always hold expected in total.
func New(c *coordinator.Coordinator, store adapter.Store, expected int64, interval time.Duration, opts ...Option) *Auditor {
	a := &Auditor{
		c:        c,
		store:    store,
		expected: expected,
		mode:     ModeAlert,
		interval: interval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the audit loop and blocks until ctx is done.
func (a *Auditor) Run(ctx context.Context) {
	if a.store == nil || a.interval <= 0 {
		return
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Scan(ctx); err != nil {
				a.logger.Debug("audit scan", zap.Error(err))
			}
		}
	}
}

// ErrIncomplete is returned by Scan when the coordinator could not lock every
// account within its retry budget.
var ErrIncomplete = errors.New("audit: accounts busy")

// Scan runs one audit and returns the observed total.
func (a *Auditor) Scan(ctx context.Context) (int64, error) {
	accounts, err := a.store.Accounts(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	ok, err := a.c.Execute(ctx, accounts, func(ctx context.Context) error {
		total = 0
		for _, acc := range accounts {
			b, err := a.store.Balance(ctx, acc)
			if err != nil {
				return err
			}
			total += b
		}
		return nil
	}).Wait(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrIncomplete
	}

	atomic.AddUint64(&a.scans, 1)
	a.last.Store(total)
	if total != a.expected {
		atomic.AddUint64(&a.mismatches, 1)
		if a.mode == ModeAlert {
			a.logger.Warn("balance total mismatch",
				zap.Int64("expected", a.expected),
				zap.Int64("observed", total),
				zap.Int("accounts", len(accounts)),
			)
		}
	}
	return total, nil
}

// Metrics returns the number of completed scans and of mismatches detected.
func (a *Auditor) Metrics() (scans, mismatches uint64) {
	return atomic.LoadUint64(&a.scans), atomic.LoadUint64(&a.mismatches)
}

// Last returns the total observed by the most recent completed scan.
func (a *Auditor) Last() int64 { return a.last.Load() }
