// Package simulator drives the coordinator with the two-service contention
// scenario: ServiceA locks resource-1 then resource-2, ServiceB asks for the
// same pair in the opposite order. It also runs balance transfers whose
// read-modify-write is only correct under mutual exclusion.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-lockstep/v1/adapter"
	"github.com/mirkobrombin/go-lockstep/v1/coordinator"
)

const (
	Resource1 = "resource-1"
	Resource2 = "resource-2"

	DefaultWorkDuration = 100 * time.Millisecond
)

// ErrInsufficientFunds is returned by transfer work when the source account
// cannot cover the amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Simulator issues transactions against a Coordinator.
type Simulator struct {
	c            *coordinator.Coordinator
	store        adapter.Store
	workDuration time.Duration
	logger       *zap.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithWorkDuration sets how long the simulated service work takes.
func WithWorkDuration(d time.Duration) Option {
	return func(s *Simulator) {
		s.workDuration = d
	}
}

// WithStore sets the balance store used by Transfer. Defaults to an
// in-memory store.
func WithStore(st adapter.Store) Option {
	return func(s *Simulator) {
		if st != nil {
			s.store = st
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Simulator issuing transactions through c.
func New(c *coordinator.Coordinator, opts ...Option) *Simulator {
	s := &Simulator{
		c:            c,
		store:        adapter.NewInMemoryStore(),
		workDuration: DefaultWorkDuration,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the balance store used by Transfer.
func (s *Simulator) Store() adapter.Store { return s.store }

// ServiceA locks resource-1 and resource-2, in that order as far as the
// caller is concerned.
func (s *Simulator) ServiceA(ctx context.Context) *coordinator.Future {
	return s.c.Execute(ctx, []string{Resource1, Resource2}, s.operation("ServiceA"))
}

// ServiceB asks for the same resources as ServiceA in reverse order.
func (s *Simulator) ServiceB(ctx context.Context) *coordinator.Future {
	return s.c.Execute(ctx, []string{Resource2, Resource1}, s.operation("ServiceB"))
}

func (s *Simulator) operation(service string) coordinator.Work {
	return func(ctx context.Context) error {
		s.logger.Info("performing transactional operation", zap.String("service", service))
		if s.workDuration <= 0 {
			return nil
		}
		t := time.NewTimer(s.workDuration)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Transfer moves amount from one account to another while holding both
// accounts' locks. The balances are read, checked and written back without
// any store-level atomicity, so correctness rests on the coordinator.
func (s *Simulator) Transfer(ctx context.Context, from, to string, amount int64) *coordinator.Future {
	return s.c.Execute(ctx, []string{from, to}, func(ctx context.Context) error {
		if from == to {
			return nil
		}
		src, err := s.store.Balance(ctx, from)
		if err != nil {
			return err
		}
		if src < amount {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, src, amount)
		}
		dst, err := s.store.Balance(ctx, to)
		if err != nil {
			return err
		}
		return s.store.Apply(ctx, map[string]int64{from: src - amount, to: dst + amount})
	})
}

// PairResult is the outcome of one concurrent ServiceA/ServiceB pair.
type PairResult struct {
	A, B coordinator.Outcome
}

// AnyCommitted reports whether at least one side of the pair committed.
func (p PairResult) AnyCommitted() bool { return p.A.Committed || p.B.Committed }

// RunPairs launches n ServiceA/ServiceB pairs concurrently and waits for all
// of them. It fails only if ctx ends before every transaction resolves.
func (s *Simulator) RunPairs(ctx context.Context, n int) ([]PairResult, error) {
	results := make([]PairResult, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		a, b := s.ServiceA(ctx), s.ServiceB(ctx)
		g.Go(func() error {
			if err := coordinator.WaitAll(gctx, a, b); err != nil {
				return err
			}
			results[i].A, _ = a.Outcome()
			results[i].B, _ = b.Outcome()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
