package presets

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mirkobrombin/go-lockstep/v1/coordinator"
)

func TestNewStandalone(t *testing.T) {
	c, err := NewStandalone(4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()
	if c.Config() != coordinator.DefaultConfig() {
		t.Fatalf("expected default config, got %+v", c.Config())
	}
	ok, err := c.Execute(context.Background(), []string{"a", "b"}, nil).Wait(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected commit, ok %v err %v", ok, err)
	}
}

func TestNewStandaloneInvalidConfig(t *testing.T) {
	_, err := NewStandalone(1, coordinator.WithConfig(coordinator.Config{}))
	if err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestNewRedisSimulator(t *testing.T) {
	mr := miniredis.RunT(t)
	s, closeFn, err := NewRedisSimulator(RedisOptions{Addr: mr.Addr()}, 2,
		coordinator.WithConfig(coordinator.Config{LockTimeout: time.Second, MaxAttempts: 2}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = closeFn() }()

	ctx := context.Background()
	if err := s.Store().Apply(ctx, map[string]int64{"a": 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ok, err := s.Transfer(ctx, "a", "b", 4).Wait(ctx)
	if err != nil || !ok {
		t.Fatalf("transfer: ok %v err %v", ok, err)
	}
	if v, _ := mr.Get("lockstep:balance:b"); v != "4" {
		t.Fatalf("expected b=4 in redis, got %q", v)
	}
}
