package presets

import (
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-lockstep/v1/adapter"
	"github.com/mirkobrombin/go-lockstep/v1/coordinator"
	"github.com/mirkobrombin/go-lockstep/v1/executor"
	"github.com/mirkobrombin/go-lockstep/v1/lock"
	"github.com/mirkobrombin/go-lockstep/v1/simulator"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewStandalone creates a Coordinator with its own lock registry and a pool
// of the given number of workers (non-positive means the pool default).
func NewStandalone(workers int, opts ...coordinator.Option) (*coordinator.Coordinator, error) {
	return coordinator.New(lock.NewRegistry(), executor.NewPool(executor.WithWorkers(workers)), opts...)
}

// NewRedisSimulator creates a standalone Coordinator and a Simulator whose
// transfers keep balances in Redis. The returned function closes the Redis
// client; shutting down the coordinator is left to the caller.
func NewRedisSimulator(ro RedisOptions, workers int, opts ...coordinator.Option) (*simulator.Simulator, func() error, error) {
	c, err := NewStandalone(workers, opts...)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     ro.Addr,
		Password: ro.Password,
		DB:       ro.DB,
	})
	s := simulator.New(c, simulator.WithStore(adapter.NewRedisStore(client)))
	return s, client.Close, nil
}
