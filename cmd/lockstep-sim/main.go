package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-lockstep/v1/adapter"
	"github.com/mirkobrombin/go-lockstep/v1/audit"
	"github.com/mirkobrombin/go-lockstep/v1/coordinator"
	"github.com/mirkobrombin/go-lockstep/v1/events"
	"github.com/mirkobrombin/go-lockstep/v1/executor"
	"github.com/mirkobrombin/go-lockstep/v1/lock"
	"github.com/mirkobrombin/go-lockstep/v1/metrics"
	"github.com/mirkobrombin/go-lockstep/v1/simulator"
)

const initialBalance = 1000

func main() {
	cfg, err := Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newTracerProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(attribute.String("service.name", "lockstep-sim"))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func run(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	opts := []coordinator.Option{
		coordinator.WithConfig(cfg.Coordinator),
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(reg),
	}

	if cfg.Trace {
		tp, err := newTracerProvider()
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
		opts = append(opts, coordinator.WithTracerProvider(tp))
	}

	var pubs events.Multi
	if cfg.MetricsAddr != "" {
		bus := events.NewInMemoryBus(0)
		pubs = append(pubs, bus)
		srv := serveHTTP(cfg.MetricsAddr, reg, bus, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer conn.Close()
		pubs = append(pubs, events.NewNATSBus(conn, events.DefaultNATSSubject))
		logger.Info("publishing events to nats", zap.String("url", cfg.NATSURL))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, events.DefaultKafkaTopic, nil)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer func() { _ = kp.Close() }()
		pubs = append(pubs, kp)
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	}
	if len(pubs) > 0 {
		opts = append(opts, coordinator.WithEvents(pubs))
	}

	pool := executor.NewPool(executor.WithWorkers(cfg.Workers), executor.WithLogger(logger))
	c, err := coordinator.New(lock.NewRegistry(lock.WithRegistryMetrics(reg)), pool, opts...)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Coordinator.WorstCase())
		defer cancel()
		if err := c.Shutdown(sctx); err != nil {
			logger.Warn("coordinator shutdown", zap.Error(err))
		}
	}()

	var store adapter.Store = adapter.NewInMemoryStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		store = adapter.NewRedisStore(client)
	}

	sim := simulator.New(c,
		simulator.WithWorkDuration(cfg.WorkDuration),
		simulator.WithStore(store),
		simulator.WithLogger(logger),
	)

	if cfg.Pairs > 0 {
		if err := runPairs(ctx, sim, cfg.Pairs, logger); err != nil {
			return err
		}
	}
	if cfg.Transfers > 0 {
		return runTransfers(ctx, sim, c, cfg, logger)
	}
	return nil
}

func serveHTTP(addr string, reg *prometheus.Registry, bus events.Bus, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/events", events.SSEHandler(bus))
	mux.Handle("/events/ws", events.WebSocketHandler(bus))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics and events", zap.String("addr", addr))
	return srv
}

func runPairs(ctx context.Context, sim *simulator.Simulator, n int, logger *zap.Logger) error {
	start := time.Now()
	results, err := sim.RunPairs(ctx, n)
	if err != nil {
		return err
	}
	var committed, both, neither int
	for _, r := range results {
		if r.A.Committed {
			committed++
		}
		if r.B.Committed {
			committed++
		}
		switch {
		case r.A.Committed && r.B.Committed:
			both++
		case !r.AnyCommitted():
			neither++
		}
	}
	logger.Info("pairs finished",
		zap.Int("pairs", n),
		zap.Int("committed", committed),
		zap.Int("both_committed", both),
		zap.Int("none_committed", neither),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func runTransfers(ctx context.Context, sim *simulator.Simulator, c *coordinator.Coordinator, cfg *Config, logger *zap.Logger) error {
	names := make([]string, cfg.Accounts)
	seed := make(map[string]int64, cfg.Accounts)
	for i := range names {
		names[i] = fmt.Sprintf("account-%d", i)
		seed[names[i]] = initialBalance
	}
	if err := sim.Store().Apply(ctx, seed); err != nil {
		return fmt.Errorf("seed balances: %w", err)
	}
	expected, err := adapter.Total(ctx, sim.Store())
	if err != nil {
		return err
	}

	auditor := audit.New(c, sim.Store(), expected, cfg.AuditInterval, audit.WithLogger(logger))
	auditCtx, stopAudit := context.WithCancel(ctx)
	audited := make(chan struct{})
	go func() {
		defer close(audited)
		auditor.Run(auditCtx)
	}()

	start := time.Now()
	futures := make([]*coordinator.Future, cfg.Transfers)
	for i := range futures {
		from := names[rand.IntN(len(names))]
		to := names[rand.IntN(len(names))]
		futures[i] = sim.Transfer(ctx, from, to, rand.Int64N(initialBalance/10)+1)
	}
	err = coordinator.WaitAll(ctx, futures...)
	stopAudit()
	<-audited
	if err != nil {
		return err
	}

	var committed, failed, exhausted int
	for _, f := range futures {
		out, _ := f.Outcome()
		switch {
		case out.Committed:
			committed++
		case out.Err != nil:
			failed++
		default:
			exhausted++
		}
	}
	total, err := auditor.Scan(ctx)
	if err != nil {
		return fmt.Errorf("final audit: %w", err)
	}
	scans, mismatches := auditor.Metrics()
	logger.Info("transfers finished",
		zap.Int("transfers", cfg.Transfers),
		zap.Int("committed", committed),
		zap.Int("failed", failed),
		zap.Int("exhausted", exhausted),
		zap.Int64("total_balance", total),
		zap.Uint64("audits", scans),
		zap.Uint64("audit_mismatches", mismatches),
		zap.Duration("elapsed", time.Since(start)),
	)
	if mismatches > 0 {
		return fmt.Errorf("balance total drifted: got %d, want %d", total, expected)
	}
	return nil
}
