package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-lockstep/v1/coordinator"
	"github.com/mirkobrombin/go-lockstep/v1/presets"
)

var (
	concurrency = pflag.IntP("concurrency", "c", 50, "Number of concurrent clients")
	requests    = pflag.IntP("requests", "n", 10000, "Total number of transactions")
	perTxn      = pflag.IntP("locks", "k", 2, "Resources locked by each transaction")
	resources   = pflag.IntP("resources", "r", 16, "Size of the shared resource pool")
	workers     = pflag.Int("workers", 0, "Executor workers (0 means 4*GOMAXPROCS)")
	work        = pflag.Duration("work", 0, "Time spent inside each transaction")
	lockTimeout = pflag.Duration("lock-timeout", 50*time.Millisecond, "Per-lock acquisition timeout")
)

func main() {
	pflag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	if err := validateFlags(*concurrency, *requests, *perTxn, *resources); err != nil {
		log.Fatal(err)
	}

	cfg := coordinator.DefaultConfig()
	cfg.LockTimeout = *lockTimeout
	c, err := presets.NewStandalone(*workers, coordinator.WithConfig(cfg))
	if err != nil {
		log.Fatalf("setup failed: %v", err)
	}

	log.Infof("starting benchmark: %d transactions, %d clients, %d of %d resources each",
		*requests, *concurrency, *perTxn, *resources)

	pool := make([]string, *resources)
	for i := range pool {
		pool[i] = fmt.Sprintf("res-%03d", i)
	}

	var (
		committed, exhausted, failed atomic.Int64
		mu                           sync.Mutex
		latencies                    = make([]time.Duration, 0, *requests)
		wg                           sync.WaitGroup
	)
	ctx := context.Background()
	perWorker := *requests / *concurrency
	start := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				ids := pick(pool, *perTxn)
				t0 := time.Now()
				out, _ := wait(ctx, c.Execute(ctx, ids, spin(*work)))
				local = append(local, time.Since(t0))
				switch {
				case out.Committed:
					committed.Add(1)
				case out.Err != nil:
					failed.Add(1)
				default:
					exhausted.Add(1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)
	if err := c.Shutdown(ctx); err != nil {
		log.Warnf("shutdown: %v", err)
	}

	slices.Sort(latencies)
	total := len(latencies)
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	fmt.Printf("| %-10s | %-10s | %-9s | %-6s | %-12s | %-12s |\n", "Txn/sec", "Committed", "Exhausted", "Failed", "Avg Latency", "P99 Latency")
	fmt.Println("|:---|:---|:---|:---|:---|:---|")
	fmt.Printf("| %-10.0f | %-10d | %-9d | %-6d | %-12s | %-12s |\n",
		float64(total)/elapsed.Seconds(),
		committed.Load(), exhausted.Load(), failed.Load(),
		(sum / time.Duration(total)).String(),
		latencies[total*99/100].String(),
	)
	if n := exhausted.Load() + failed.Load(); n > 0 {
		log.Infof("%d transactions did not commit: %s", n, strings.TrimSpace(hint(exhausted.Load())))
	}
}

func validateFlags(concurrency, requests, perTxn, resources int) error {
	switch {
	case concurrency < 1:
		return fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	case requests < concurrency:
		return fmt.Errorf("requests (%d) must be at least the concurrency (%d)", requests, concurrency)
	case resources < 1:
		return fmt.Errorf("resources must be at least 1, got %d", resources)
	case perTxn < 1 || perTxn > resources:
		return fmt.Errorf("locks per transaction must be in [1, %d], got %d", resources, perTxn)
	}
	return nil
}

// pick returns k distinct resources in random order, so ordering is left to
// the coordinator.
func pick(pool []string, k int) []string {
	idx := rand.Perm(len(pool))[:k]
	ids := make([]string, k)
	for i, j := range idx {
		ids[i] = pool[j]
	}
	return ids
}

func spin(d time.Duration) coordinator.Work {
	if d <= 0 {
		return nil
	}
	return func(ctx context.Context) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func wait(ctx context.Context, f *coordinator.Future) (coordinator.Outcome, error) {
	if _, err := f.Wait(ctx); err != nil && ctx.Err() != nil {
		return coordinator.Outcome{}, err
	}
	out, _ := f.Outcome()
	return out, nil
}

func hint(exhausted int64) string {
	if exhausted > 0 {
		return "exhausted retries, try a larger --lock-timeout or fewer clients"
	}
	return "work returned errors"
}
