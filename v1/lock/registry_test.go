package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryGetReturnsSameLock(t *testing.T) {
	r := NewRegistry()
	a := r.Get("resource-1")
	b := r.Get("resource-1")
	if a != b {
		t.Fatal("expected the same lock instance for the same key")
	}
	if r.Get("resource-2") == a {
		t.Fatal("expected distinct locks for distinct keys")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 locks, got %d", r.Len())
	}
}

func TestRegistryConcurrentFirstAccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(WithRegistryMetrics(reg))

	const workers = 64
	got := make([]*Mutex, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i] = r.Get("hot")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < workers; i++ {
		if got[i] != got[0] {
			t.Fatalf("worker %d received a different lock instance", i)
		}
	}
	if v := testutil.ToFloat64(r.createdCounter); v != 1 {
		t.Fatalf("expected exactly one lock created, got %v", v)
	}
}

func TestRegistryKeysSorted(t *testing.T) {
	r := NewRegistry()
	for _, k := range []string{"c", "a", "b"} {
		r.Get(k)
	}
	keys := r.Keys()
	want := []string{"a", "b", "c"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
}

func TestRegistryLocksShareState(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	tok, ok, _ := r.Get("k").TryAcquire(ctx, 0)
	if !ok {
		t.Fatal("acquire failed")
	}
	if _, ok, _ := r.Get("k").TryAcquire(ctx, 0); ok {
		t.Fatal("lock fetched again from the registry should already be held")
	}
	if err := r.Get("k").Release(tok); err != nil {
		t.Fatalf("release: %v", err)
	}
}
