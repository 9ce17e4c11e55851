// Package coordinator runs transactions that need exclusive access to a set
// of named resources.
//
// Every attempt sorts the requested identifiers and acquires their locks in
// ascending order, each wait bounded by Config.LockTimeout. Because all
// attempts agree on that order, two transactions sharing resources can never
// wait on each other in a cycle, whatever order their callers listed the
// resources in. An attempt that cannot get every lock releases what it holds
// and is retried after Config.RetryDelay, up to Config.MaxAttempts attempts
// in total. Work errors are not retried.
//
//	reg := lock.NewRegistry()
//	c, _ := coordinator.New(reg, executor.NewPool())
//	f := c.Execute(ctx, []string{"resource-2", "resource-1"}, func(ctx context.Context) error {
//		return nil
//	})
//	committed, err := f.Wait(ctx)
package coordinator
