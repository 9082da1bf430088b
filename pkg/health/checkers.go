package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// Runtime is the liveness check of the API process. It fails when more than
// maxGoroutines goroutines run, which points at leaked order or guard calls,
// or when a recent GC pause exceeded maxPause.
func Runtime(maxGoroutines int, maxPause time.Duration) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > maxGoroutines {
			return errors.Errorf("%d goroutines, limit %d", n, maxGoroutines)
		}
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if i := slices.IndexFunc(stats.Pause, func(p time.Duration) bool { return p > maxPause }); i >= 0 {
			return errors.Errorf("gc pause %s, limit %s", stats.Pause[i], maxPause)
		}
		return nil
	}
}

// Ping is the readiness check of a backing store: PostgreSQL for coupons and
// orders, Redis for idempotency guards.
func Ping(store string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrapf(err, "%s unreachable", store)
		}
		return nil
	}
}
