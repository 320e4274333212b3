package transport

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"
)

// Well-known executor names.
const (
	ExecutorGeneric    = "generic"
	ExecutorManagement = "management"
)

// ErrRejectedExecution is returned when an executor is saturated and the handler is not forced.
var ErrRejectedExecution = errors.New("executor rejected execution")

// Executors bounds concurrency per named executor. Work runs on the calling goroutine.
type Executors struct {
	pools map[string]*semaphore.Weighted
}

// NewExecutors creates executors with the given capacities. The generic and management executors
// always exist; missing or non-positive sizes fall back to a CPU based default.
func NewExecutors(sizes map[string]int) *Executors {
	def := int64(runtime.GOMAXPROCS(0) * 4)

	e := &Executors{pools: make(map[string]*semaphore.Weighted, len(sizes)+2)}
	for name, size := range sizes {
		n := int64(size)
		if n <= 0 {
			n = def
		}
		e.pools[name] = semaphore.NewWeighted(n)
	}
	for _, name := range []string{ExecutorGeneric, ExecutorManagement} {
		if _, ok := e.pools[name]; !ok {
			e.pools[name] = semaphore.NewWeighted(def)
		}
	}
	return e
}

// Execute runs fn on the named executor. Unknown names use the generic executor.
// A saturated executor rejects fn unless force is set.
func (e *Executors) Execute(ctx context.Context, name string, force bool, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pool, ok := e.pools[name]
	if !ok {
		pool = e.pools[ExecutorGeneric]
	}

	if pool.TryAcquire(1) {
		defer pool.Release(1)
		return fn()
	}
	if force {
		return fn()
	}
	return errors.Wrapf(ErrRejectedExecution, "executor %q", name)
}
