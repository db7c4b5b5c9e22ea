package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/throttle"
)

// Options configures the pool throttles.
type Options struct {
	// MaxConcurrent bounds how many workers execute at once.
	MaxConcurrent int
	// Rate is the long-run number of worker invocations allowed per second.
	Rate float64
	// Capacity is the number of invocations allowed in an initial burst.
	Capacity int
	// DispatchTimeout bounds a DispatchAll call that passes no timeout of its
	// own. Zero means no bound.
	DispatchTimeout time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Registered    int     `json:"registered"`
	MaxConcurrent int     `json:"max_concurrent"`
	Active        int     `json:"active"`
	Peak          int     `json:"peak"`
	Rate          float64 `json:"rate"`
	Capacity      int     `json:"capacity"`
	Tokens        float64 `json:"tokens"`
}

// Pool holds registered workers and dispatches input to them through the
// concurrency gate and the rate limiter. It is safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	workers map[string]Worker

	gate    *throttle.Gate
	limiter *throttle.RateLimiter
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an empty pool.
func New(opts Options, logger *slog.Logger) (*Pool, error) {
	gate, err := throttle.NewGate(opts.MaxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("create gate: %w", err)
	}
	limiter, err := throttle.NewRateLimiter(opts.Rate, opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	return &Pool{
		workers: make(map[string]Worker),
		gate:    gate,
		limiter: limiter,
		timeout: opts.DispatchTimeout,
		logger:  logger,
	}, nil
}

// Register associates id with w. An existing registration is overwritten.
func (p *Pool) Register(id string, w Worker) {
	p.mu.Lock()
	_, exists := p.workers[id]
	p.workers[id] = w
	n := len(p.workers)
	p.mu.Unlock()

	if exists {
		p.logger.Warn("worker already registered, overwriting", "worker_id", id)
	}
	registeredWorkers.Set(float64(n))
	p.logger.Debug("worker registered", "worker_id", id)
}

// RegisterN registers n workers built by factory under the ids
// <prefix>_001, <prefix>_002, ... and returns the ids in order.
func (p *Pool) RegisterN(prefix string, n int, factory func(i int) Worker) []string {
	ids := make([]string, 0, n)
	for i := range n {
		id := fmt.Sprintf("%s_%03d", prefix, i+1)
		p.Register(id, factory(i))
		ids = append(ids, id)
	}
	p.logger.Info("workers registered", "prefix", prefix, "count", n)
	return ids
}

// Deregister removes id from the pool and reports whether it was registered.
func (p *Pool) Deregister(id string) bool {
	p.mu.Lock()
	_, ok := p.workers[id]
	delete(p.workers, id)
	n := len(p.workers)
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("deregister unknown worker", "worker_id", id)
		return false
	}
	registeredWorkers.Set(float64(n))
	p.logger.Info("worker deregistered", "worker_id", id)
	return true
}

// Clear removes every registered worker.
func (p *Pool) Clear() {
	p.mu.Lock()
	n := len(p.workers)
	p.workers = make(map[string]Worker)
	p.mu.Unlock()

	registeredWorkers.Set(0)
	p.logger.Info("pool cleared", "removed", n)
}

// Count returns the number of registered workers.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// IDs returns the registered worker ids, sorted.
func (p *Pool) IDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Stats returns the current registration and throttle state.
func (p *Pool) Stats() Stats {
	return Stats{
		Registered:    p.Count(),
		MaxConcurrent: p.gate.Max(),
		Active:        p.gate.Active(),
		Peak:          p.gate.Peak(),
		Rate:          p.limiter.Rate(),
		Capacity:      p.limiter.Capacity(),
		Tokens:        p.limiter.Tokens(),
	}
}

func (p *Pool) lookup(id string) (Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[id]
	return w, ok
}

// Dispatch runs input through the worker registered under id. It never
// returns an error: unknown ids, throttle cancellation, worker errors and
// worker panics are all reported as an unsuccessful result.
func (p *Pool) Dispatch(ctx context.Context, id, input string) model.ExecutionResult {
	w, ok := p.lookup(id)
	if !ok {
		msg := fmt.Sprintf("worker %q is not registered", id)
		p.logger.Error("dispatch to unregistered worker", "worker_id", id)
		dispatchTotal.WithLabelValues(resultUnregistered).Inc()
		return model.Failed(id, 0, msg)
	}

	if err := p.gate.Acquire(ctx); err != nil {
		dispatchTotal.WithLabelValues(resultThrottled).Inc()
		return model.Failed(id, 0, fmt.Sprintf("acquire concurrency slot: %v", err))
	}
	defer p.gate.Release()

	if err := p.limiter.Acquire(ctx); err != nil {
		dispatchTotal.WithLabelValues(resultThrottled).Inc()
		return model.Failed(id, 0, fmt.Sprintf("acquire rate token: %v", err))
	}

	start := time.Now()
	output, err := invoke(ctx, w, input)
	elapsed := time.Since(start)
	dispatchDuration.Observe(elapsed.Seconds())

	if err != nil {
		p.logger.Error("worker failed", "worker_id", id, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		dispatchTotal.WithLabelValues(resultFailed).Inc()
		return model.Failed(id, elapsed, err.Error())
	}

	dispatchTotal.WithLabelValues(resultSuccess).Inc()
	return model.ExecutionResult{
		ItemID:  id,
		Output:  output,
		Elapsed: elapsed,
		Success: true,
	}
}

// invoke calls the worker, converting a panic into an error.
func invoke(ctx context.Context, w Worker, input string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return w.Execute(ctx, input)
}

// DispatchAll runs Dispatch concurrently for every id in ids, or for every
// registered worker when ids is empty, and waits for all of them. The result
// map holds exactly one entry per distinct requested id.
//
// timeout bounds the whole fan-out; when it is zero the pool's
// DispatchTimeout applies. Items cut off by the timeout are reported as
// unsuccessful results. The timeout reaches workers only through ctx: a
// worker that ignores ctx keeps DispatchAll blocked until it returns, and
// whatever it returns is recorded as its result.
func (p *Pool) DispatchAll(ctx context.Context, input string, ids []string, timeout time.Duration) map[string]model.ExecutionResult {
	if len(ids) == 0 {
		ids = p.IDs()
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		p.logger.Warn("dispatch all: no workers to run")
		return map[string]model.ExecutionResult{}
	}

	if timeout <= 0 {
		timeout = p.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p.logger.Info("dispatch all started",
		"workers", len(ids),
		"max_concurrent", p.gate.Max(),
		"rate", p.limiter.Rate(),
	)

	results := make([]model.ExecutionResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Go(func() {
			results[i] = p.Dispatch(ctx, id, input)
		})
	}
	wg.Wait()

	out := make(map[string]model.ExecutionResult, len(ids))
	succeeded := 0
	for i, id := range ids {
		out[id] = results[i]
		if results[i].Success {
			succeeded++
		}
	}

	p.logger.Info("dispatch all finished", "succeeded", succeeded, "total", len(ids))
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
