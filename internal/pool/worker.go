package pool

import "context"

// Worker is a callable unit of work registered with the pool. Implementations
// must honor ctx cancellation; the pool relies on it to enforce timeouts.
type Worker interface {
	Execute(ctx context.Context, input string) (string, error)
}

// WorkerFunc adapts an ordinary function to the Worker interface.
type WorkerFunc func(ctx context.Context, input string) (string, error)

// Execute calls f(ctx, input).
func (f WorkerFunc) Execute(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}
