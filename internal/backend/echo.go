package backend

import (
	"context"
	"fmt"
	"time"
)

// Echo is a local Backend that answers with the last user message. It is
// used by demos and tests that must not reach a real model.
type Echo struct {
	// Prefix is prepended to every reply.
	Prefix string
	// Delay simulates model latency. The reply is abandoned if ctx ends first.
	Delay time.Duration
	// Err, when set, is returned instead of a reply.
	Err error
}

var _ Backend = (*Echo)(nil)

// Complete returns Prefix followed by the last user message.
func (e *Echo) Complete(ctx context.Context, messages []Message) (string, error) {
	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.Err != nil {
		return "", e.Err
	}
	return fmt.Sprintf("%s%s", e.Prefix, lastUser(messages)), nil
}
