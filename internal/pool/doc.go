// Package pool runs many independent units of work against the model backend
// under two throttles: a concurrency gate and a token-bucket rate limiter.
// A work item first takes a concurrency slot, then a rate token, so items
// queued on the limiter never hold slots without making progress.
//
// Every dispatch produces exactly one ExecutionResult. Worker errors and
// panics are captured per item and never affect sibling items.
package pool
