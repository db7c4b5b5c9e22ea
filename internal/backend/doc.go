// Package backend defines the model backend interface that agents call, an
// OpenAI-compatible chat client, a deterministic echo backend, and the Agent
// type that turns a backend plus prompts into a pool worker.
package backend
