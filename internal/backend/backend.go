package backend

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Backend is a language model that answers a conversation with one reply.
// Implementations must be safe for concurrent use and must return promptly
// once ctx is done.
type Backend interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, messages []Message) (string, error)

// Complete calls f.
func (f BackendFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// lastUser returns the content of the last user message, if any.
func lastUser(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
