package model

import "time"

// Session status constants.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
)

// validSessionTransitions maps each session status to the statuses it may move to.
var validSessionTransitions = map[string]map[string]bool{
	SessionRunning: {
		SessionCompleted: true,
	},
}

// ValidSessionTransition reports whether a session may move from one status to another.
func ValidSessionTransition(from, to string) bool {
	targets, ok := validSessionTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Session is one workflow run. Stages of the same run share its ID.
type Session struct {
	ID          string     `json:"session_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
