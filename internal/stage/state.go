package stage

// Runner states.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StatePublished = "published"
	StateFailed    = "failed"
)

// validTransitions maps each state to the states it may move to.
var validTransitions = map[string]map[string]bool{
	StateIdle: {
		StateRunning: true,
	},
	StateRunning: {
		StatePublished: true,
		StateFailed:    true,
	},
}

// ValidTransition reports whether a runner may move from one state to another.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether state is an end state.
func Terminal(state string) bool {
	return state == StatePublished || state == StateFailed
}
