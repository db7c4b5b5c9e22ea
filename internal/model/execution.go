package model

import "time"

// WorkItem is one unit of input dispatched to a registered worker.
type WorkItem struct {
	ID    string `json:"id"`
	Input string `json:"input"`
}

// ExecutionResult is the outcome of dispatching a single work item. Exactly one
// is produced per dispatched item; failures are reported here, never raised.
type ExecutionResult struct {
	ItemID  string        `json:"item_id"`
	Output  string        `json:"output,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
}

// Failed builds an unsuccessful result for itemID.
func Failed(itemID string, elapsed time.Duration, msg string) ExecutionResult {
	return ExecutionResult{
		ItemID:  itemID,
		Elapsed: elapsed,
		Success: false,
		Error:   msg,
	}
}
