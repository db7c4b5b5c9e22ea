package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
)

// Dispatcher runs input on a registered worker. *pool.Pool satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id, input string) model.ExecutionResult
}

// AgentResult is the payload published by stages backed by a pool worker.
type AgentResult struct {
	Worker    string   `json:"worker"`
	Output    string   `json:"output"`
	ElapsedMS int64    `json:"elapsed_ms"`
	Inputs    []string `json:"inputs,omitempty"`
}

// Collector wraps a function that needs no upstream inputs.
func Collector(fn func(ctx context.Context) (any, error)) AnalyzeFunc {
	return func(ctx context.Context, _ map[string]*model.OutputRecord) (any, error) {
		return fn(ctx)
	}
}

// DispatchAnalyze returns an AnalyzeFunc that sends task, followed by the
// payload of every available input, to worker id through d. A failed
// dispatch fails the stage.
func DispatchAnalyze(d Dispatcher, id, task string) AnalyzeFunc {
	return func(ctx context.Context, inputs map[string]*model.OutputRecord) (any, error) {
		prompt, used := BuildPrompt(task, inputs)
		res := d.Dispatch(ctx, id, prompt)
		if !res.Success {
			return nil, fmt.Errorf("worker %s: %s", id, res.Error)
		}
		return AgentResult{
			Worker:    id,
			Output:    res.Output,
			ElapsedMS: res.Elapsed.Milliseconds(),
			Inputs:    used,
		}, nil
	}
}

// BuildPrompt appends the inputs to task in output-type order and returns
// the prompt with the types it included.
func BuildPrompt(task string, inputs map[string]*model.OutputRecord) (string, []string) {
	types := make([]string, 0, len(inputs))
	for t := range inputs {
		types = append(types, t)
	}
	sort.Strings(types)

	var b strings.Builder
	b.WriteString(task)
	for _, t := range types {
		fmt.Fprintf(&b, "\n\n## %s\n", t)
		b.WriteString(inputText(inputs[t].Payload))
	}
	return b.String(), types
}

// inputText unwraps an AgentResult payload to its output text; any other
// payload is included as JSON.
func inputText(payload json.RawMessage) string {
	var ar AgentResult
	if err := json.Unmarshal(payload, &ar); err == nil && ar.Output != "" {
		return ar.Output
	}
	return string(payload)
}
