package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SessionStore is the store surface a Workflow needs.
type SessionStore interface {
	Store
	OpenSession(ctx context.Context, id string) (string, error)
	CompleteSession(ctx context.Context, sessionID string) error
}

// Spec pairs a stage configuration with its analysis function.
type Spec struct {
	Config
	Analyze AnalyzeFunc
}

// StageReport is the outcome of one stage.
type StageReport struct {
	Name       string        `json:"name"`
	OutputType string        `json:"output_type"`
	State      string        `json:"state"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// Report is the outcome of one workflow run.
type Report struct {
	SessionID string        `json:"session_id"`
	Stages    []StageReport `json:"stages"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Failed returns the names of failed stages.
func (r *Report) Failed() []string {
	var names []string
	for _, s := range r.Stages {
		if s.State == StateFailed {
			names = append(names, s.Name)
		}
	}
	return names
}

// Workflow runs a fixed set of stages for one session at a time.
type Workflow struct {
	store  SessionStore
	stages []Spec
	logger *slog.Logger
}

// NewWorkflow creates a workflow over stages.
func NewWorkflow(st SessionStore, stages []Spec, logger *slog.Logger) *Workflow {
	return &Workflow{store: st, stages: stages, logger: logger}
}

// Run opens a new session (sessionID may be empty), runs every stage
// concurrently and completes the session once all have finished. A stage
// failure never stops its siblings; the first failure is returned along
// with the full report. A sessionID that is already taken fails before any
// stage starts.
func (w *Workflow) Run(ctx context.Context, sessionID string) (*Report, error) {
	start := time.Now()
	id, err := w.store.OpenSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	logger := w.logger.With("session_id", id)
	logger.Info("workflow started", "stages", len(w.stages))

	runners := make([]*Runner, len(w.stages))
	for i, spec := range w.stages {
		runners[i] = NewRunner(spec.Config, id, w.store, spec.Analyze, w.logger)
	}

	report := &Report{SessionID: id, Stages: make([]StageReport, len(runners))}

	var g errgroup.Group
	for i, r := range runners {
		g.Go(func() error {
			_, err := r.Run(ctx)
			d, _ := r.Duration()
			sr := StageReport{
				Name:       r.Name(),
				OutputType: r.OutputType(),
				State:      r.State(),
				Duration:   d,
			}
			if err != nil {
				sr.Error = err.Error()
			}
			report.Stages[i] = sr
			return err
		})
	}
	runErr := g.Wait()

	if err := w.store.CompleteSession(ctx, id); err != nil {
		logger.Error("complete session failed", "error", err)
	}
	report.Elapsed = time.Since(start)

	if runErr != nil {
		logger.Warn("workflow finished with failures", "failed", report.Failed(), "elapsed", report.Elapsed)
		return report, runErr
	}
	logger.Info("workflow complete", "elapsed", report.Elapsed)
	return report, nil
}
