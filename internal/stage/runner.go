package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
)

// DefaultInputTimeout bounds the wait for upstream outputs.
const DefaultInputTimeout = 60 * time.Second

var (
	// ErrAlreadyRun is returned by a second call to Runner.Run.
	ErrAlreadyRun = errors.New("stage already run")

	// ErrMissingInputs is returned when a stage that requires all of its
	// inputs is still missing some when the wait ends.
	ErrMissingInputs = errors.New("required inputs not available")
)

// AnalyzeFunc computes a stage result from its inputs, keyed by output type.
// Inputs missing at the end of the wait are absent from the map. The result
// must be JSON encodable.
type AnalyzeFunc func(ctx context.Context, inputs map[string]*model.OutputRecord) (any, error)

// Store is the part of the handoff store a Runner uses.
type Store interface {
	Publish(ctx context.Context, sessionID, producer, outputType string, payload any, status string) error
	GetMany(ctx context.Context, sessionID string, outputTypes []string, timeout time.Duration) (map[string]*model.OutputRecord, error)
}

// Config describes one stage.
type Config struct {
	// Name identifies the stage as the producer of its records.
	Name string
	// OutputType is the type the stage publishes.
	OutputType string
	// Inputs are the upstream output types to wait for. Empty means the
	// stage starts immediately.
	Inputs []string
	// InputTimeout defaults to DefaultInputTimeout.
	InputTimeout time.Duration
	// RequireAllInputs fails the stage instead of analyzing a partial set.
	RequireAllInputs bool
}

// Runner runs one stage of one session exactly once.
type Runner struct {
	cfg       Config
	sessionID string
	store     Store
	analyze   AnalyzeFunc
	logger    *slog.Logger

	mu    sync.Mutex
	state string
	start time.Time
	end   time.Time
}

// NewRunner creates an idle runner.
func NewRunner(cfg Config, sessionID string, st Store, fn AnalyzeFunc, logger *slog.Logger) *Runner {
	if cfg.InputTimeout <= 0 {
		cfg.InputTimeout = DefaultInputTimeout
	}
	return &Runner{
		cfg:       cfg,
		sessionID: sessionID,
		store:     st,
		analyze:   fn,
		logger:    logger.With("stage", cfg.Name, "session_id", sessionID),
		state:     StateIdle,
	}
}

// Name returns the stage name.
func (r *Runner) Name() string { return r.cfg.Name }

// OutputType returns the type the stage publishes.
func (r *Runner) OutputType() string { return r.cfg.OutputType }

// State returns the current state.
func (r *Runner) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Completed reports whether the runner reached an end state.
func (r *Runner) Completed() bool {
	return Terminal(r.State())
}

// Duration returns the run time. The second value is false until the run
// has completed.
func (r *Runner) Duration() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !Terminal(r.state) {
		return 0, false
	}
	return r.end.Sub(r.start), true
}

// Run waits for inputs, analyzes them and publishes the result. On failure a
// failure record is published under the stage's output type and the error is
// returned.
func (r *Runner) Run(ctx context.Context) (json.RawMessage, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	r.logger.Info("stage started", "inputs", r.cfg.Inputs)

	payload, err := r.execute(ctx)
	if err == nil {
		err = r.store.Publish(ctx, r.sessionID, r.cfg.Name, r.cfg.OutputType, payload, model.OutputCompleted)
		if err != nil {
			err = fmt.Errorf("publish %s: %w", r.cfg.OutputType, err)
		}
	} else {
		failure := model.FailurePayload{Error: err.Error(), Status: model.OutputFailed}
		if perr := r.store.Publish(ctx, r.sessionID, r.cfg.Name, r.cfg.OutputType, failure, model.OutputFailed); perr != nil {
			r.logger.Error("publish failure record failed", "error", perr)
		}
	}

	state := StatePublished
	if err != nil {
		state = StateFailed
	}
	elapsed := r.finish(state)

	runsTotal.WithLabelValues(r.cfg.Name, state).Inc()
	runDuration.WithLabelValues(r.cfg.Name).Observe(elapsed.Seconds())

	if err != nil {
		r.logger.Error("stage failed", "error", err, "duration", elapsed)
		return nil, fmt.Errorf("stage %s: %w", r.cfg.Name, err)
	}
	r.logger.Info("stage published", "output_type", r.cfg.OutputType, "duration", elapsed)
	return payload, nil
}

func (r *Runner) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ValidTransition(r.state, StateRunning) {
		return fmt.Errorf("stage %s in state %s: %w", r.cfg.Name, r.state, ErrAlreadyRun)
	}
	r.state = StateRunning
	r.start = time.Now()
	return nil
}

func (r *Runner) finish(state string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.end = time.Now()
	return r.end.Sub(r.start)
}

// execute returns the encoded result of the analysis function.
func (r *Runner) execute(ctx context.Context) (json.RawMessage, error) {
	inputs, err := r.waitForInputs(ctx)
	if err != nil {
		return nil, err
	}

	result, err := r.callAnalyze(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

func (r *Runner) waitForInputs(ctx context.Context) (map[string]*model.OutputRecord, error) {
	if len(r.cfg.Inputs) == 0 {
		return map[string]*model.OutputRecord{}, nil
	}

	inputs, err := r.store.GetMany(ctx, r.sessionID, r.cfg.Inputs, r.cfg.InputTimeout)
	if err != nil {
		return nil, fmt.Errorf("wait for inputs: %w", err)
	}

	var missing []string
	for _, t := range r.cfg.Inputs {
		if _, ok := inputs[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		missingInputs.WithLabelValues(r.cfg.Name).Add(float64(len(missing)))
		if r.cfg.RequireAllInputs {
			return nil, fmt.Errorf("%s: %w", strings.Join(missing, ", "), ErrMissingInputs)
		}
		r.logger.Warn("some inputs missing, analyzing partial set", "missing", missing)
	}
	return inputs, nil
}

func (r *Runner) callAnalyze(ctx context.Context, inputs map[string]*model.OutputRecord) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("analyze panicked: %v", p)
		}
	}()
	return r.analyze(ctx, inputs)
}
