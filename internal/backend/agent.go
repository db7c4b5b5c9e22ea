package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Default phase prompts. {input}, {observation} and {plan} are replaced
// with the task, the observe reply and the planning reply.
const (
	DefaultObservePrompt = "Task:\n{input}\n\nDescribe what the task asks for and what information is needed to complete it."
	DefaultPlanPrompt    = "Observation:\n{observation}\n\nReason step by step and write a concrete plan to complete the task."
	DefaultActPrompt     = "Carry out the following plan and reply with the final result only.\n\n{plan}"
)

// AgentConfig describes an agent. Zero prompts select the defaults.
type AgentConfig struct {
	Name         string
	SystemPrompt string

	ObservePrompt string
	PlanPrompt    string
	ActPrompt     string

	// ActRetries is how many extra attempts the act phase gets.
	ActRetries int
	// RetryDelay separates act attempts.
	RetryDelay time.Duration
}

// Agent answers a task in three model round trips over one conversation:
// observe the task, plan, then act on the plan. It satisfies pool.Worker.
// Each Execute starts a fresh conversation, so an Agent is safe for
// concurrent use if its Backend is.
type Agent struct {
	cfg     AgentConfig
	backend Backend
	logger  *slog.Logger
}

// NewAgent creates an agent over b.
func NewAgent(cfg AgentConfig, b Backend, logger *slog.Logger) *Agent {
	if cfg.ObservePrompt == "" {
		cfg.ObservePrompt = DefaultObservePrompt
	}
	if cfg.PlanPrompt == "" {
		cfg.PlanPrompt = DefaultPlanPrompt
	}
	if cfg.ActPrompt == "" {
		cfg.ActPrompt = DefaultActPrompt
	}
	if cfg.ActRetries < 0 {
		cfg.ActRetries = 0
	}
	return &Agent{cfg: cfg, backend: b, logger: logger.With("agent", cfg.Name)}
}

// Name returns the configured agent name.
func (a *Agent) Name() string {
	return a.cfg.Name
}

// Execute runs the observe, plan and act phases and returns the act reply.
func (a *Agent) Execute(ctx context.Context, input string) (string, error) {
	conv := a.conversation()

	observation, err := conv.step(ctx, a.backend, render(a.cfg.ObservePrompt, "{input}", input))
	if err != nil {
		return "", fmt.Errorf("observe: %w", err)
	}
	a.logger.Debug("observe phase done", "chars", len(observation))

	plan, err := conv.step(ctx, a.backend, render(a.cfg.PlanPrompt, "{input}", input, "{observation}", observation))
	if err != nil {
		return "", fmt.Errorf("plan: %w", err)
	}
	a.logger.Debug("plan phase done", "chars", len(plan))

	actPrompt := render(a.cfg.ActPrompt, "{input}", input, "{observation}", observation, "{plan}", plan)
	var lastErr error
	for attempt := range a.cfg.ActRetries + 1 {
		if attempt > 0 {
			a.logger.Warn("act phase failed, retrying",
				"attempt", attempt,
				"max_retries", a.cfg.ActRetries,
				"error", lastErr,
			)
			if err := sleep(ctx, a.cfg.RetryDelay); err != nil {
				return "", fmt.Errorf("act: %w", err)
			}
		}
		result, err := conv.step(ctx, a.backend, actPrompt)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("act: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("act failed after %d retries: %w", a.cfg.ActRetries, lastErr)
}

func (a *Agent) conversation() *conversation {
	c := &conversation{}
	if a.cfg.SystemPrompt != "" {
		c.messages = append(c.messages, Message{Role: RoleSystem, Content: a.cfg.SystemPrompt})
	}
	return c
}

// conversation accumulates the turns of one Execute call.
type conversation struct {
	messages []Message
}

// step sends prompt as a user turn. The reply is kept only if the call
// succeeded, so a retried prompt is not duplicated in the history.
func (c *conversation) step(ctx context.Context, b Backend, prompt string) (string, error) {
	turn := append(c.messages, Message{Role: RoleUser, Content: prompt})
	reply, err := b.Complete(ctx, turn)
	if err != nil {
		return "", err
	}
	c.messages = append(turn, Message{Role: RoleAssistant, Content: reply})
	return reply, nil
}

func render(template string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(template)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
