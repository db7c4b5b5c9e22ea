package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrInvalidProfile is returned when an agent profile fails validation.
var ErrInvalidProfile = errors.New("invalid agent profile")

// Profile is the on-disk JSON description of an agent.
//
//	{
//	  "agent_profile": {"name": "analyst", "role": "market analyst"},
//	  "model_config": {"model_type": "qwen-plus", "system_prompt": "...",
//	                   "model_config_dict": {"temperature": 0.3, "max_tokens": 2048}},
//	  "execution_flow": {"observe": {"prompt_template": "... {input} ..."},
//	                     "planning": {"prompt_template": "... {observation} ..."},
//	                     "action": {"prompt_template": "... {plan} ..."}},
//	  "error_handling": {"llm_failure_retry": 2, "retry_delay": 1.5}
//	}
type Profile struct {
	AgentProfile struct {
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"agent_profile"`

	ModelConfig struct {
		ModelType    string `json:"model_type"`
		SystemPrompt string `json:"system_prompt"`
		Params       struct {
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
		} `json:"model_config_dict"`
	} `json:"model_config"`

	ExecutionFlow struct {
		Observe  phasePrompt `json:"observe"`
		Planning phasePrompt `json:"planning"`
		Action   phasePrompt `json:"action"`
	} `json:"execution_flow"`

	ErrorHandling struct {
		Retries int `json:"llm_failure_retry"`
		// RetryDelay is in seconds.
		RetryDelay float64 `json:"retry_delay"`
	} `json:"error_handling"`
}

type phasePrompt struct {
	Template string `json:"prompt_template"`
}

// LoadProfile reads and validates the profile at path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode agent profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

// Validate checks required fields and prompt placeholders. Empty phase
// templates fall back to the defaults and are not checked.
func (p *Profile) Validate() error {
	var errs []error
	if p.AgentProfile.Name == "" {
		errs = append(errs, errors.New("agent_profile.name is required"))
	}
	if p.AgentProfile.Role == "" {
		errs = append(errs, errors.New("agent_profile.role is required"))
	}
	if t := p.ExecutionFlow.Observe.Template; t != "" && !strings.Contains(t, "{input}") {
		errs = append(errs, errors.New("execution_flow.observe.prompt_template must contain {input}"))
	}
	if t := p.ExecutionFlow.Planning.Template; t != "" && !strings.Contains(t, "{observation}") {
		errs = append(errs, errors.New("execution_flow.planning.prompt_template must contain {observation}"))
	}
	if p.ErrorHandling.Retries < 0 {
		errs = append(errs, errors.New("error_handling.llm_failure_retry must not be negative"))
	}
	if p.ErrorHandling.RetryDelay < 0 {
		errs = append(errs, errors.New("error_handling.retry_delay must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, errors.Join(errs...))
	}
	return nil
}

// AgentConfig converts the profile into an AgentConfig named name. An empty
// name uses the profile name.
func (p *Profile) AgentConfig(name string) AgentConfig {
	if name == "" {
		name = p.AgentProfile.Name
	}
	system := p.ModelConfig.SystemPrompt
	if system == "" && p.AgentProfile.Role != "" {
		system = "You are a " + p.AgentProfile.Role + "."
	}
	return AgentConfig{
		Name:          name,
		SystemPrompt:  system,
		ObservePrompt: p.ExecutionFlow.Observe.Template,
		PlanPrompt:    p.ExecutionFlow.Planning.Template,
		ActPrompt:     p.ExecutionFlow.Action.Template,
		ActRetries:    p.ErrorHandling.Retries,
		RetryDelay:    time.Duration(p.ErrorHandling.RetryDelay * float64(time.Second)),
	}
}

// ChatOptions overlays the profile's model settings onto base. Fields the
// profile leaves zero keep the base value.
func (p *Profile) ChatOptions(base ChatOptions) ChatOptions {
	if p.ModelConfig.ModelType != "" {
		base.Model = p.ModelConfig.ModelType
	}
	if p.ModelConfig.Params.Temperature != 0 {
		base.Temperature = p.ModelConfig.Params.Temperature
	}
	if p.ModelConfig.Params.MaxTokens != 0 {
		base.MaxTokens = p.ModelConfig.Params.MaxTokens
	}
	return base
}
