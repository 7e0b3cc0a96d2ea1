package config

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AgentConfig describes one debate agent: which provider backs it, which
// model it runs, and how it is prompted.
type AgentConfig struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"` // openai, anthropic, gemini, openrouter
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Style       string  `yaml:"style,omitempty"` // persona hint appended to the system prompt
}

// AgentRegistry is the in-memory registry of agent configurations, built once
// at startup. Reads are lock-free after construction; the mutex only guards
// test-time mutation via Register.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentConfig
}

// agentsYAML is the aragora.yaml file structure.
type agentsYAML struct {
	Agents map[string]AgentConfig `yaml:"agents"`
}

// builtinAgents are the default roster, available when their provider key is
// configured. User YAML entries with the same name are merged over these.
func builtinAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		"openai-api": {
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		"anthropic-api": {
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		"gemini": {
			Provider:    "gemini",
			Model:       "gemini-2.0-flash",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
	}
}

// LoadAgentRegistry merges built-in agents with the optional YAML file at
// path, then filters out agents whose provider has no API key configured.
func LoadAgentRegistry(path string, keys ProviderKeys) (*AgentRegistry, error) {
	merged := builtinAgents()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file; built-ins only.
		case err != nil:
			return nil, fmt.Errorf("reading %s: %w", path, err)
		default:
			var parsed agentsYAML
			if err := yaml.Unmarshal(data, &parsed); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
			for name, user := range parsed.Agents {
				base, ok := merged[name]
				if !ok {
					merged[name] = user
					continue
				}
				// User values win; zero fields fall back to built-in.
				if err := mergo.Merge(&user, base); err != nil {
					return nil, fmt.Errorf("merging agent %q: %w", name, err)
				}
				merged[name] = user
			}
		}
	}

	reg := &AgentRegistry{agents: make(map[string]*AgentConfig)}
	for name, ac := range merged {
		ac.Name = name
		if !providerEnabled(ac.Provider, keys) {
			continue
		}
		if err := validateAgent(&ac); err != nil {
			return nil, fmt.Errorf("agent %q: %w", name, err)
		}
		c := ac
		reg.agents[name] = &c
	}
	return reg, nil
}

func providerEnabled(provider string, keys ProviderKeys) bool {
	switch provider {
	case "openai":
		return keys.OpenAI != ""
	case "anthropic":
		return keys.Anthropic != ""
	case "gemini":
		return keys.Gemini != ""
	case "openrouter":
		return keys.OpenRouter != ""
	case "mock":
		return true
	default:
		return false
	}
}

func validateAgent(ac *AgentConfig) error {
	if ac.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if ac.Model == "" && ac.Provider != "mock" {
		return fmt.Errorf("model is required")
	}
	if ac.Temperature < 0 || ac.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0,2], got %v", ac.Temperature)
	}
	return nil
}

// Get retrieves an agent configuration by name.
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ac, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	return ac, nil
}

// Register adds or replaces an agent configuration. Used by tests and the
// mock provider wiring.
func (r *AgentRegistry) Register(ac *AgentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[ac.Name] = ac
}

// Names returns the sorted list of registered agent names.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered agents.
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
