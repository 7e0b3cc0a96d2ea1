package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aragora/aragora/pkg/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Debate.Rounds)
	assert.Equal(t, models.ConsensusMajority, cfg.Debate.Policy)
	assert.Equal(t, 600*time.Second, cfg.Debate.Timeout)
	assert.Equal(t, 60, cfg.RateLimit.PerTokenPerMinute)
	assert.Equal(t, 120, cfg.RateLimit.PerIPPerMinute)
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("AUTH_TOKEN_HMAC_KEY", "secret")
	t.Setenv("DEBATE_DEFAULT_ROUNDS", "5")
	t.Setenv("DEBATE_DEFAULT_CONSENSUS", "unanimous")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, 5, cfg.Debate.Rounds)
	assert.Equal(t, models.ConsensusUnanimous, cfg.Debate.Policy)
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	t.Setenv("DEBATE_DEFAULT_CONSENSUS", "dictatorship")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEBATE_DEFAULT_CONSENSUS")
}

func TestRegistryFiltersUnkeyedProviders(t *testing.T) {
	reg, err := LoadAgentRegistry("", ProviderKeys{OpenAI: "sk-test"})
	require.NoError(t, err)

	assert.Equal(t, []string{"openai-api"}, reg.Names())
	_, err = reg.Get("anthropic-api")
	assert.Error(t, err)
}

func TestRegistryMergesYAMLOverBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aragora.yaml")
	yaml := `
agents:
  openai-api:
    temperature: 0.2
  scout:
    provider: openai
    model: gpt-4o-mini
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	reg, err := LoadAgentRegistry(path, ProviderKeys{OpenAI: "sk-test"})
	require.NoError(t, err)

	got, err := reg.Get("openai-api")
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.Temperature)
	assert.Equal(t, "gpt-4o", got.Model, "unset fields keep the built-in value")

	scout, err := reg.Get("scout")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", scout.Model)
}

func TestRegistryRejectsInvalidAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aragora.yaml")
	yaml := `
agents:
  hot:
    provider: openai
    model: gpt-4o
    temperature: 3.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := LoadAgentRegistry(path, ProviderKeys{OpenAI: "sk-test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")
}
