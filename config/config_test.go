package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileOverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm: bedrock
thinking:
  enabled: true
  budget_tokens: 4096
email_source:
  path: inbox/export.xlsx
toolsets:
  - name: default
    tools: ["query_*"]
  - name: readonly
    tools: ["query_order_by_id"]
`), 0644))

	cfg := Default()
	require.NoError(t, loadFromFile(path, cfg))

	assert.Equal(t, "bedrock", cfg.LLMClient)
	assert.Equal(t, "claude-3-7-sonnet", cfg.Model, "untouched keys keep defaults")
	assert.Equal(t, int64(4096), cfg.Thinking.BudgetTokens)
	assert.Equal(t, 120*time.Second, cfg.Timeout)
	assert.Equal(t, "spreadsheet", cfg.EmailSourceType())
	require.NoError(t, cfg.Validate())

	ts, err := cfg.GetToolset("readonly")
	require.NoError(t, err)
	assert.Equal(t, []string{"query_order_by_id"}, ts.Tools)

	ts, err = cfg.GetToolset("missing")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MAILTRIAGE_LLM":             "anthropic",
		"MAILTRIAGE_DATA_DIR":        "/srv/data",
		"MAILTRIAGE_EMAIL_SOURCE":    "/srv/mail",
		"MAILTRIAGE_THINKING_BUDGET": "8000",
	}
	cfg := Default()
	require.NoError(t, applyEnv(cfg, func(k string) string { return env[k] }))

	assert.Equal(t, "anthropic", cfg.LLMClient)
	assert.Equal(t, "/srv/data", cfg.DataDir)
	assert.Equal(t, "dir", cfg.EmailSourceType())
	assert.Equal(t, int64(8000), cfg.Thinking.BudgetTokens)

	env["MAILTRIAGE_THINKING_BUDGET"] = "lots"
	assert.Error(t, applyEnv(cfg, func(k string) string { return env[k] }))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"small budget", func(c *Config) { c.Thinking.BudgetTokens = 512 }, false},
		{"small budget without thinking", func(c *Config) { c.Thinking = Thinking{BudgetTokens: 512} }, true},
		{"unknown llm", func(c *Config) { c.LLMClient = "llama" }, false},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestGetToolsetWithoutDefault(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.GetToolset("")
	assert.Error(t, err)
}
