package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m4xw311/mailtriage/errors"
	"gopkg.in/yaml.v3"
)

// Dir is the name of the per-user and per-project configuration directory.
const Dir = ".mailtriage"

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Toolset names a group of tools. Entries are glob patterns matched against
// tool names, e.g. "query_*" or "crm.*" for every tool of the "crm" MCP server.
type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Thinking struct {
	Enabled      bool  `yaml:"enabled"`
	BudgetTokens int64 `yaml:"budget_tokens"`
}

// EmailSource selects where customer emails are read from. Type is "dir" for a
// directory of .txt messages or "spreadsheet" for an .xlsx/.csv export. An
// empty Type is inferred from Path.
type EmailSource struct {
	Type  string `yaml:"type"`
	Path  string `yaml:"path"`
	Sheet string `yaml:"sheet"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	LLMClient            string        `yaml:"llm"`
	Model                string        `yaml:"model"`
	Region               string        `yaml:"region"`
	Thinking             Thinking      `yaml:"thinking"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxIterations        int           `yaml:"max_iterations"`
	DataDir              string        `yaml:"data_dir"`
	EmailSource          EmailSource   `yaml:"email_source"`
	SaveSessions         bool          `yaml:"save_sessions"`
	Toolsets             []Toolset     `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer   `yaml:"additional_mcp_servers"`
	Logging              Logging       `yaml:"logging"`
	MetricsAddr          string        `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		LLMClient:     "mock",
		Model:         "claude-3-7-sonnet",
		Region:        "us-west-2",
		Thinking:      Thinking{Enabled: true, BudgetTokens: 2048},
		Timeout:       120 * time.Second,
		MaxIterations: 10,
		DataDir:       "data",
		EmailSource:   EmailSource{Path: "emails"},
		Toolsets: []Toolset{
			{Name: "default", Tools: []string{"*"}},
		},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. A .env file in the
// working directory is loaded first so provider credentials can live there,
// and MAILTRIAGE_* environment variables override both files.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; variables already set in the environment win.
	_ = godotenv.Load()

	cfg := Default()

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, Dir, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, Dir, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the YAML, so
	// project-level values replace user-level ones key by key.
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("MAILTRIAGE_LLM"); v != "" {
		cfg.LLMClient = v
	}
	if v := getenv("MAILTRIAGE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := getenv("MAILTRIAGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("MAILTRIAGE_EMAIL_SOURCE"); v != "" {
		cfg.EmailSource = EmailSource{Path: v}
	}
	if v := getenv("MAILTRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("MAILTRIAGE_THINKING_BUDGET"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid MAILTRIAGE_THINKING_BUDGET %q", v)
		}
		cfg.Thinking.BudgetTokens = n
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside an invocation.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxIterations <= 0 {
		return errors.New("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.Thinking.Enabled && c.Thinking.BudgetTokens < 1024 {
		return errors.New("thinking.budget_tokens must be at least 1024 when thinking is enabled, got %d", c.Thinking.BudgetTokens)
	}
	switch c.LLMClient {
	case "mock", "anthropic", "bedrock", "openai", "gemini":
	default:
		return errors.New("unknown llm client %q", c.LLMClient)
	}
	return nil
}

// EmailSourceType resolves the configured source type, inferring it from the
// path's extension when unset.
func (c *Config) EmailSourceType() string {
	if c.EmailSource.Type != "" {
		return c.EmailSource.Type
	}
	switch strings.ToLower(filepath.Ext(c.EmailSource.Path)) {
	case ".xlsx", ".csv":
		return "spreadsheet"
	default:
		return "dir"
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}
