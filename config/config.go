package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/m4xw311/devpilot/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 4096
	DefaultMaxIterations  = 20
	DefaultSessionIdleTTL = 30 * time.Minute
	DefaultListen         = "127.0.0.1:8080"
	DefaultRequestTimeout = 60 * time.Second

	dirName = ".devpilot"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden" toml:"hidden"`
	ReadOnly []string `yaml:"read_only" toml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name" toml:"name"`
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name" toml:"name"`
	Tools []string `yaml:"tools" toml:"tools"`
}

type Server struct {
	Listen         string        `yaml:"listen" toml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins"`
}

type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type Config struct {
	LLMClient            string           `yaml:"llm" toml:"llm"`
	Model                string           `yaml:"model" toml:"model"`
	Temperature          *float64         `yaml:"temperature" toml:"temperature"`
	MaxTokens            int              `yaml:"max_tokens" toml:"max_tokens"`
	SystemPrompt         string           `yaml:"system_prompt" toml:"system_prompt"`
	MaxIterations        int              `yaml:"max_iterations" toml:"max_iterations"`
	WorkspaceRoot        string           `yaml:"workspace_root" toml:"workspace_root"`
	SessionIdleTTL       *time.Duration   `yaml:"session_idle_ttl" toml:"session_idle_ttl"`
	Toolsets             []Toolset        `yaml:"toolsets" toml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers" toml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands" toml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access" toml:"filesystem_access"`
	UsageDB              string           `yaml:"usage_db" toml:"usage_db"`
	OllamaURL            string           `yaml:"ollama_url" toml:"ollama_url"`
	Server               Server           `yaml:"server" toml:"server"`
	Log                  Log              `yaml:"log" toml:"log"`
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. Environment overrides
// and defaults are applied last.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// The agent's own directory is never visible to tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, dirName, dirName+"/**")

	home, err := os.UserHomeDir()
	if err == nil {
		if err := loadFromDir(filepath.Join(home, dirName), cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading user config")
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	if err := loadFromDir(filepath.Join(wd, dirName), cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading project config")
	}

	cfg.applyEnv()
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = wd
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromDir(dir string, cfg *Config) error {
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path, cfg)
		}
	}
	return nil
}

// LoadFile merges the file at path into cfg. Fields present in the file
// replace those already set; the decoder is picked by extension.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return errors.Wrapf(err, "parsing %s", path)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return errors.Wrapf(err, "parsing %s", path)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DEVPILOT_LLM"); v != "" {
		c.LLMClient = v
	}
	if v := os.Getenv("DEVPILOT_MODEL"); v != "" {
		c.Model = v
	}
}

// ApplyDefaults fills every unset tunable with its default.
func (c *Config) ApplyDefaults() {
	if c.LLMClient == "" {
		c.LLMClient = "mock"
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.SessionIdleTTL == nil {
		ttl := DefaultSessionIdleTTL
		c.SessionIdleTTL = &ttl
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return errors.New("temperature must be within [0, 2], got %v", *c.Temperature)
	}
	if c.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}
	if c.MaxIterations < 0 {
		return errors.New("max_iterations must not be negative")
	}
	if c.SessionIdleTTL != nil && *c.SessionIdleTTL < 0 {
		return errors.New("session_idle_ttl must not be negative")
	}
	for _, s := range c.AdditionalMCPServers {
		if s.Name == "" || s.Command == "" {
			return errors.New("additional_mcp_servers entries need both name and command")
		}
	}
	return nil
}

// GetToolset finds a toolset by name. An empty name selects "default". A
// missing "default" toolset is not an error: it means every built-in tool.
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
		return nil, nil
	}
	return nil, errors.New("toolset '%s' not found in configuration", name)
}

// UsageDBPath resolves the usage ledger location, defaulting to the user's
// config directory.
func (c *Config) UsageDBPath() string {
	if c.UsageDB != "" {
		return c.UsageDB
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(dirName, "usage.db")
	}
	return filepath.Join(home, dirName, "usage.db")
}
