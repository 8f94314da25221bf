// Package config handles Wren configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./wren.yaml, ~/.config/wren/config.yaml, /etc/wren/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"wren.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wren", "config.yaml"))
	}

	paths = append(paths, "/etc/wren/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Wren configuration.
type Config struct {
	LLM           LLMConfig               `yaml:"llm"`
	MCPServers    map[string]ServerConfig `yaml:"mcp_servers"`
	DefaultServer string                  `yaml:"default_server"`
	History       HistoryConfig           `yaml:"history"`
	DataDir       string                  `yaml:"data_dir"`
	LogLevel      string                  `yaml:"log_level"`
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	// Provider names a registered provider factory ("openai", "anthropic").
	Provider string `yaml:"provider"`
	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`
	// APIKey authenticates against the provider's API. Supports
	// ${ENV_VAR} expansion so keys can stay out of the file.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the provider's API endpoint (for proxies and tests).
	BaseURL string `yaml:"base_url"`
	// TimeoutSec bounds each provider call. Zero means the default (120s).
	TimeoutSec int `yaml:"timeout_sec"`
}

// ServerConfig describes how to launch one MCP server subprocess.
type ServerConfig struct {
	// Command is the executable to run.
	Command string `yaml:"command"`
	// Args are command-line arguments passed to the executable.
	Args []string `yaml:"args"`
	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"), appended to the parent environment.
	Env []string `yaml:"env"`
}

// HistoryConfig bounds the in-memory conversation log.
type HistoryConfig struct {
	// MaxMessages caps turns retained per conversation (default 200).
	MaxMessages int `yaml:"max_messages"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4",
			APIKey:   "${OPENAI_API_KEY}",
		},
		MCPServers: map[string]ServerConfig{
			"filesystem": {
				Command: "python",
				Args:    []string{"-m", "mcp_server_filesystem", "--path", "."},
			},
		},
		DefaultServer: "filesystem",
		History:       HistoryConfig{MaxMessages: 200},
	}
}

// Server returns the named server config, falling back to DefaultServer
// when name is empty.
func (c *Config) Server(name string) (ServerConfig, error) {
	if name == "" {
		name = c.DefaultServer
	}
	sc, ok := c.MCPServers[name]
	if !ok {
		return ServerConfig{}, fmt.Errorf("mcp server %q not configured", name)
	}
	if sc.Command == "" {
		return ServerConfig{}, fmt.Errorf("mcp server %q has no command", name)
	}
	return sc, nil
}

// WriteDefault writes a starter config file to path, creating parent
// directories as needed. Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
