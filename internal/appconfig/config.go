package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	WorkspaceRoot string        `mapstructure:"workspace_root" yaml:"workspace_root"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	Sandbox       SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Service       ServiceConfig `mapstructure:"service" yaml:"service"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// SandboxConfig configures the execution environment backend.
type SandboxConfig struct {
	Runtime          string `mapstructure:"runtime" yaml:"runtime"`
	AllowNetwork     bool   `mapstructure:"allow_network" yaml:"allow_network"`
	IdleTimeoutHours int    `mapstructure:"idle_timeout_hours" yaml:"idle_timeout_hours"`
}

// ServiceConfig controls execution and preview behavior.
type ServiceConfig struct {
	CommandTimeoutMinutes int `mapstructure:"command_timeout_minutes" yaml:"command_timeout_minutes"`
	DevServerTimeoutHours int `mapstructure:"dev_server_timeout_hours" yaml:"dev_server_timeout_hours"`
	InstallTimeoutMinutes int `mapstructure:"install_timeout_minutes" yaml:"install_timeout_minutes"`
	DebounceQuietMillis   int `mapstructure:"debounce_quiet_ms" yaml:"debounce_quiet_ms"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		WorkspaceRoot: filepath.Join(home, ".sandview", "workspaces"),
		StateDir:      filepath.Join(home, ".sandview", "state"),
		Sandbox: SandboxConfig{
			Runtime:          "host",
			AllowNetwork:     true,
			IdleTimeoutHours: 8,
		},
		Service: ServiceConfig{
			CommandTimeoutMinutes: 5,
			DevServerTimeoutHours: 12,
			InstallTimeoutMinutes: 10,
			DebounceQuietMillis:   800,
		},
		HTTP: HTTPConfig{
			Addr:     ":27490",
			BaseURL:  "",
			BasePath: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sandview", "config.yaml"), nil
}
