package schema

import (
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	// StateDir holds durable snapshots and the install cache.
	StateDir string
	// WorkspaceRoot is the fixed root the sandbox projects trees under.
	WorkspaceRoot string
	// CommandTimeout bounds ordinary script runs.
	CommandTimeout time.Duration
	// DevServerTimeout is the safety-net bound for dev/start scripts.
	DevServerTimeout time.Duration
	// InstallTimeout bounds one install attempt.
	InstallTimeout time.Duration
	// DebounceQuiet is the quiet period before preview regeneration.
	DebounceQuiet time.Duration
	// IdleTimeout tears down sandboxes idle longer than this; 0 disables.
	IdleTimeout time.Duration
}

const (
	// DefaultCommandTimeout bounds ordinary script executions.
	DefaultCommandTimeout = 5 * time.Minute
	// DefaultDevServerTimeout is the dev/start safety net, not the expected exit path.
	DefaultDevServerTimeout = 12 * time.Hour
	// DefaultInstallTimeout bounds one install attempt.
	DefaultInstallTimeout = 10 * time.Minute
	// DefaultDebounceQuiet coalesces rapid edits into one regeneration.
	DefaultDebounceQuiet = 800 * time.Millisecond
)

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".sandview", "state")
	}
	if cfg.WorkspaceRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.WorkspaceRoot = filepath.Join(home, ".sandview", "workspaces")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.DevServerTimeout <= 0 {
		cfg.DevServerTimeout = DefaultDevServerTimeout
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = DefaultInstallTimeout
	}
	if cfg.DebounceQuiet <= 0 {
		cfg.DebounceQuiet = DefaultDebounceQuiet
	}
	return cfg, nil
}

// ValidateWorkspaceID rejects empty or path-breaking workspace ids.
func ValidateWorkspaceID(id WorkspaceID) error {
	if id == "" {
		return ErrInvalidWorkspace
	}
	for _, r := range string(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return ErrInvalidWorkspace
		}
	}
	return nil
}
