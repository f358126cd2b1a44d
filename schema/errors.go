package schema

import "errors"

var (
	// ErrInvalidWorkspace indicates a missing or malformed workspace id.
	ErrInvalidWorkspace = errors.New("invalid workspace")
	// ErrInvalidTree indicates the virtual file tree violates its invariants.
	ErrInvalidTree = errors.New("invalid file tree")
	// ErrEmptyCommand indicates an empty command string.
	ErrEmptyCommand = errors.New("command is empty")
	// ErrCommandTooLong indicates the command exceeds the length limit.
	ErrCommandTooLong = errors.New("command exceeds maximum length")
	// ErrUnsafeCommand indicates the command contains shell metacharacters.
	ErrUnsafeCommand = errors.New("command contains disallowed shell operators")
	// ErrUnknownManager indicates the command does not start with a known package manager.
	ErrUnknownManager = errors.New("command must start with a known package manager")
	// ErrMissingScript indicates `run` was given without a script name.
	ErrMissingScript = errors.New("run requires a script name")
	// ErrSandboxUnavailable indicates no sandbox runtime is configured.
	ErrSandboxUnavailable = errors.New("sandbox runtime not configured")
	// ErrUnsupportedProject indicates no preview strategy covers the workspace.
	ErrUnsupportedProject = errors.New("unsupported project type")
	// ErrCapabilityMissing indicates the sandbox lacks a toolchain capability
	// the selected preview strategy requires.
	ErrCapabilityMissing = errors.New("sandbox capability unavailable")
	// ErrServerNotRunning indicates a dev server operation on a stopped server.
	ErrServerNotRunning = errors.New("dev server not running")
	// ErrPreviewDisposed indicates use of a preview manager after disposal.
	ErrPreviewDisposed = errors.New("preview manager disposed")
)
