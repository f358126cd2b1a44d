// Package sandbox defines the interface to the external, already-isolated
// execution environment. The orchestrator consumes this interface; it never
// implements isolation itself.
package sandbox

import (
	"context"
	"time"

	"pkt.systems/sandview/schema"
)

// Runtime boots execution environments, one per workspace.
type Runtime interface {
	Boot(ctx context.Context, spec BootSpec) (Env, error)
}

// BootSpec describes one workspace environment.
type BootSpec struct {
	WorkspaceID schema.WorkspaceID
	// Root is the fixed path inside the environment the workspace lives under.
	Root string
	Env  map[string]string
}

// Capabilities reports which toolchain features the environment supports.
type Capabilities struct {
	// Processes indicates arbitrary process spawning is available.
	Processes bool
	// Network indicates spawned processes may bind and serve ports.
	Network bool
}

// Env is one booted execution environment.
type Env interface {
	FS
	// Spawn starts one process inside the environment.
	Spawn(ctx context.Context, spec ProcSpec) (Process, error)
	// Capabilities reports the environment's supported features.
	Capabilities() Capabilities
	// WorkspaceDir returns the absolute workspace root inside the environment.
	WorkspaceDir() string
	// Close tears the environment down, killing any remaining processes.
	Close(ctx context.Context) error
}

// FS is the environment's filesystem surface, rooted at the workspace dir.
// All paths are relative to the workspace root.
type FS interface {
	MkdirAll(ctx context.Context, rel string) error
	WriteFile(ctx context.Context, rel string, data []byte) error
	ReadFile(ctx context.Context, rel string) ([]byte, error)
	Remove(ctx context.Context, rel string) error
	Rename(ctx context.Context, oldRel, newRel string) error
	Exists(ctx context.Context, rel string) (bool, error)
	// WalkFiles visits every regular file under rel, yielding its relative
	// path and content.
	WalkFiles(ctx context.Context, rel string, fn func(rel string, data []byte) error) error
}

// ProcSpec describes one process invocation.
type ProcSpec struct {
	Command string
	Args    []string
	// Dir is relative to the workspace root; empty means the root itself.
	Dir string
	Env map[string]string
	// Port, when nonzero, is the port the process is expected to bind; the
	// runtime emits a PortSignal once the bind is observed.
	Port int
}

// OutputChunk is one decoded piece of process output.
type OutputChunk struct {
	Text   string
	Stderr bool
}

// PortSignal is the runtime's explicit readiness notification, emitted once
// the process has bound its port. Never inferred from output text.
type PortSignal struct {
	Port int
	At   time.Time
}

// Result describes a finished process.
type Result struct {
	ExitCode int
}

// Process is one running process inside the environment.
type Process interface {
	// Output yields decoded output incrementally; closed when the process ends.
	Output() <-chan OutputChunk
	// Ready yields at most one PortSignal; closed without a value when the
	// process exits before binding.
	Ready() <-chan PortSignal
	// Wait blocks until exit or ctx cancellation.
	Wait(ctx context.Context) (Result, error)
	// Kill forcibly terminates the process. The context bounds how long
	// the runtime may spend delivering the signal.
	Kill(ctx context.Context) error
	Close() error
}
