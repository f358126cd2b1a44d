// Package hostproc implements the sandbox runtime on top of host processes
// and a per-workspace directory. It stands in for the product's isolated
// execution environment in local serving and in tests; isolation guarantees
// belong to the environment, not to this orchestrator.
package hostproc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/schema"
)

// Config configures the host-process runtime.
type Config struct {
	// Root is the host directory workspace environments are created under.
	Root string
	// AllowNetwork enables the network capability (dev servers).
	AllowNetwork bool
}

// Runtime implements sandbox.Runtime with host processes.
type Runtime struct {
	cfg Config
	log pslog.Logger
}

// New constructs a host-process runtime.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errors.New("runtime root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, err
	}
	return &Runtime{cfg: cfg, log: pslog.Ctx(ctx)}, nil
}

// Boot creates (or reuses) the workspace directory and returns its environment.
func (r *Runtime) Boot(ctx context.Context, spec sandbox.BootSpec) (sandbox.Env, error) {
	if err := schema.ValidateWorkspaceID(spec.WorkspaceID); err != nil {
		return nil, err
	}
	dir := filepath.Join(r.cfg.Root, string(spec.WorkspaceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace dir %q: %w", dir, err)
	}
	log := r.log.With("workspace", spec.WorkspaceID)
	log.Debug("sandbox booted", "dir", dir, "network", r.cfg.AllowNetwork)
	return &procEnv{
		dir:     dir,
		baseEnv: spec.Env,
		caps:    sandbox.Capabilities{Processes: true, Network: r.cfg.AllowNetwork},
		log:     log,
	}, nil
}

type procEnv struct {
	dir     string
	baseEnv map[string]string
	caps    sandbox.Capabilities
	log     pslog.Logger
}

func (e *procEnv) Capabilities() sandbox.Capabilities { return e.caps }

func (e *procEnv) WorkspaceDir() string { return e.dir }

func (e *procEnv) Close(ctx context.Context) error {
	_ = ctx
	e.log.Debug("sandbox closed")
	return nil
}

func (e *procEnv) resolve(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if cleaned == "." || cleaned == "" {
		return e.dir, nil
	}
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("path escapes workspace: %q", rel)
	}
	return filepath.Join(e.dir, cleaned), nil
}

func (e *procEnv) MkdirAll(ctx context.Context, rel string) error {
	_ = ctx
	path, err := e.resolve(rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func (e *procEnv) WriteFile(ctx context.Context, rel string, data []byte) error {
	_ = ctx
	path, err := e.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (e *procEnv) ReadFile(ctx context.Context, rel string) ([]byte, error) {
	_ = ctx
	path, err := e.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (e *procEnv) Remove(ctx context.Context, rel string) error {
	_ = ctx
	path, err := e.resolve(rel)
	if err != nil {
		return err
	}
	if path == e.dir {
		return errors.New("refusing to remove workspace root")
	}
	return os.RemoveAll(path)
}

func (e *procEnv) Rename(ctx context.Context, oldRel, newRel string) error {
	_ = ctx
	from, err := e.resolve(oldRel)
	if err != nil {
		return err
	}
	to, err := e.resolve(newRel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	return os.Rename(from, to)
}

func (e *procEnv) Exists(ctx context.Context, rel string) (bool, error) {
	_ = ctx
	path, err := e.resolve(rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *procEnv) WalkFiles(ctx context.Context, rel string, fn func(rel string, data []byte) error) error {
	base, err := e.resolve(rel)
	if err != nil {
		return err
	}
	return filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(e.dir, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(relPath), data)
	})
}
