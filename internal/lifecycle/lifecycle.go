// Package lifecycle manages one execution environment per workspace. Boot is
// lazy and memoized: the first caller boots, concurrent callers wait on the
// same pending cell, and a failed boot clears the cell so the next call
// retries cleanly. Snapshot restore runs exactly once per environment, before
// the cell is published, so no caller can sync ahead of a pending restore.
package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sandview/internal/logx"
	"pkt.systems/sandview/internal/metrics"
	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/schema"
)

// State names a boot cell's phase.
type State string

const (
	// StateUninitialized means no boot has been requested.
	StateUninitialized State = "uninitialized"
	// StateBooting means a boot is in flight.
	StateBooting State = "booting"
	// StateReady means the environment is available.
	StateReady State = "ready"
	// StateFailed means the last boot failed; the next request retries.
	StateFailed State = "failed"
)

// RestoreFunc restores a persisted snapshot into a freshly booted
// environment. It reports whether a snapshot was applied.
type RestoreFunc func(ctx context.Context, id schema.WorkspaceID, env sandbox.Env) (bool, error)

// Booted is the published result of a successful boot.
type Booted struct {
	Env sandbox.Env
	// Restored reports whether a persisted snapshot was applied during boot.
	Restored bool
}

// Manager boots and caches environments per workspace.
type Manager struct {
	rt      sandbox.Runtime
	root    string
	restore RestoreFunc
	logger  pslog.Logger

	mu    sync.Mutex
	cells map[schema.WorkspaceID]*cell
}

type cell struct {
	wait     chan struct{}
	env      sandbox.Env
	restored bool
	err      error
	lastUsed time.Time
}

// NewManager constructs a lifecycle manager.
func NewManager(ctx context.Context, rt sandbox.Runtime, root string, restore RestoreFunc) (*Manager, error) {
	if rt == nil {
		return nil, schema.ErrSandboxUnavailable
	}
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	return &Manager{
		rt:      rt,
		root:    root,
		restore: restore,
		logger:  pslog.Ctx(ctx),
		cells:   make(map[schema.WorkspaceID]*cell),
	}, nil
}

// StateOf reports the boot state for a workspace.
func (m *Manager) StateOf(id schema.WorkspaceID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cells[id]
	if !ok {
		return StateUninitialized
	}
	if entry.wait != nil {
		return StateBooting
	}
	if entry.err != nil {
		return StateFailed
	}
	return StateReady
}

// Ensure returns the workspace's environment, booting it on first use.
// Concurrent callers share one boot; a failed boot is not cached.
func (m *Manager) Ensure(ctx context.Context, id schema.WorkspaceID) (Booted, error) {
	if err := schema.ValidateWorkspaceID(id); err != nil {
		return Booted{}, err
	}
	log := logx.WithWorkspace(ctx, id)

	m.mu.Lock()
	if entry, ok := m.cells[id]; ok {
		wait := entry.wait
		if wait == nil {
			entry.lastUsed = time.Now()
			result := Booted{Env: entry.env, Restored: entry.restored}
			m.mu.Unlock()
			log.Debug("sandbox ready (cache hit)")
			return result, nil
		}
		m.mu.Unlock()
		log.Debug("sandbox boot in progress")
		select {
		case <-wait:
		case <-ctx.Done():
			return Booted{}, ctx.Err()
		}
		// Read the outcome from the cell the wait was taken on; the map
		// may already hold a fresh cell from a retrying caller.
		m.mu.Lock()
		if entry.err != nil {
			err := entry.err
			m.mu.Unlock()
			log.Warn("sandbox boot failed", "err", err)
			return Booted{}, err
		}
		entry.lastUsed = time.Now()
		result := Booted{Env: entry.env, Restored: entry.restored}
		m.mu.Unlock()
		log.Debug("sandbox ready (cache hit)")
		return result, nil
	}
	entry := &cell{wait: make(chan struct{})}
	m.cells[id] = entry
	m.mu.Unlock()

	log.Info("sandbox boot requested")
	env, restored, err := m.boot(ctx, id)
	metrics.RecordSandboxBoot(err == nil)
	m.mu.Lock()
	if err != nil {
		entry.err = err
		close(entry.wait)
		entry.wait = nil
		delete(m.cells, id)
		m.mu.Unlock()
		log.Warn("sandbox boot failed", "err", err)
		return Booted{}, err
	}
	entry.env = env
	entry.restored = restored
	entry.lastUsed = time.Now()
	close(entry.wait)
	entry.wait = nil
	m.mu.Unlock()
	log.Info("sandbox ready", "restored", restored)
	return Booted{Env: env, Restored: restored}, nil
}

func (m *Manager) boot(ctx context.Context, id schema.WorkspaceID) (sandbox.Env, bool, error) {
	env, err := m.rt.Boot(ctx, sandbox.BootSpec{WorkspaceID: id, Root: m.root})
	if err != nil {
		return nil, false, err
	}
	restored := false
	if m.restore != nil {
		// Restore must precede any filesystem sync; a later restore would
		// clobber synced content.
		restored, err = m.restore(ctx, id, env)
		if err != nil {
			logx.WithWorkspace(ctx, id).Warn("snapshot restore failed; continuing without", "err", err)
			restored = false
		}
	}
	return env, restored, nil
}

// Touch refreshes the idle timestamp for a workspace.
func (m *Manager) Touch(id schema.WorkspaceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry := m.cells[id]; entry != nil {
		entry.lastUsed = time.Now()
	}
}

// Close tears down one workspace's environment.
func (m *Manager) Close(ctx context.Context, id schema.WorkspaceID) error {
	m.mu.Lock()
	entry := m.cells[id]
	delete(m.cells, id)
	m.mu.Unlock()
	if entry == nil || entry.env == nil {
		return nil
	}
	m.logger.Info("sandbox close requested", "workspace", id)
	metrics.RecordSandboxClose()
	return entry.env.Close(ctx)
}

// CloseAll tears down every environment.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*cell, 0, len(m.cells))
	for _, entry := range m.cells {
		entries = append(entries, entry)
	}
	m.cells = make(map[schema.WorkspaceID]*cell)
	m.mu.Unlock()

	var lastErr error
	for _, entry := range entries {
		if entry.env == nil {
			continue
		}
		if err := entry.env.Close(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Sweep closes environments idle longer than the given duration and returns
// the workspaces it collected.
func (m *Manager) Sweep(ctx context.Context, idle time.Duration) []schema.WorkspaceID {
	if idle <= 0 {
		return nil
	}
	now := time.Now()
	var collected []schema.WorkspaceID
	var envs []sandbox.Env
	m.mu.Lock()
	for id, entry := range m.cells {
		if entry.wait != nil {
			continue
		}
		if now.Sub(entry.lastUsed) >= idle {
			delete(m.cells, id)
			collected = append(collected, id)
			envs = append(envs, entry.env)
		}
	}
	m.mu.Unlock()
	for i, env := range envs {
		if env == nil {
			continue
		}
		m.logger.Info("sandbox idle timeout", "workspace", collected[i], "idle", idle)
		metrics.RecordSandboxClose()
		_ = env.Close(ctx)
	}
	return collected
}
