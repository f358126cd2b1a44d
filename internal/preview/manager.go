// Package preview maintains the observable preview state per workspace:
// project-type detection, debounced regeneration, static inlining and dev
// server delegation.
package preview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sandview/internal/eventbus"
	"pkt.systems/sandview/internal/metrics"
	"pkt.systems/sandview/schema"
)

// BlobPathPrefix is where the HTTP layer serves materialized previews.
const BlobPathPrefix = "/preview/blob/"

// ServerStarter launches (or reuses) a dev server for a server-backed
// project and returns its info. Implemented by the core service, which owns
// boot, sync and install ordering.
type ServerStarter func(ctx context.Context, workspaceID schema.WorkspaceID, projectType schema.ProjectType) (schema.DevServerInfo, error)

// Manager owns preview state per workspace.
type Manager struct {
	bus         *eventbus.Bus
	blobs       *BlobStore
	startServer ServerStarter
	quiet       time.Duration
	log         pslog.Logger

	mu     sync.Mutex
	states map[schema.WorkspaceID]*wsPreview
}

type wsPreview struct {
	state schema.PreviewState
	tree  schema.VirtualFileTree
	timer *time.Timer
	// next numbers regenerations; applied is the newest one whose result
	// has been installed. A finishing regeneration older than applied is
	// discarded so rapid edits can never roll the preview backwards.
	next     uint64
	applied  uint64
	token    string
	disposed bool
}

// New constructs a preview manager.
func New(bus *eventbus.Bus, blobs *BlobStore, startServer ServerStarter, quiet time.Duration, logger pslog.Logger) *Manager {
	if quiet <= 0 {
		quiet = schema.DefaultDebounceQuiet
	}
	return &Manager{
		bus:         bus,
		blobs:       blobs,
		startServer: startServer,
		quiet:       quiet,
		log:         logger,
		states:      make(map[schema.WorkspaceID]*wsPreview),
	}
}

// State returns the current preview state for a workspace.
func (m *Manager) State(workspaceID schema.WorkspaceID) schema.PreviewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[workspaceID]; ok {
		return st.state
	}
	return schema.PreviewState{ProjectType: schema.ProjectUnsupported}
}

// OnTreeUpdate re-runs detection (even while disabled, so the UI always
// shows accurate support status) and, while enabled, schedules a debounced
// regeneration. Rapid updates coalesce; an in-flight regeneration is not
// canceled, stale results are discarded on completion instead.
func (m *Manager) OnTreeUpdate(workspaceID schema.WorkspaceID, tree schema.VirtualFileTree) {
	m.mu.Lock()
	st := m.ensureLocked(workspaceID)
	if st.disposed {
		m.mu.Unlock()
		return
	}
	st.tree = tree
	projectType := Detect(tree)
	changed := st.state.ProjectType != projectType
	st.state.ProjectType = projectType
	enabled := st.state.IsEnabled
	if enabled {
		m.scheduleLocked(workspaceID, st)
	}
	state := st.state
	m.mu.Unlock()

	if changed {
		m.publish(workspaceID, state)
	}
}

// Enable turns the preview on and regenerates immediately.
func (m *Manager) Enable(workspaceID schema.WorkspaceID) {
	m.mu.Lock()
	st := m.ensureLocked(workspaceID)
	if st.disposed || st.state.IsEnabled {
		m.mu.Unlock()
		return
	}
	st.state.IsEnabled = true
	st.next++
	gen := st.next
	state := st.state
	m.mu.Unlock()

	m.publish(workspaceID, state)
	go m.regenerate(workspaceID, gen)
}

// Disable turns the preview off, clears the URL and revokes the live blob.
// Detection keeps running on tree updates.
func (m *Manager) Disable(workspaceID schema.WorkspaceID) {
	m.mu.Lock()
	st := m.ensureLocked(workspaceID)
	if !st.state.IsEnabled {
		m.mu.Unlock()
		return
	}
	st.state.IsEnabled = false
	st.state.PreviewURL = ""
	st.state.Error = ""
	st.state.IsLoading = false
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	token := st.token
	st.token = ""
	state := st.state
	m.mu.Unlock()

	if token != "" && m.blobs != nil {
		m.blobs.Revoke(token)
	}
	m.publish(workspaceID, state)
}

// Dispose tears down all preview resources for a workspace.
func (m *Manager) Dispose(workspaceID schema.WorkspaceID) {
	m.mu.Lock()
	st, ok := m.states[workspaceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	st.disposed = true
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	token := st.token
	delete(m.states, workspaceID)
	m.mu.Unlock()

	if token != "" && m.blobs != nil {
		m.blobs.Revoke(token)
	}
}

// scheduleLocked arms (or re-arms) the debounce timer. Caller holds m.mu.
func (m *Manager) scheduleLocked(workspaceID schema.WorkspaceID, st *wsPreview) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.next++
	gen := st.next
	st.timer = time.AfterFunc(m.quiet, func() {
		m.regenerate(workspaceID, gen)
	})
}

// regenerate produces a preview for the generation and applies it unless a
// newer generation already finished.
func (m *Manager) regenerate(workspaceID schema.WorkspaceID, gen uint64) {
	m.mu.Lock()
	st, ok := m.states[workspaceID]
	if !ok || st.disposed || !st.state.IsEnabled || gen < st.applied {
		m.mu.Unlock()
		return
	}
	tree := st.tree
	projectType := st.state.ProjectType
	st.state.IsLoading = true
	loading := st.state
	m.mu.Unlock()
	m.publish(workspaceID, loading)

	url, token, genErr := m.generate(workspaceID, projectType, tree)

	m.mu.Lock()
	st, ok = m.states[workspaceID]
	if !ok || st.disposed || gen < st.applied {
		m.mu.Unlock()
		if token != "" && m.blobs != nil {
			m.blobs.Revoke(token)
		}
		metrics.RecordPreviewStaleDiscard()
		return
	}
	st.applied = gen
	oldToken := st.token
	st.token = token
	st.state.IsLoading = false
	if genErr != nil {
		st.state.PreviewURL = ""
		st.state.Error = genErr.Error()
	} else {
		st.state.PreviewURL = url
		st.state.Error = ""
	}
	state := st.state
	m.mu.Unlock()

	if oldToken != "" && oldToken != token && m.blobs != nil {
		m.blobs.Revoke(oldToken)
	}
	metrics.RecordPreviewRegeneration(string(projectType), genErr == nil)
	if m.log != nil {
		if genErr != nil {
			m.log.Warn("preview regeneration failed", "workspace", workspaceID, "project_type", projectType, "err", genErr)
		} else {
			m.log.Debug("preview regenerated", "workspace", workspaceID, "project_type", projectType, "url", url)
		}
	}
	m.publish(workspaceID, state)
}

// generate produces the preview URL for one project type.
func (m *Manager) generate(workspaceID schema.WorkspaceID, projectType schema.ProjectType, tree schema.VirtualFileTree) (url, token string, err error) {
	switch {
	case projectType == schema.ProjectStatic:
		html, genErr := GenerateStatic(tree)
		if genErr != nil {
			return "", "", genErr
		}
		if m.blobs == nil {
			return "", "", fmt.Errorf("no blob store configured")
		}
		token = m.blobs.Put("text/html; charset=utf-8", html)
		return BlobPathPrefix + token, token, nil
	case projectType.ServerBacked():
		if m.startServer == nil {
			return "", "", schema.ErrCapabilityMissing
		}
		info, genErr := m.startServer(context.Background(), workspaceID, projectType)
		if genErr != nil {
			return "", "", genErr
		}
		return info.URL, "", nil
	default:
		return "", "", fmt.Errorf("%w: no preview strategy for %q projects", schema.ErrUnsupportedProject, projectType)
	}
}

func (m *Manager) ensureLocked(workspaceID schema.WorkspaceID) *wsPreview {
	st, ok := m.states[workspaceID]
	if !ok {
		st = &wsPreview{state: schema.PreviewState{ProjectType: schema.ProjectUnsupported}}
		m.states[workspaceID] = st
	}
	return st
}

func (m *Manager) publish(workspaceID schema.WorkspaceID, state schema.PreviewState) {
	if m.bus == nil {
		return
	}
	m.bus.OnPreview(schema.PreviewEvent{WorkspaceID: workspaceID, State: state})
}
