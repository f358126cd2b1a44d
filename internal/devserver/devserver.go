// Package devserver supervises long-lived framework dev servers, one per
// (project type, workspace) key. Readiness comes only from the sandbox
// runtime's port signal, never from reading process output.
package devserver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sandview/internal/eventbus"
	"pkt.systems/sandview/internal/metrics"
	"pkt.systems/sandview/internal/runproc"
	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/schema"
)

// State names a dev server's lifecycle position.
type State string

const (
	StateNotRunning State = "not-running"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateCrashed    State = "crashed"
)

// Ports are drawn from this range, randomly per start, so concurrent
// workspaces rarely collide.
const (
	portBase  = 3000
	portSpan  = 6000
	urlFormat = "http://127.0.0.1:%d"
)

type key struct {
	projectType schema.ProjectType
	workspaceID schema.WorkspaceID
}

type server struct {
	state   State
	info    schema.DevServerInfo
	handle  *runproc.Handle
	stopped bool
}

// StartRequest describes one dev server launch.
type StartRequest struct {
	WorkspaceID schema.WorkspaceID
	ProjectType schema.ProjectType
	Command     string
	Args        []string
	Env         map[string]string
	Emit        runproc.EmitFunc
}

// Manager tracks dev servers per (projectType, workspaceID) key.
type Manager struct {
	bus     *eventbus.Bus
	log     pslog.Logger
	timeout time.Duration
	port    func() int

	mu      sync.Mutex
	servers map[key]*server
}

// New constructs a manager. timeout is the safety-net bound for dev
// processes, not their expected termination path.
func New(bus *eventbus.Bus, timeout time.Duration, logger pslog.Logger) *Manager {
	if timeout <= 0 {
		timeout = schema.DefaultDevServerTimeout
	}
	return &Manager{
		bus:     bus,
		log:     logger,
		timeout: timeout,
		port:    func() int { return portBase + rand.IntN(portSpan) },
		servers: make(map[key]*server),
	}
}

// Get returns the server info under a key and whether it is running.
func (m *Manager) Get(workspaceID schema.WorkspaceID, projectType schema.ProjectType) (schema.DevServerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[key{projectType, workspaceID}]
	if !ok || srv.state != StateRunning {
		return schema.DevServerInfo{}, false
	}
	return srv.info, true
}

// StateOf reports the lifecycle state under a key.
func (m *Manager) StateOf(workspaceID schema.WorkspaceID, projectType schema.ProjectType) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[key{projectType, workspaceID}]
	if !ok {
		return StateNotRunning
	}
	return srv.state
}

// Start launches a dev server under the request's key, stopping any
// existing server there first. It blocks until the process binds its port
// or exits, whichever happens first; an exit before readiness fails the
// start with that exit code.
func (m *Manager) Start(ctx context.Context, env sandbox.Env, req StartRequest) (schema.DevServerInfo, error) {
	k := key{req.ProjectType, req.WorkspaceID}
	m.Stop(ctx, req.WorkspaceID, req.ProjectType)

	port := m.port()
	handle, err := runproc.Start(ctx, env, runproc.Request{
		Command: req.Command,
		Args:    req.Args,
		Dir:     ".",
		Env:     req.Env,
		Port:    port,
		Timeout: m.timeout,
	}, req.Emit)
	if err != nil {
		metrics.RecordDevServerStart(false)
		return schema.DevServerInfo{}, err
	}

	srv := &server{
		state: StateStarting,
		info: schema.DevServerInfo{
			URL:         fmt.Sprintf(urlFormat, port),
			Port:        port,
			ProjectType: req.ProjectType,
			WorkspaceID: req.WorkspaceID,
		},
		handle: handle,
	}
	m.mu.Lock()
	m.servers[k] = srv
	m.mu.Unlock()

	exited := make(chan runproc.Result, 1)
	go func() {
		res, err := handle.Wait(context.Background())
		if err != nil {
			res = runproc.Result{ExitCode: -1}
		}
		exited <- res
	}()

	select {
	case sig, ok := <-handle.Ready():
		if !ok {
			m.fail(k, srv)
			return schema.DevServerInfo{}, schema.ErrServerNotRunning
		}
		m.mu.Lock()
		srv.state = StateRunning
		srv.info.IsRunning = true
		srv.info.StartTime = sig.At
		info := srv.info
		m.mu.Unlock()
		metrics.RecordDevServerStart(true)
		if m.log != nil {
			m.log.Info("dev server ready", "workspace", req.WorkspaceID, "project_type", req.ProjectType, "port", sig.Port)
		}
		if m.bus != nil {
			m.bus.OnDevServer(schema.DevServerEvent{WorkspaceID: req.WorkspaceID, Type: schema.DevServerStarted, Info: info})
		}
		go m.monitor(k, srv, exited)
		return info, nil
	case res := <-exited:
		m.fail(k, srv)
		metrics.RecordDevServerStart(false)
		return schema.DevServerInfo{}, fmt.Errorf("dev server exited with code %d before binding port %d", res.ExitCode, port)
	case <-ctx.Done():
		_ = handle.Kill(context.Background())
		m.fail(k, srv)
		return schema.DevServerInfo{}, ctx.Err()
	}
}

// monitor watches a running server until it exits. A requested stop is a
// clean transition; anything else is a crash. Hitting the safety-net
// timeout after readiness is not a failure.
func (m *Manager) monitor(k key, srv *server, exited <-chan runproc.Result) {
	res := <-exited
	m.mu.Lock()
	if m.servers[k] != srv || srv.stopped {
		m.mu.Unlock()
		return
	}
	if res.TimedOut {
		srv.state = StateStopped
	} else {
		srv.state = StateCrashed
	}
	srv.info.IsRunning = false
	info := srv.info
	state := srv.state
	m.mu.Unlock()

	metrics.RecordDevServerStop()
	if m.log != nil {
		m.log.Warn("dev server exited", "workspace", k.workspaceID, "project_type", k.projectType, "exit_code", res.ExitCode, "timed_out", res.TimedOut)
	}
	if m.bus != nil {
		evType := schema.DevServerCrashed
		if state == StateStopped {
			evType = schema.DevServerStopped
		}
		m.bus.OnDevServer(schema.DevServerEvent{WorkspaceID: k.workspaceID, Type: evType, Info: info})
	}
}

// Stop terminates the server under a key, if any.
func (m *Manager) Stop(ctx context.Context, workspaceID schema.WorkspaceID, projectType schema.ProjectType) {
	k := key{projectType, workspaceID}
	m.mu.Lock()
	srv, ok := m.servers[k]
	if !ok || srv.stopped || srv.state == StateStopped || srv.state == StateCrashed {
		m.mu.Unlock()
		return
	}
	srv.stopped = true
	wasRunning := srv.state == StateRunning
	srv.state = StateStopped
	srv.info.IsRunning = false
	info := srv.info
	handle := srv.handle
	m.mu.Unlock()

	if handle != nil {
		_ = handle.Kill(ctx)
	}
	if wasRunning {
		metrics.RecordDevServerStop()
	}
	if m.log != nil {
		m.log.Info("dev server stopped", "workspace", workspaceID, "project_type", projectType)
	}
	if m.bus != nil {
		m.bus.OnDevServer(schema.DevServerEvent{WorkspaceID: workspaceID, Type: schema.DevServerStopped, Info: info})
	}
}

// StopAll terminates every server belonging to a workspace.
func (m *Manager) StopAll(ctx context.Context, workspaceID schema.WorkspaceID) {
	m.mu.Lock()
	var keys []key
	for k := range m.servers {
		if k.workspaceID == workspaceID {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.Stop(ctx, workspaceID, k.projectType)
	}
}

func (m *Manager) fail(k key, srv *server) {
	m.mu.Lock()
	if m.servers[k] == srv {
		srv.state = StateCrashed
		srv.info.IsRunning = false
	}
	m.mu.Unlock()
}
