package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sandview/internal/command"
	"pkt.systems/sandview/internal/devserver"
	"pkt.systems/sandview/internal/install"
	"pkt.systems/sandview/internal/lifecycle"
	"pkt.systems/sandview/internal/logx"
	"pkt.systems/sandview/internal/metrics"
	"pkt.systems/sandview/internal/preview"
	"pkt.systems/sandview/internal/runproc"
	"pkt.systems/sandview/schema"
)

// eventBuffer sizes the per-execution event channel. Output events are
// dropped when the consumer stops draining; the exit event fits as long
// as the buffer has room for it.
const eventBuffer = 64

// service implements the core service behavior.
type service struct {
	lifecycle  *lifecycle.Manager
	installer  *install.Installer
	devservers *devserver.Manager
	previews   *preview.Manager
	registry   *Registry
	logger     pslog.Logger
	timeout    time.Duration
}

// NewService constructs the core service implementation.
func NewService(deps ServiceDeps) (Service, error) {
	if deps.Lifecycle == nil {
		return nil, errors.New("lifecycle manager is required")
	}
	if deps.Installer == nil {
		return nil, errors.New("installer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	timeout := deps.CommandTimeout
	if timeout <= 0 {
		timeout = schema.DefaultCommandTimeout
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &service{
		lifecycle:  deps.Lifecycle,
		installer:  deps.Installer,
		devservers: deps.DevServers,
		previews:   deps.Previews,
		registry:   registry,
		logger:     logger,
		timeout:    timeout,
	}, nil
}

// Execute validates the command, then runs the pipeline asynchronously:
// boot (with restore), sync, dependency check, spawn. Validation failures
// return an error before any sandbox work begins. Concurrent executions in
// one workspace are allowed; they share the sandbox boot and any in-flight
// dependency install.
func (s *service) Execute(ctx context.Context, req schema.ExecuteRequest) (<-chan schema.TerminalEvent, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	if err := schema.ValidateWorkspaceID(req.WorkspaceID); err != nil {
		return nil, &ExecError{Kind: ExecErrorValidation, Op: "workspace", Err: err}
	}
	parsed, err := command.Parse(req.Command)
	if err != nil {
		return nil, &ExecError{Kind: ExecErrorValidation, Op: "parse", Err: err}
	}
	if err := req.Tree.Validate(); err != nil {
		return nil, &ExecError{Kind: ExecErrorValidation, Op: "tree", Err: err}
	}

	sess := s.registry.Ensure(req.WorkspaceID)
	runCtx, cancel := context.WithCancel(logx.ContextWithWorkspaceLogger(ctx, s.logger, req.WorkspaceID))

	sess.mu.Lock()
	execID := sess.addCancel(cancel)
	tree := req.Tree
	sess.tree = &tree
	sess.manager = parsed.Manager
	sess.touch()
	sess.mu.Unlock()

	if s.previews != nil {
		s.previews.OnTreeUpdate(req.WorkspaceID, tree)
	}

	events := make(chan schema.TerminalEvent, eventBuffer)
	go s.run(runCtx, sess, execID, parsed, tree, events)
	return events, nil
}

// run drives one execution from boot to the single exit event.
func (s *service) run(ctx context.Context, sess *Session, execID uint64, parsed command.Parsed, tree schema.VirtualFileTree, events chan<- schema.TerminalEvent) {
	start := time.Now()
	log := logx.WithSession(logx.WithWorkspace(ctx, sess.WorkspaceID), schema.SessionID(newID()))

	defer func() {
		if cancel := sess.dropCancel(execID); cancel != nil {
			cancel()
		}
		s.lifecycle.Touch(sess.WorkspaceID)
	}()

	// Dev server processes outlive this execution and keep streaming into
	// emit after the exit event; the guard turns those late sends into
	// no-ops instead of sends on a closed channel.
	var emitMu sync.Mutex
	done := false
	emit := func(ev schema.TerminalEvent) {
		emitMu.Lock()
		defer emitMu.Unlock()
		if done {
			return
		}
		select {
		case events <- ev:
		default:
			metrics.RecordEventDropped("terminal")
		}
	}
	finish := func(code int, timedOut, canceled bool) {
		emitMu.Lock()
		defer emitMu.Unlock()
		if done {
			return
		}
		select {
		case events <- schema.ExitEvent(code, time.Since(start).Milliseconds(), timedOut, canceled):
		default:
			metrics.RecordEventDropped("terminal")
		}
		done = true
		close(events)
	}
	fail := func(kind ExecErrorKind, op string, err error, code int) {
		canceled := kind == ExecErrorCanceled || errors.Is(err, context.Canceled)
		if canceled {
			kind = ExecErrorCanceled
		}
		log.Warn("execution failed", "op", op, "kind", string(kind), "err", err)
		emit(schema.ErrorEvent((&ExecError{Kind: kind, Op: op, Err: err}).Error()))
		metrics.RecordCommand(string(parsed.Action), string(kind), time.Since(start))
		finish(code, kind == ExecErrorTimeout, canceled)
	}

	log.Info("execution start", "command", parsed.Raw)
	emit(schema.StatusEvent("Preparing sandbox"))
	booted, err := s.lifecycle.Ensure(ctx, sess.WorkspaceID)
	if err != nil {
		fail(ExecErrorBoot, "boot", err, 1)
		return
	}

	sess.mu.Lock()
	initialMount := !sess.mounted && !booted.Restored
	syncer := sess.syncer
	sess.mu.Unlock()

	emit(schema.StatusEvent("Syncing files"))
	if err := syncer.Sync(ctx, booted.Env, tree, initialMount); err != nil {
		fail(ExecErrorSync, "sync", err, 1)
		return
	}
	sess.mu.Lock()
	sess.mounted = true
	sess.mu.Unlock()

	emit(schema.StatusEvent("Checking dependencies"))
	outcome, err := s.installer.EnsureDependencies(ctx, sess.WorkspaceID, booted.Env, parsed.Manager)
	if err != nil {
		fail(ExecErrorInstall, "install", err, 1)
		return
	}
	switch outcome.Decision {
	case install.DecisionInstall, install.DecisionReinstall, install.DecisionShared:
		emit(schema.StatusEvent("Dependencies installed"))
	case install.DecisionSkip:
		emit(schema.StatusEvent("Dependencies up to date"))
	}

	if parsed.Action == schema.ActionInstall {
		log.Info("execution done", "decision", string(outcome.Decision), "duration", time.Since(start))
		metrics.RecordCommand(string(parsed.Action), "ok", time.Since(start))
		finish(0, false, false)
		return
	}

	manifestRaw, ok := tree.FileContent(schema.ManifestFile)
	if !ok {
		fail(ExecErrorValidation, "manifest", fmt.Errorf("%w: no %s in workspace", schema.ErrMissingScript, schema.ManifestFile), 1)
		return
	}
	manifest, err := schema.ParseManifest([]byte(manifestRaw))
	if err != nil {
		fail(ExecErrorValidation, "manifest", err, 1)
		return
	}
	if !manifest.HasScript(parsed.Script) {
		fail(ExecErrorValidation, "script", fmt.Errorf("%w: %q is not defined in %s", schema.ErrMissingScript, parsed.Script, schema.ManifestFile), 1)
		return
	}

	projectType := preview.Detect(tree)
	if isDevScript(parsed.Script) && projectType.ServerBacked() {
		s.runDevServer(ctx, sess, parsed, projectType, booted, emit, fail, finish, start)
		return
	}

	res, err := runproc.Run(ctx, booted.Env, runproc.Request{
		Command: string(parsed.Manager),
		Args:    []string{"run", parsed.Script},
		Timeout: s.timeout,
	}, emit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fail(ExecErrorCanceled, "run", err, 130)
			return
		}
		fail(ExecErrorExec, "run", err, 1)
		return
	}
	if res.TimedOut {
		emit(schema.ErrorEvent(fmt.Sprintf("command timed out after %s", s.timeout)))
		metrics.RecordCommand(string(parsed.Action), "timeout", time.Since(start))
		finish(res.ExitCode, true, false)
		return
	}
	log.Info("execution done", "exit_code", res.ExitCode, "duration", time.Since(start))
	metrics.RecordCommand(string(parsed.Action), "ok", time.Since(start))
	finish(res.ExitCode, false, false)
}

// runDevServer hands a dev/start script to the dev server manager. The
// event stream completes when the server signals readiness; the server
// itself keeps running under the manager.
func (s *service) runDevServer(ctx context.Context, sess *Session, parsed command.Parsed, projectType schema.ProjectType, booted lifecycle.Booted, emit runproc.EmitFunc, fail func(ExecErrorKind, string, error, int), finish func(int, bool, bool), start time.Time) {
	if s.devservers == nil {
		fail(ExecErrorDevServer, "devserver", errors.New("dev server manager not configured"), 1)
		return
	}
	emit(schema.StatusEvent("Starting dev server"))
	info, err := s.devservers.Start(ctx, booted.Env, devserver.StartRequest{
		WorkspaceID: sess.WorkspaceID,
		ProjectType: projectType,
		Command:     string(parsed.Manager),
		Args:        []string{"run", parsed.Script},
		Emit:        emit,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fail(ExecErrorCanceled, "devserver", err, 130)
			return
		}
		fail(ExecErrorDevServer, "devserver", err, 1)
		return
	}
	emit(schema.StatusEvent("Dev server ready at " + info.URL))
	metrics.RecordCommand(string(parsed.Action), "ok", time.Since(start))
	finish(0, false, false)
}

// Cancel aborts every in-flight command for the workspace, if any.
func (s *service) Cancel(ctx context.Context, req schema.CancelRequest) (schema.CancelResponse, error) {
	if err := schema.ValidateWorkspaceID(req.WorkspaceID); err != nil {
		return schema.CancelResponse{}, err
	}
	sess, ok := s.registry.Get(req.WorkspaceID)
	if !ok {
		return schema.CancelResponse{}, nil
	}
	cancels := sess.takeCancels()
	if len(cancels) == 0 {
		return schema.CancelResponse{}, nil
	}
	logx.WithWorkspace(ctx, req.WorkspaceID).Info("execution canceled by request", "in_flight", len(cancels))
	for _, cancel := range cancels {
		cancel()
	}
	return schema.CancelResponse{Canceled: true}, nil
}

// UpdateTree records the latest virtual tree and feeds preview detection.
// The sandbox filesystem is reconciled on the next Execute, not here.
func (s *service) UpdateTree(ctx context.Context, req schema.UpdateTreeRequest) error {
	if err := schema.ValidateWorkspaceID(req.WorkspaceID); err != nil {
		return err
	}
	if err := req.Tree.Validate(); err != nil {
		return err
	}
	sess := s.registry.Ensure(req.WorkspaceID)
	sess.mu.Lock()
	tree := req.Tree
	sess.tree = &tree
	sess.touch()
	sess.mu.Unlock()
	if s.previews != nil {
		s.previews.OnTreeUpdate(req.WorkspaceID, req.Tree)
	}
	return nil
}

// SetPreviewEnabled toggles preview generation for the workspace.
func (s *service) SetPreviewEnabled(ctx context.Context, req schema.PreviewToggleRequest) error {
	if err := schema.ValidateWorkspaceID(req.WorkspaceID); err != nil {
		return err
	}
	if s.previews == nil {
		return errors.New("preview manager not configured")
	}
	if req.Enabled {
		s.previews.Enable(req.WorkspaceID)
	} else {
		s.previews.Disable(req.WorkspaceID)
	}
	return nil
}

// PreviewState reports the preview state plus the backing server, if any.
func (s *service) PreviewState(ctx context.Context, req schema.PreviewStateRequest) (schema.PreviewStateResponse, error) {
	if err := schema.ValidateWorkspaceID(req.WorkspaceID); err != nil {
		return schema.PreviewStateResponse{}, err
	}
	if s.previews == nil {
		return schema.PreviewStateResponse{}, errors.New("preview manager not configured")
	}
	state := s.previews.State(req.WorkspaceID)
	resp := schema.PreviewStateResponse{State: state}
	if s.devservers != nil && state.ProjectType.ServerBacked() {
		if info, ok := s.devservers.Get(req.WorkspaceID, state.ProjectType); ok {
			resp.Server = &info
		}
	}
	return resp, nil
}

// Dispose tears down all live state for the workspace. The persisted
// snapshot survives so the next session can restore from it.
func (s *service) Dispose(ctx context.Context, req schema.DisposeRequest) error {
	if err := schema.ValidateWorkspaceID(req.WorkspaceID); err != nil {
		return err
	}
	sess, ok := s.registry.Remove(req.WorkspaceID)
	if ok {
		for _, cancel := range sess.takeCancels() {
			cancel()
		}
	}
	if s.devservers != nil {
		s.devservers.StopAll(ctx, req.WorkspaceID)
	}
	if s.previews != nil {
		s.previews.Dispose(req.WorkspaceID)
	}
	s.installer.Forget(req.WorkspaceID)
	if err := s.lifecycle.Close(ctx, req.WorkspaceID); err != nil {
		return err
	}
	logx.WithWorkspace(ctx, req.WorkspaceID).Info("workspace disposed")
	return nil
}

// Sweep collects sandboxes idle longer than the given duration and drops
// their session state. Busy sessions are never collected.
func (s *service) Sweep(ctx context.Context, idle time.Duration) []schema.WorkspaceID {
	if idle <= 0 {
		return nil
	}
	collected := s.lifecycle.Sweep(ctx, idle)
	for _, ws := range collected {
		if sess, ok := s.registry.Get(ws); ok {
			sess.mu.Lock()
			busy := len(sess.cancels) > 0
			if !busy {
				sess.mounted = false
			}
			sess.mu.Unlock()
			if busy {
				continue
			}
		}
		if s.devservers != nil {
			s.devservers.StopAll(ctx, ws)
		}
		s.installer.Forget(ws)
	}
	return collected
}

// isDevScript reports whether the script conventionally starts a dev server.
func isDevScript(script string) bool {
	return script == "dev" || script == "start"
}
