// Package runproc executes one sandbox process and streams its cleaned
// output incrementally. Timeout and cancellation race against normal exit;
// whichever resolves first wins and the loser is cleaned up.
package runproc

import (
	"context"
	"sync"
	"time"

	"pkt.systems/sandview/internal/logx"
	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/schema"
)

// Request describes one process execution.
type Request struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	// Port, when nonzero, is assigned to the process and watched for the
	// readiness signal.
	Port int
	// Timeout bounds the run. For dev servers it is a safety net only.
	Timeout time.Duration
}

// Result reports how a process ended.
type Result struct {
	ExitCode int
	TimedOut bool
}

// EmitFunc receives output and error events as they stream in. It must not
// block for long; the process pipes apply backpressure behind it.
type EmitFunc func(schema.TerminalEvent)

// Handle is a started process whose exit is still pending.
type Handle struct {
	proc    sandbox.Process
	emit    EmitFunc
	timeout time.Duration

	drained chan struct{}
	waitRes chan waitOutcome
	once    sync.Once
}

type waitOutcome struct {
	res sandbox.Result
	err error
}

// Start spawns the process and begins streaming its output through emit.
func Start(ctx context.Context, env sandbox.Env, req Request, emit EmitFunc) (*Handle, error) {
	if emit == nil {
		emit = func(schema.TerminalEvent) {}
	}
	proc, err := env.Spawn(ctx, sandbox.ProcSpec{
		Command: req.Command,
		Args:    req.Args,
		Dir:     req.Dir,
		Env:     req.Env,
		Port:    req.Port,
	})
	if err != nil {
		return nil, err
	}
	h := &Handle{
		proc:    proc,
		emit:    emit,
		timeout: req.Timeout,
		drained: make(chan struct{}),
		waitRes: make(chan waitOutcome, 1),
	}
	go h.stream()
	go func() {
		res, err := proc.Wait(context.Background())
		h.waitRes <- waitOutcome{res: res, err: err}
	}()
	logx.Ctx(ctx).Debug("process running", "command", req.Command, "args", len(req.Args), "port", req.Port)
	return h, nil
}

// Ready exposes the sandbox runtime's port readiness signal.
func (h *Handle) Ready() <-chan sandbox.PortSignal { return h.proc.Ready() }

// Kill forcibly terminates the process.
func (h *Handle) Kill(ctx context.Context) error { return h.proc.Kill(ctx) }

// stream forwards cleaned output lines as events until the pipes close.
func (h *Handle) stream() {
	defer close(h.drained)
	for chunk := range h.proc.Output() {
		text := CleanLine(chunk.Text)
		if text == "" {
			continue
		}
		if chunk.Stderr {
			h.emit(schema.ErrorEvent(text))
			continue
		}
		h.emit(schema.OutputEvent(text))
	}
}

// Wait blocks until exit, timeout or cancellation, whichever comes first.
// On timeout the process is killed and TimedOut is set; on cancellation the
// process is killed and the context error is returned. All streamed output
// is delivered before Wait returns.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	defer h.Close()

	var timeoutC <-chan time.Time
	if h.timeout > 0 {
		timer := time.NewTimer(h.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case w := <-h.waitRes:
		<-h.drained
		if w.err != nil {
			return Result{}, w.err
		}
		return Result{ExitCode: w.res.ExitCode}, nil
	case <-timeoutC:
		_ = h.proc.Kill(ctx)
		w := <-h.waitRes
		<-h.drained
		return Result{ExitCode: w.res.ExitCode, TimedOut: true}, nil
	case <-ctx.Done():
		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.proc.Kill(killCtx)
		<-h.waitRes
		<-h.drained
		return Result{}, ctx.Err()
	}
}

// Close releases process resources. Safe to call more than once.
func (h *Handle) Close() {
	h.once.Do(func() {
		_ = h.proc.Close()
	})
}

// Run spawns the process and waits for it in one call.
func Run(ctx context.Context, env sandbox.Env, req Request, emit EmitFunc) (Result, error) {
	h, err := Start(ctx, env, req, emit)
	if err != nil {
		return Result{}, err
	}
	return h.Wait(ctx)
}
