package hostproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"pkt.systems/sandview/internal/sandbox"
)

const portPollInterval = 150 * time.Millisecond

// Spawn starts one host process rooted in the workspace directory.
func (e *procEnv) Spawn(ctx context.Context, spec sandbox.ProcSpec) (sandbox.Process, error) {
	if spec.Command == "" {
		return nil, errors.New("command is required")
	}
	dir := e.dir
	if spec.Dir != "" {
		resolved, err := e.resolve(spec.Dir)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for key, value := range e.baseEnv {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	for key, value := range spec.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	if spec.Port > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", spec.Port))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	e.log.Debug("process started", "pid", cmd.Process.Pid, "command", spec.Command, "args", len(spec.Args), "port", spec.Port)

	proc := &hostProcess{
		cmd:    cmd,
		output: make(chan sandbox.OutputChunk, 256),
		ready:  make(chan sandbox.PortSignal, 1),
		done:   make(chan struct{}),
	}
	proc.wg.Add(2)
	go proc.readPipe(stdout, false)
	go proc.readPipe(stderr, true)
	go func() {
		proc.wg.Wait()
		close(proc.output)
	}()
	if spec.Port > 0 {
		go proc.watchPort(ctx, spec.Port)
	} else {
		close(proc.ready)
	}
	go proc.reap()
	return proc, nil
}

type hostProcess struct {
	cmd    *exec.Cmd
	output chan sandbox.OutputChunk
	ready  chan sandbox.PortSignal
	wg     sync.WaitGroup

	done     chan struct{}
	waitOnce sync.Once
	result   sandbox.Result
	waitErr  error
}

func (p *hostProcess) readPipe(r io.Reader, stderr bool) {
	defer p.wg.Done()
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		p.output <- sandbox.OutputChunk{Text: scanner.Text(), Stderr: stderr}
	}
}

// watchPort polls the expected port until the process binds it, then emits
// the readiness signal. The signal comes from observing the socket, never
// from process output.
func (p *hostProcess) watchPort(ctx context.Context, port int) {
	defer close(p.ready)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-time.After(portPollInterval):
		}
		conn, err := net.DialTimeout("tcp", addr, portPollInterval)
		if err == nil {
			_ = conn.Close()
			p.ready <- sandbox.PortSignal{Port: port, At: time.Now()}
			return
		}
	}
}

func (p *hostProcess) reap() {
	p.waitOnce.Do(func() {
		// Drain both pipes before Wait; Wait closes them on exit.
		p.wg.Wait()
		err := p.cmd.Wait()
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				p.waitErr = err
			}
		}
		if code < 0 {
			// Killed by signal; report the conventional shell encoding.
			code = 137
		}
		p.result = sandbox.Result{ExitCode: code}
		close(p.done)
	})
}

func (p *hostProcess) Output() <-chan sandbox.OutputChunk { return p.output }

func (p *hostProcess) Ready() <-chan sandbox.PortSignal { return p.ready }

func (p *hostProcess) Wait(ctx context.Context) (sandbox.Result, error) {
	select {
	case <-ctx.Done():
		return sandbox.Result{}, ctx.Err()
	case <-p.done:
		return p.result, p.waitErr
	}
}

func (p *hostProcess) Kill(context.Context) error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Kill()
}

func (p *hostProcess) Close() error {
	select {
	case <-p.done:
		return nil
	default:
		return p.Kill(context.Background())
	}
}
