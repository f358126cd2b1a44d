package sandview

import (
	"context"
	"testing"
	"time"

	"pkt.systems/sandview/internal/lifecycle"
	"pkt.systems/sandview/internal/sandbox"
)

type trackingEnv struct {
	sandbox.Env
	closed int
}

func (e *trackingEnv) Close(context.Context) error {
	e.closed++
	return nil
}

type trackingRuntime struct {
	env *trackingEnv
}

func (r *trackingRuntime) Boot(context.Context, sandbox.BootSpec) (sandbox.Env, error) {
	return r.env, nil
}

func TestServerStopClosesSandboxes(t *testing.T) {
	rt := &trackingRuntime{env: &trackingEnv{}}
	lc, err := lifecycle.NewManager(context.Background(), rt, "workspaces", nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := lc.Ensure(context.Background(), "ws-1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &compositeServer{
		lifecycle: lc,
		ctx:       ctx,
		cancel:    cancel,
		started:   true,
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rt.env.closed != 1 {
		t.Fatalf("expected sandbox close, got %d", rt.env.closed)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected server context to be canceled")
	}
}

func TestNewRequiresRuntime(t *testing.T) {
	if _, err := New(ServerConfig{}, ServerDeps{}); err == nil {
		t.Fatal("expected error without a sandbox runtime")
	}
}
