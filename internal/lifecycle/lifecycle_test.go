package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/schema"
)

type fakeRuntime struct {
	mu    sync.Mutex
	boots int32
	fail  bool
	gate  chan struct{}
}

func (r *fakeRuntime) Boot(ctx context.Context, spec sandbox.BootSpec) (sandbox.Env, error) {
	atomic.AddInt32(&r.boots, 1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return nil, errors.New("boot exploded")
	}
	return &fakeEnv{}, nil
}

type fakeEnv struct {
	sandbox.Env
	closed int32
}

func (e *fakeEnv) Close(ctx context.Context) error {
	atomic.AddInt32(&e.closed, 1)
	return nil
}

func TestEnsureBootsOnce(t *testing.T) {
	rt := &fakeRuntime{}
	m, err := NewManager(context.Background(), rt, "/workspace", nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Ensure(context.Background(), "ws1"); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if got := atomic.LoadInt32(&rt.boots); got != 1 {
		t.Fatalf("expected 1 boot, got %d", got)
	}
	if m.StateOf("ws1") != StateReady {
		t.Fatalf("expected ready state, got %s", m.StateOf("ws1"))
	}
}

func TestEnsureConcurrentCallersShareBoot(t *testing.T) {
	rt := &fakeRuntime{gate: make(chan struct{})}
	m, err := NewManager(context.Background(), rt, "/workspace", nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Ensure(context.Background(), "ws1")
		}(i)
	}
	close(rt.gate)
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&rt.boots); got != 1 {
		t.Fatalf("expected shared boot, got %d boots", got)
	}
}

func TestEnsureFailureClearsCell(t *testing.T) {
	rt := &fakeRuntime{fail: true}
	m, err := NewManager(context.Background(), rt, "/workspace", nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Ensure(context.Background(), "ws1"); err == nil {
		t.Fatalf("expected boot failure")
	}
	if m.StateOf("ws1") != StateUninitialized {
		t.Fatalf("expected cleared cell, got %s", m.StateOf("ws1"))
	}
	rt.mu.Lock()
	rt.fail = false
	rt.mu.Unlock()
	if _, err := m.Ensure(context.Background(), "ws1"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got := atomic.LoadInt32(&rt.boots); got != 2 {
		t.Fatalf("expected retry boot, got %d boots", got)
	}
}

func TestEnsureWaitersSeeLeaderBootError(t *testing.T) {
	rt := &fakeRuntime{fail: true, gate: make(chan struct{})}
	m, err := NewManager(context.Background(), rt, "/workspace", nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	leaderErr := make(chan error, 1)
	go func() {
		_, err := m.Ensure(context.Background(), "ws1")
		leaderErr <- err
	}()
	for m.StateOf("ws1") != StateBooting {
		time.Sleep(time.Millisecond)
	}
	const waiters = 4
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Ensure(context.Background(), "ws1")
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(rt.gate)
	wg.Wait()
	if err := <-leaderErr; err == nil || err.Error() != "boot exploded" {
		t.Fatalf("leader err = %v, want boot failure", err)
	}
	// Every waiter must surface the leader's boot error, not a generic
	// unavailable error or a nil environment.
	for i, err := range errs {
		if err == nil || err.Error() != "boot exploded" {
			t.Fatalf("waiter %d: err = %v, want the boot error", i, err)
		}
	}
}

func TestRestoreRunsBeforePublish(t *testing.T) {
	rt := &fakeRuntime{}
	restored := int32(0)
	restore := func(ctx context.Context, id schema.WorkspaceID, env sandbox.Env) (bool, error) {
		atomic.AddInt32(&restored, 1)
		return true, nil
	}
	m, err := NewManager(context.Background(), rt, "/workspace", restore)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	booted, err := m.Ensure(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !booted.Restored {
		t.Fatalf("expected restored flag")
	}
	// Second Ensure hits the cache; restore must not run again.
	if _, err := m.Ensure(context.Background(), "ws1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := atomic.LoadInt32(&restored); got != 1 {
		t.Fatalf("expected one restore, got %d", got)
	}
}

func TestCloseRemovesEnvironment(t *testing.T) {
	rt := &fakeRuntime{}
	m, err := NewManager(context.Background(), rt, "/workspace", nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	booted, err := m.Ensure(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	env := booted.Env.(*fakeEnv)
	if err := m.Close(context.Background(), "ws1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if atomic.LoadInt32(&env.closed) != 1 {
		t.Fatalf("expected env closed")
	}
	if m.StateOf("ws1") != StateUninitialized {
		t.Fatalf("expected cell removed")
	}
}
