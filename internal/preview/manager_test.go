package preview

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/sandview/internal/eventbus"
	"pkt.systems/sandview/schema"
)

func waitForState(t *testing.T, m *Manager, ws schema.WorkspaceID, ok func(schema.PreviewState) bool) schema.PreviewState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := m.State(ws)
		if ok(st) {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never converged, last: %+v", m.State(ws))
	return schema.PreviewState{}
}

func TestDetectionRunsWhileDisabled(t *testing.T) {
	m := New(nil, NewBlobStore(), nil, 10*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", staticTree(map[string]string{"index.html": "<html></html>"}))
	if st := m.State("ws-1"); st.ProjectType != schema.ProjectStatic || st.IsEnabled {
		t.Fatalf("state = %+v, want disabled static", st)
	}
	m.OnTreeUpdate("ws-1", manifestTree(`{"dependencies":{"vite":"5.0.0"}}`, nil))
	if st := m.State("ws-1"); st.ProjectType != schema.ProjectVite {
		t.Fatalf("state = %+v, want vite", st)
	}
	// Disabled previews never regenerate.
	time.Sleep(50 * time.Millisecond)
	if st := m.State("ws-1"); st.PreviewURL != "" {
		t.Fatalf("disabled preview produced a URL: %+v", st)
	}
}

func TestEnableGeneratesStaticPreview(t *testing.T) {
	blobs := NewBlobStore()
	m := New(eventbus.New(nil), blobs, nil, 10*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", staticTree(map[string]string{"index.html": "<html><body>hi</body></html>"}))
	m.Enable("ws-1")

	st := waitForState(t, m, "ws-1", func(s schema.PreviewState) bool { return s.PreviewURL != "" })
	if !strings.HasPrefix(st.PreviewURL, BlobPathPrefix) {
		t.Fatalf("url = %q", st.PreviewURL)
	}
	token := strings.TrimPrefix(st.PreviewURL, BlobPathPrefix)
	blob, ok := blobs.Get(token)
	if !ok {
		t.Fatal("blob missing for live preview URL")
	}
	if !strings.Contains(string(blob.Data), "hi") {
		t.Fatalf("blob data = %q", blob.Data)
	}
}

func TestRegenerationRevokesPreviousBlob(t *testing.T) {
	blobs := NewBlobStore()
	m := New(nil, blobs, nil, 10*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", staticTree(map[string]string{"index.html": "<html><body>one</body></html>"}))
	m.Enable("ws-1")
	first := waitForState(t, m, "ws-1", func(s schema.PreviewState) bool { return s.PreviewURL != "" })

	m.OnTreeUpdate("ws-1", staticTree(map[string]string{"index.html": "<html><body>two</body></html>"}))
	waitForState(t, m, "ws-1", func(s schema.PreviewState) bool {
		return s.PreviewURL != "" && s.PreviewURL != first.PreviewURL
	})

	oldToken := strings.TrimPrefix(first.PreviewURL, BlobPathPrefix)
	if _, ok := blobs.Get(oldToken); ok {
		t.Fatal("previous blob not revoked after replacement")
	}
	if blobs.Len() != 1 {
		t.Fatalf("blob count = %d, want 1", blobs.Len())
	}
}

func TestRapidUpdatesCoalesce(t *testing.T) {
	blobs := NewBlobStore()
	m := New(nil, blobs, nil, 80*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", staticTree(map[string]string{"index.html": "<html><body>0</body></html>"}))
	m.Enable("ws-1")
	waitForState(t, m, "ws-1", func(s schema.PreviewState) bool { return s.PreviewURL != "" })

	for i := 0; i < 10; i++ {
		m.OnTreeUpdate("ws-1", staticTree(map[string]string{"index.html": "<html><body>edit</body></html>"}))
		time.Sleep(5 * time.Millisecond)
	}
	final := waitForState(t, m, "ws-1", func(s schema.PreviewState) bool {
		if s.PreviewURL == "" || s.IsLoading {
			return false
		}
		blob, ok := blobs.Get(strings.TrimPrefix(s.PreviewURL, BlobPathPrefix))
		return ok && strings.Contains(string(blob.Data), "edit")
	})
	_ = final
	// One blob for the enable pass result replaced by one coalesced
	// regeneration; nothing else should be live.
	if blobs.Len() != 1 {
		t.Fatalf("blob count = %d, want 1 after coalesced regeneration", blobs.Len())
	}
}

func TestServerBackedDelegatesAndReusesURL(t *testing.T) {
	var starts atomic.Int32
	starter := func(_ context.Context, ws schema.WorkspaceID, pt schema.ProjectType) (schema.DevServerInfo, error) {
		starts.Add(1)
		return schema.DevServerInfo{URL: "http://127.0.0.1:4567", Port: 4567, ProjectType: pt, WorkspaceID: ws, IsRunning: true}, nil
	}
	m := New(nil, NewBlobStore(), starter, 10*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", manifestTree(`{"dependencies":{"vite":"5.0.0"}}`, nil))
	m.Enable("ws-1")

	st := waitForState(t, m, "ws-1", func(s schema.PreviewState) bool { return s.PreviewURL != "" })
	if st.PreviewURL != "http://127.0.0.1:4567" {
		t.Fatalf("url = %q", st.PreviewURL)
	}
	if starts.Load() != 1 {
		t.Fatalf("starter called %d times, want 1", starts.Load())
	}
}

func TestUnsupportedFailsImmediately(t *testing.T) {
	m := New(nil, NewBlobStore(), nil, 10*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", manifestTree(`{"dependencies":{"lodash":"4.0.0"}}`, nil))
	m.Enable("ws-1")

	st := waitForState(t, m, "ws-1", func(s schema.PreviewState) bool { return s.Error != "" })
	if !strings.Contains(st.Error, "unsupported") {
		t.Fatalf("error = %q", st.Error)
	}
	if st.PreviewURL != "" {
		t.Fatalf("unsupported preview produced a URL: %+v", st)
	}
}

func TestDisableRevokesBlobAndClearsURL(t *testing.T) {
	blobs := NewBlobStore()
	m := New(nil, blobs, nil, 10*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", staticTree(map[string]string{"index.html": "<html></html>"}))
	m.Enable("ws-1")
	waitForState(t, m, "ws-1", func(s schema.PreviewState) bool { return s.PreviewURL != "" })

	m.Disable("ws-1")
	st := m.State("ws-1")
	if st.IsEnabled || st.PreviewURL != "" {
		t.Fatalf("state after disable = %+v", st)
	}
	if blobs.Len() != 0 {
		t.Fatalf("blob count = %d after disable, want 0", blobs.Len())
	}
	// Detection still updates while disabled.
	m.OnTreeUpdate("ws-1", manifestTree(`{"dependencies":{"next":"14.0.0"}}`, nil))
	if st := m.State("ws-1"); st.ProjectType != schema.ProjectNext {
		t.Fatalf("detection stopped after disable: %+v", st)
	}
}

func TestDisposeDropsState(t *testing.T) {
	blobs := NewBlobStore()
	m := New(nil, blobs, nil, 10*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", staticTree(map[string]string{"index.html": "<html></html>"}))
	m.Enable("ws-1")
	waitForState(t, m, "ws-1", func(s schema.PreviewState) bool { return s.PreviewURL != "" })

	m.Dispose("ws-1")
	if blobs.Len() != 0 {
		t.Fatalf("blob count = %d after dispose, want 0", blobs.Len())
	}
	if st := m.State("ws-1"); st.PreviewURL != "" || st.IsEnabled {
		t.Fatalf("state after dispose = %+v", st)
	}
}

func TestStaleRegenerationDiscarded(t *testing.T) {
	// A slow starter simulates an in-flight regeneration that finishes
	// after a newer one.
	release := make(chan struct{})
	var calls atomic.Int32
	starter := func(_ context.Context, ws schema.WorkspaceID, pt schema.ProjectType) (schema.DevServerInfo, error) {
		n := calls.Add(1)
		if n == 1 {
			<-release
			return schema.DevServerInfo{URL: "http://127.0.0.1:1111"}, nil
		}
		return schema.DevServerInfo{URL: "http://127.0.0.1:2222"}, nil
	}
	m := New(nil, NewBlobStore(), starter, 20*time.Millisecond, nil)
	m.OnTreeUpdate("ws-1", manifestTree(`{"dependencies":{"vite":"5.0.0"}}`, nil))
	m.Enable("ws-1") // first regeneration, blocks in starter

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.OnTreeUpdate("ws-1", manifestTree(`{"dependencies":{"vite":"5.0.1"}}`, nil)) // second regeneration
	waitForState(t, m, "ws-1", func(s schema.PreviewState) bool { return s.PreviewURL == "http://127.0.0.1:2222" })

	close(release) // stale generation finishes now
	time.Sleep(100 * time.Millisecond)
	if st := m.State("ws-1"); st.PreviewURL != "http://127.0.0.1:2222" {
		t.Fatalf("stale regeneration overwrote newer result: %+v", st)
	}
}
