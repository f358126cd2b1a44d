package fsync

import (
	"context"
	"sort"
	"strings"
	"testing"

	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/schema"
)

// memEnv is an in-memory sandbox.Env good enough for projection tests.
type memEnv struct {
	sandbox.Env
	files map[string]string
	dirs  map[string]bool
}

func newMemEnv() *memEnv {
	return &memEnv{files: make(map[string]string), dirs: make(map[string]bool)}
}

func (m *memEnv) MkdirAll(_ context.Context, rel string) error {
	for _, p := range ancestry(rel) {
		m.dirs[p] = true
	}
	return nil
}

func (m *memEnv) WriteFile(_ context.Context, rel string, data []byte) error {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		_ = m.MkdirAll(context.Background(), rel[:i])
	}
	m.files[rel] = string(data)
	return nil
}

func (m *memEnv) ReadFile(_ context.Context, rel string) ([]byte, error) {
	s, ok := m.files[rel]
	if !ok {
		return nil, schema.ErrInvalidTree
	}
	return []byte(s), nil
}

func (m *memEnv) Remove(_ context.Context, rel string) error {
	delete(m.files, rel)
	delete(m.dirs, rel)
	prefix := rel + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
	for p := range m.dirs {
		if strings.HasPrefix(p, prefix) {
			delete(m.dirs, p)
		}
	}
	return nil
}

func (m *memEnv) Rename(ctx context.Context, oldRel, newRel string) error {
	oldPrefix := oldRel + "/"
	moved := make(map[string]string)
	for p, v := range m.files {
		if p == oldRel {
			moved[newRel] = v
			delete(m.files, p)
		} else if strings.HasPrefix(p, oldPrefix) {
			moved[newRel+"/"+p[len(oldPrefix):]] = v
			delete(m.files, p)
		}
	}
	for p, v := range moved {
		m.files[p] = v
	}
	movedDirs := make(map[string]bool)
	for p := range m.dirs {
		if p == oldRel {
			movedDirs[newRel] = true
			delete(m.dirs, p)
		} else if strings.HasPrefix(p, oldPrefix) {
			movedDirs[newRel+"/"+p[len(oldPrefix):]] = true
			delete(m.dirs, p)
		}
	}
	for p, v := range movedDirs {
		m.dirs[p] = v
	}
	return nil
}

func ancestry(rel string) []string {
	var out []string
	parts := strings.Split(rel, "/")
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}

func testTree(t *testing.T) schema.VirtualFileTree {
	t.Helper()
	tree := schema.VirtualFileTree{
		RootID: "root",
		Nodes: map[schema.NodeID]schema.Node{
			"root": {Name: "", Type: schema.NodeFolder},
			"src":  {Name: "src", Type: schema.NodeFolder, ParentID: "root"},
			"pub":  {Name: "public", Type: schema.NodeFolder, ParentID: "root"},
			"main": {Name: "main.js", Type: schema.NodeFile, ParentID: "src", Content: "console.log(1)\n"},
			"pkg":  {Name: "package.json", Type: schema.NodeFile, ParentID: "root", Content: "{}\n"},
		},
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return tree
}

func TestSyncWritesFilesAndEmptyDirs(t *testing.T) {
	env := newMemEnv()
	s := NewSyncer()
	if err := s.Sync(context.Background(), env, testTree(t), false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := env.files["src/main.js"]; got != "console.log(1)\n" {
		t.Fatalf("src/main.js = %q", got)
	}
	if !env.dirs["public"] {
		t.Fatal("empty folder public not created")
	}
}

func TestSyncRemovesOrphans(t *testing.T) {
	env := newMemEnv()
	s := NewSyncer()
	tree := testTree(t)
	if err := s.Sync(context.Background(), env, tree, false); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	delete(tree.Nodes, "main")
	if err := s.Sync(context.Background(), env, tree, false); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if _, ok := env.files["src/main.js"]; ok {
		t.Fatal("orphan src/main.js survived")
	}
	if _, ok := env.files["package.json"]; !ok {
		t.Fatal("package.json removed although still in tree")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	env := newMemEnv()
	s := NewSyncer()
	tree := testTree(t)
	for i := 0; i < 3; i++ {
		if err := s.Sync(context.Background(), env, tree, false); err != nil {
			t.Fatalf("Sync %d: %v", i, err)
		}
	}
	var files []string
	for p := range env.files {
		files = append(files, p)
	}
	sort.Strings(files)
	want := []string{"package.json", "src/main.js"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files = %v, want %v", files, want)
		}
	}
}

func TestInitialMountStagesAndMerges(t *testing.T) {
	env := newMemEnv()
	s := NewSyncer()
	if err := s.Sync(context.Background(), env, testTree(t), true); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if env.dirs[stagingPrefix] {
		t.Fatal("staging directory left behind")
	}
	if got := env.files["src/main.js"]; got != "console.log(1)\n" {
		t.Fatalf("src/main.js = %q", got)
	}
	// A later incremental pass must see the mounted set as synced state.
	tree := testTree(t)
	delete(tree.Nodes, "pkg")
	if err := s.Sync(context.Background(), env, tree, false); err != nil {
		t.Fatalf("incremental Sync: %v", err)
	}
	if _, ok := env.files["package.json"]; ok {
		t.Fatal("package.json not removed after initial mount")
	}
}

func TestSyncLeavesRestoredFilesAlone(t *testing.T) {
	// Restored snapshot files were never synced this session, so they are
	// not orphan candidates even though the tree does not mention them.
	env := newMemEnv()
	env.files["node_modules/x/index.js"] = "x"
	s := NewSyncer()
	tree := testTree(t)
	for i := 0; i < 2; i++ {
		if err := s.Sync(context.Background(), env, tree, false); err != nil {
			t.Fatalf("Sync %d: %v", i, err)
		}
	}
	if _, ok := env.files["node_modules/x/index.js"]; !ok {
		t.Fatal("restored file was deleted by sync")
	}
}
