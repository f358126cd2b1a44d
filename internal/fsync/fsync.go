// Package fsync projects the editor's virtual file tree onto the sandbox
// filesystem. After a sync the sandbox mirror matches the tree exactly:
// directories are created first (including empty ones), file contents are
// written next, and previously-synced paths absent from the tree are removed.
package fsync

import (
	"context"
	"sort"
	"strings"
	"sync"

	"pkt.systems/sandview/internal/logx"
	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/schema"
)

// stagingPrefix is where the first full mount lands before being merged in,
// so concurrent readers never observe a half-mounted workspace root.
const stagingPrefix = ".sandview-staging"

// Syncer tracks the last-synced path set for one workspace session.
// Concurrent executions in one workspace serialize their syncs here.
type Syncer struct {
	mu     sync.Mutex
	synced map[string]schema.NodeType
}

// NewSyncer constructs a syncer with no synced state.
func NewSyncer() *Syncer {
	return &Syncer{synced: make(map[string]schema.NodeType)}
}

// Sync projects tree into the environment. initialMount selects the staged
// full-mount path used when no snapshot was restored.
func (s *Syncer) Sync(ctx context.Context, env sandbox.Env, tree schema.VirtualFileTree, initialMount bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := tree.Flatten()
	if err != nil {
		return err
	}
	log := logx.Ctx(ctx)
	if initialMount {
		if err := s.stagedMount(ctx, env, entries); err != nil {
			return err
		}
		log.Debug("filesystem mounted", "entries", len(entries))
		return nil
	}

	next := make(map[string]schema.NodeType, len(entries))
	written := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		next[entry.Path] = entry.Type
		if entry.Type != schema.NodeFolder {
			continue
		}
		if err := env.MkdirAll(ctx, entry.Path); err != nil {
			return err
		}
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.Type != schema.NodeFile {
			continue
		}
		if err := env.WriteFile(ctx, entry.Path, []byte(entry.Content)); err != nil {
			return err
		}
		written++
	}

	removed, err := s.removeOrphans(ctx, env, next)
	if err != nil {
		return err
	}
	s.synced = next
	log.Debug("filesystem synced", "written", written, "removed", removed)
	return nil
}

// removeOrphans deletes previously-synced paths missing from next, deepest
// paths first so files go before their parents.
func (s *Syncer) removeOrphans(ctx context.Context, env sandbox.Env, next map[string]schema.NodeType) (int, error) {
	var orphans []string
	for path := range s.synced {
		if _, ok := next[path]; !ok {
			orphans = append(orphans, path)
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		return strings.Count(orphans[i], "/") > strings.Count(orphans[j], "/")
	})
	for _, path := range orphans {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err := env.Remove(ctx, path); err != nil {
			return 0, err
		}
	}
	return len(orphans), nil
}

// stagedMount writes the whole tree under a staging path, then merges each
// top-level entry into the workspace root with renames.
func (s *Syncer) stagedMount(ctx context.Context, env sandbox.Env, entries []schema.Entry) error {
	if err := env.Remove(ctx, stagingPrefix); err != nil {
		return err
	}
	if err := env.MkdirAll(ctx, stagingPrefix); err != nil {
		return err
	}
	next := make(map[string]schema.NodeType, len(entries))
	tops := make(map[string]struct{})
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		next[entry.Path] = entry.Type
		tops[topLevel(entry.Path)] = struct{}{}
		staged := stagingPrefix + "/" + entry.Path
		if entry.Type == schema.NodeFolder {
			if err := env.MkdirAll(ctx, staged); err != nil {
				return err
			}
			continue
		}
		if err := env.WriteFile(ctx, staged, []byte(entry.Content)); err != nil {
			return err
		}
	}
	for top := range tops {
		if err := env.Remove(ctx, top); err != nil {
			return err
		}
		if err := env.Rename(ctx, stagingPrefix+"/"+top, top); err != nil {
			return err
		}
	}
	if err := env.Remove(ctx, stagingPrefix); err != nil {
		return err
	}
	s.synced = next
	return nil
}

func topLevel(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
