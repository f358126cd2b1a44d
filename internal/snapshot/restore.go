package snapshot

import (
	"context"

	"pkt.systems/sandview/internal/sandbox"
)

// Capture walks the environment's workspace and returns the full file set
// for persistence. Directories are implied by file paths.
func Capture(ctx context.Context, env sandbox.Env) ([]FileEntry, error) {
	var files []FileEntry
	err := env.WalkFiles(ctx, ".", func(rel string, data []byte) error {
		files = append(files, FileEntry{Path: rel, Content: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Restore writes a captured file set back into the environment.
func Restore(ctx context.Context, env sandbox.Env, files []FileEntry) error {
	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := env.WriteFile(ctx, f.Path, f.Content); err != nil {
			return err
		}
	}
	return nil
}
