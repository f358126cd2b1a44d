package core

import (
	"context"
	"fmt"

	"pkt.systems/sandview/internal/devserver"
	"pkt.systems/sandview/internal/lifecycle"
	"pkt.systems/sandview/internal/preview"
	"pkt.systems/sandview/schema"
)

// NewPreviewStarter adapts the dev server manager into the preview
// package's server start hook. It shares the session registry with the
// service so server-backed previews reuse the session's package manager
// and file tree.
func NewPreviewStarter(lc *lifecycle.Manager, servers *devserver.Manager, registry *Registry) preview.ServerStarter {
	return func(ctx context.Context, workspaceID schema.WorkspaceID, projectType schema.ProjectType) (schema.DevServerInfo, error) {
		if info, ok := servers.Get(workspaceID, projectType); ok {
			return info, nil
		}
		booted, err := lc.Ensure(ctx, workspaceID)
		if err != nil {
			return schema.DevServerInfo{}, err
		}
		if !booted.Env.Capabilities().Processes {
			return schema.DevServerInfo{}, fmt.Errorf("%w: process execution", schema.ErrCapabilityMissing)
		}

		manager := schema.ManagerNpm
		script := "dev"
		if sess, ok := registry.Get(workspaceID); ok {
			sess.mu.Lock()
			manager = sess.manager
			if sess.tree != nil {
				if raw, ok := sess.tree.FileContent(schema.ManifestFile); ok {
					if manifest, err := schema.ParseManifest([]byte(raw)); err == nil {
						script = devScriptFor(manifest)
					}
				}
			}
			sess.mu.Unlock()
		}

		return servers.Start(ctx, booted.Env, devserver.StartRequest{
			WorkspaceID: workspaceID,
			ProjectType: projectType,
			Command:     string(manager),
			Args:        []string{"run", script},
		})
	}
}

// devScriptFor picks the manifest script that starts the dev server.
func devScriptFor(manifest schema.Manifest) string {
	if manifest.HasScript("dev") {
		return "dev"
	}
	if manifest.HasScript("start") {
		return "start"
	}
	return "dev"
}
