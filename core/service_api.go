package core

import (
	"context"
	"time"

	"pkt.systems/sandview/schema"
)

// Service is the transport-agnostic API for executing commands and
// managing previews inside workspace sandboxes.
type Service interface {
	// Execute runs one command in the workspace sandbox. The returned
	// channel carries status, output, and error events and is closed
	// after exactly one exit event.
	Execute(ctx context.Context, req schema.ExecuteRequest) (<-chan schema.TerminalEvent, error)
	// Cancel aborts the in-flight command for the workspace, if any.
	Cancel(ctx context.Context, req schema.CancelRequest) (schema.CancelResponse, error)
	// UpdateTree records a new virtual file tree for the workspace and
	// feeds it to preview detection.
	UpdateTree(ctx context.Context, req schema.UpdateTreeRequest) error
	// SetPreviewEnabled toggles preview generation for the workspace.
	SetPreviewEnabled(ctx context.Context, req schema.PreviewToggleRequest) error
	// PreviewState reports the current preview and dev server state.
	PreviewState(ctx context.Context, req schema.PreviewStateRequest) (schema.PreviewStateResponse, error)
	// Dispose tears down the workspace session, its sandbox, dev
	// servers, and preview resources.
	Dispose(ctx context.Context, req schema.DisposeRequest) error
	// Sweep collects sandboxes idle longer than the given duration.
	Sweep(ctx context.Context, idle time.Duration) []schema.WorkspaceID
}
