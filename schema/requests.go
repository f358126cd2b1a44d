package schema

// ExecuteRequest runs one terminal command against a workspace.
type ExecuteRequest struct {
	WorkspaceID WorkspaceID     `json:"workspace_id"`
	Command     string          `json:"command"`
	Tree        VirtualFileTree `json:"tree"`
}

// CancelRequest aborts the active execution for a workspace.
type CancelRequest struct {
	WorkspaceID WorkspaceID `json:"workspace_id"`
}

// CancelResponse reports whether an execution was actually aborted.
type CancelResponse struct {
	Canceled bool `json:"canceled"`
}

// UpdateTreeRequest pushes a new virtual tree for a workspace.
type UpdateTreeRequest struct {
	WorkspaceID WorkspaceID     `json:"workspace_id"`
	Tree        VirtualFileTree `json:"tree"`
}

// PreviewToggleRequest enables or disables the preview for a workspace.
type PreviewToggleRequest struct {
	WorkspaceID WorkspaceID `json:"workspace_id"`
	Enabled     bool        `json:"enabled"`
}

// PreviewStateRequest fetches the observable preview state.
type PreviewStateRequest struct {
	WorkspaceID WorkspaceID `json:"workspace_id"`
}

// PreviewStateResponse carries the preview state and backing server info.
type PreviewStateResponse struct {
	State  PreviewState   `json:"state"`
	Server *DevServerInfo `json:"server,omitempty"`
}

// DisposeRequest tears down all session state for a workspace.
type DisposeRequest struct {
	WorkspaceID WorkspaceID `json:"workspace_id"`
}
