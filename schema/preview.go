package schema

import "time"

// DevServerInfo describes a running framework dev server.
type DevServerInfo struct {
	URL         string      `json:"url"`
	Port        int         `json:"port"`
	ProjectType ProjectType `json:"project_type"`
	WorkspaceID WorkspaceID `json:"workspace_id"`
	IsRunning   bool        `json:"is_running"`
	StartTime   time.Time   `json:"start_time"`
}

// PreviewState is the observable preview status for one workspace.
type PreviewState struct {
	IsEnabled   bool        `json:"is_enabled"`
	ProjectType ProjectType `json:"project_type"`
	PreviewURL  string      `json:"preview_url,omitempty"`
	Error       string      `json:"error,omitempty"`
	IsLoading   bool        `json:"is_loading"`
}

// PreviewEvent announces a PreviewState change for a workspace.
type PreviewEvent struct {
	WorkspaceID WorkspaceID  `json:"workspace_id"`
	State       PreviewState `json:"state"`
}

// DevServerEventType tags dev server lifecycle events.
type DevServerEventType string

const (
	// DevServerStarted marks a server that signaled readiness.
	DevServerStarted DevServerEventType = "started"
	// DevServerStopped marks a server stopped on request or replacement.
	DevServerStopped DevServerEventType = "stopped"
	// DevServerCrashed marks a server that exited before being stopped.
	DevServerCrashed DevServerEventType = "crashed"
)

// DevServerEvent announces a dev server lifecycle change.
type DevServerEvent struct {
	WorkspaceID WorkspaceID        `json:"workspace_id"`
	Type        DevServerEventType `json:"type"`
	Info        DevServerInfo      `json:"info"`
}
