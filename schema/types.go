package schema

// WorkspaceID identifies one editor workspace.
type WorkspaceID string

// SessionID identifies one execution session for a workspace.
type SessionID string

// NodeID identifies a node in the virtual file tree.
type NodeID string

// PackageManager identifies the package manager driving installs.
type PackageManager string

const (
	// ManagerNpm is the npm package manager.
	ManagerNpm PackageManager = "npm"
	// ManagerPnpm is the pnpm package manager.
	ManagerPnpm PackageManager = "pnpm"
	// ManagerYarn is the yarn package manager.
	ManagerYarn PackageManager = "yarn"
	// ManagerBun is the bun package manager.
	ManagerBun PackageManager = "bun"
)

// KnownManagers lists the package managers the command parser accepts.
var KnownManagers = []PackageManager{ManagerNpm, ManagerPnpm, ManagerYarn, ManagerBun}

// IsKnownManager reports whether value names a recognized package manager.
func IsKnownManager(value string) bool {
	for _, m := range KnownManagers {
		if string(m) == value {
			return true
		}
	}
	return false
}

// CommandAction classifies a parsed command.
type CommandAction string

const (
	// ActionInstall installs dependencies.
	ActionInstall CommandAction = "install"
	// ActionRun runs a manifest script.
	ActionRun CommandAction = "run"
)

// ProjectType classifies a workspace for preview generation.
type ProjectType string

const (
	// ProjectNext is a server-rendered framework project.
	ProjectNext ProjectType = "next"
	// ProjectVite is a bundler-based framework project.
	ProjectVite ProjectType = "vite"
	// ProjectReact is a UI-library project without its own dev tooling.
	ProjectReact ProjectType = "react"
	// ProjectStatic is a plain static-markup project.
	ProjectStatic ProjectType = "static"
	// ProjectUnsupported marks a workspace no preview strategy covers.
	ProjectUnsupported ProjectType = "unsupported"
)

// ServerBacked reports whether the project type is previewed through a dev server.
func (t ProjectType) ServerBacked() bool {
	switch t {
	case ProjectNext, ProjectVite, ProjectReact:
		return true
	default:
		return false
	}
}
