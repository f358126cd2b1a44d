package core

import (
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sandview/internal/devserver"
	"pkt.systems/sandview/internal/install"
	"pkt.systems/sandview/internal/lifecycle"
	"pkt.systems/sandview/internal/preview"
)

// ServiceDeps captures the dependencies of the core service. Lifecycle and
// Installer are required; the rest default when nil. Snapshot persistence
// reaches the service through the lifecycle manager's restore hook and the
// installer, not as a direct dependency.
type ServiceDeps struct {
	Lifecycle  *lifecycle.Manager
	Installer  *install.Installer
	DevServers *devserver.Manager
	Previews   *preview.Manager
	// Registry is shared with the preview server starter; NewService
	// creates a private one when nil.
	Registry *Registry
	Logger   pslog.Logger

	// CommandTimeout bounds ordinary commands. Dev server commands use
	// the dev server manager's own safety-net timeout instead.
	CommandTimeout time.Duration
}
