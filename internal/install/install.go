// Package install decides whether a workspace needs a dependency install,
// runs it, and persists a post-install snapshot for the next session.
package install

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"pkt.systems/pslog"
	"pkt.systems/sandview/internal/logx"
	"pkt.systems/sandview/internal/metrics"
	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/internal/snapshot"
	"pkt.systems/sandview/schema"
)

// depsDir is where every supported manager materializes dependencies.
const depsDir = "node_modules"

// errorTailLines bounds the output carried into an install error.
const errorTailLines = 25

// Decision names the installer's choice for one request.
type Decision string

const (
	DecisionNoop      Decision = "noop"
	DecisionSkip      Decision = "skip"
	DecisionInstall   Decision = "install"
	DecisionReinstall Decision = "reinstall"
	DecisionShared    Decision = "shared"
)

// Outcome reports what the installer did for one request.
type Outcome struct {
	Decision Decision
	Fallback bool
	Hash     string
}

// Config carries installer tuning.
type Config struct {
	Timeout  time.Duration
	CacheDir string
}

// state is the per-workspace dependency state the decision table consults.
type state struct {
	hash      string
	installed bool
}

// Installer runs dependency installs with per-workspace single-flight.
type Installer struct {
	store *snapshot.Store
	cfg   Config
	log   pslog.Logger

	group singleflight.Group

	mu    sync.Mutex
	known map[schema.WorkspaceID]state
}

// New constructs an installer backed by the given snapshot store.
func New(store *snapshot.Store, cfg Config, logger pslog.Logger) *Installer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = schema.DefaultInstallTimeout
	}
	return &Installer{
		store: store,
		cfg:   cfg,
		log:   logger,
		known: make(map[schema.WorkspaceID]state),
	}
}

// SeedRestored records that a snapshot restore already materialized
// dependencies for this hash, so an unchanged manifest skips install.
func (in *Installer) SeedRestored(workspaceID schema.WorkspaceID, hash string) {
	in.mu.Lock()
	in.known[workspaceID] = state{hash: hash, installed: true}
	in.mu.Unlock()
}

// Forget drops the dependency state for a workspace, forcing the next
// request through the full decision table.
func (in *Installer) Forget(workspaceID schema.WorkspaceID) {
	in.mu.Lock()
	delete(in.known, workspaceID)
	in.mu.Unlock()
}

// EnsureDependencies applies the decision table and installs when needed.
// Concurrent calls for the same workspace share one install.
func (in *Installer) EnsureDependencies(ctx context.Context, workspaceID schema.WorkspaceID, env sandbox.Env, manager schema.PackageManager) (Outcome, error) {
	hash, ok, err := in.fingerprint(ctx, env, manager)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		metrics.RecordInstallDecision(string(DecisionNoop))
		return Outcome{Decision: DecisionNoop}, nil
	}

	// Only the single-flight leader executes its closure; followers that
	// joined the same flight awaited the leader's outcome.
	leader := false
	result, err, _ := in.group.Do(string(workspaceID), func() (any, error) {
		leader = true
		return in.ensureLocked(ctx, workspaceID, env, manager, hash)
	})
	if err != nil {
		return Outcome{}, err
	}
	outcome := result.(Outcome)
	if !leader {
		outcome.Decision = DecisionShared
		metrics.RecordInstallDecision(string(DecisionShared))
	}
	return outcome, nil
}

// ensureLocked runs inside the single-flight slot for one workspace.
func (in *Installer) ensureLocked(ctx context.Context, workspaceID schema.WorkspaceID, env sandbox.Env, manager schema.PackageManager, hash string) (Outcome, error) {
	depsPresent, err := env.Exists(ctx, depsDir)
	if err != nil {
		return Outcome{}, err
	}
	in.mu.Lock()
	st := in.known[workspaceID]
	in.mu.Unlock()

	decision := DecisionInstall
	switch {
	case st.installed && st.hash == hash && depsPresent:
		metrics.RecordInstallDecision(string(DecisionSkip))
		return Outcome{Decision: DecisionSkip, Hash: hash}, nil
	case st.installed && st.hash != hash:
		decision = DecisionReinstall
	}

	log := logx.Ctx(ctx)
	log.Info("installing dependencies", "manager", manager, "decision", decision)
	start := time.Now()
	fallback, err := in.run(ctx, env, manager)
	if err != nil {
		metrics.RecordInstallDecision(string(decision))
		return Outcome{}, err
	}
	metrics.RecordInstallDecision(string(decision))
	metrics.RecordInstallDuration(time.Since(start))
	if fallback {
		metrics.RecordInstallFallback()
		log.Warn("strict install failed, permissive install succeeded", "manager", manager)
	}

	in.mu.Lock()
	in.known[workspaceID] = state{hash: hash, installed: true}
	in.mu.Unlock()

	if err := in.persist(ctx, workspaceID, env, manager, hash); err != nil {
		// The install itself succeeded; a failed snapshot only costs the
		// next session a reinstall.
		log.Warn("snapshot persist failed", "err", err)
	}
	log.Info("dependencies installed", "manager", manager, "duration", time.Since(start).Round(time.Millisecond), "fallback", fallback)
	return Outcome{Decision: decision, Fallback: fallback, Hash: hash}, nil
}

// fingerprint reads the manifest and lockfile and returns the dependency
// hash. ok is false when the workspace has no manifest.
func (in *Installer) fingerprint(ctx context.Context, env sandbox.Env, manager schema.PackageManager) (string, bool, error) {
	exists, err := env.Exists(ctx, schema.ManifestFile)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}
	manifestData, err := env.ReadFile(ctx, schema.ManifestFile)
	if err != nil {
		return "", false, err
	}
	if _, err := schema.ParseManifest(manifestData); err != nil {
		return "", false, err
	}
	var lockData []byte
	if lockName := schema.Lockfiles[manager]; lockName != "" {
		if ok, err := env.Exists(ctx, lockName); err == nil && ok {
			lockData, _ = env.ReadFile(ctx, lockName)
		}
	}
	return ManifestHash(manifestData, lockData), true, nil
}

// run executes the install process, strict first when a lockfile allows it,
// then one permissive retry. Returns whether the fallback path was taken.
func (in *Installer) run(ctx context.Context, env sandbox.Env, manager schema.PackageManager) (bool, error) {
	strict, err := in.hasLockfile(ctx, env, manager)
	if err != nil {
		return false, err
	}
	if strict {
		if err := in.runOnce(ctx, env, manager, true); err == nil {
			return false, nil
		} else if ctx.Err() != nil {
			return false, err
		}
		if err := in.runOnce(ctx, env, manager, false); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, in.runOnce(ctx, env, manager, false)
}

func (in *Installer) hasLockfile(ctx context.Context, env sandbox.Env, manager schema.PackageManager) (bool, error) {
	lockName := schema.Lockfiles[manager]
	if lockName == "" {
		return false, nil
	}
	return env.Exists(ctx, lockName)
}

func (in *Installer) runOnce(ctx context.Context, env sandbox.Env, manager schema.PackageManager, strict bool) error {
	ctx, cancel := context.WithTimeout(ctx, in.cfg.Timeout)
	defer cancel()

	args := installArgs(manager, strict)
	proc, err := env.Spawn(ctx, sandbox.ProcSpec{
		Command: string(manager),
		Args:    args,
		Dir:     ".",
		Env:     installEnv(in.cfg.CacheDir),
	})
	if err != nil {
		return fmt.Errorf("spawn %s %s: %w", manager, strings.Join(args, " "), err)
	}
	defer proc.Close()

	tail := drainTail(proc.Output(), errorTailLines)
	res, err := proc.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s install: %w", manager, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s install exited %d: %s", manager, res.ExitCode, strings.Join(<-tail, "\n"))
	}
	<-tail
	return nil
}

// drainTail consumes output and returns a channel delivering the final
// lines once the stream closes.
func drainTail(output <-chan sandbox.OutputChunk, n int) <-chan []string {
	done := make(chan []string, 1)
	go func() {
		var lines []string
		for chunk := range output {
			lines = append(lines, chunk.Text)
			if len(lines) > n {
				lines = lines[len(lines)-n:]
			}
		}
		done <- lines
	}()
	return done
}

func (in *Installer) persist(ctx context.Context, workspaceID schema.WorkspaceID, env sandbox.Env, manager schema.PackageManager, hash string) error {
	files, err := snapshot.Capture(ctx, env)
	if err != nil {
		return err
	}
	return in.store.Save(snapshot.Record{
		WorkspaceID:    workspaceID,
		Files:          files,
		DependencyHash: hash,
		Manager:        manager,
		UpdatedAt:      time.Now().UTC(),
	})
}

// installArgs picks the install invocation for a manager. Strict mode is
// lockfile-reproducible; permissive mode lets the resolver float.
func installArgs(manager schema.PackageManager, strict bool) []string {
	switch manager {
	case schema.ManagerNpm:
		if strict {
			return []string{"ci", "--no-audit", "--no-fund"}
		}
		return []string{"install", "--no-audit", "--no-fund"}
	case schema.ManagerPnpm:
		if strict {
			return []string{"install", "--frozen-lockfile"}
		}
		return []string{"install"}
	case schema.ManagerYarn:
		if strict {
			return []string{"install", "--frozen-lockfile", "--non-interactive"}
		}
		return []string{"install", "--non-interactive"}
	case schema.ManagerBun:
		if strict {
			return []string{"install", "--frozen-lockfile"}
		}
		return []string{"install"}
	}
	return []string{"install"}
}

// installEnv silences telemetry, progress and audit noise, and pins the
// package manager cache to a reused directory.
func installEnv(cacheDir string) map[string]string {
	env := map[string]string{
		"NO_UPDATE_NOTIFIER":         "1",
		"NPM_CONFIG_UPDATE_NOTIFIER": "false",
		"NPM_CONFIG_FUND":            "false",
		"NPM_CONFIG_AUDIT":           "false",
		"NPM_CONFIG_PROGRESS":        "false",
		"NPM_CONFIG_LOGLEVEL":        "error",
		"NEXT_TELEMETRY_DISABLED":    "1",
		"ADBLOCK":                    "1",
		"DISABLE_OPENCOLLECTIVE":     "1",
	}
	if cacheDir != "" {
		env["NPM_CONFIG_CACHE"] = cacheDir
		env["YARN_CACHE_FOLDER"] = cacheDir
		env["XDG_CACHE_HOME"] = cacheDir
	}
	return env
}
