package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/sandview"
	"pkt.systems/sandview/httpapi"
	"pkt.systems/sandview/internal/appconfig"
	"pkt.systems/sandview/internal/sandbox"
	"pkt.systems/sandview/internal/sandbox/hostproc"
	"pkt.systems/sandview/schema"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sandview server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			logger := loggerFor(cmd.Context(), cfg.Logging)
			cmdCtx := pslog.ContextWithLogger(cmd.Context(), logger)

			logger.Info("sandbox runtime selected", "runtime", cfg.Sandbox.Runtime, "workspace_root", cfg.WorkspaceRoot)
			rt, err := selectRuntime(cmdCtx, cfg)
			if err != nil {
				return err
			}

			serverCfg := sandview.ServerConfig{
				Service: toServiceConfig(cfg),
				HTTP:    toHTTPConfig(cfg.HTTP),
			}
			server, err := sandview.New(serverCfg, sandview.ServerDeps{
				Runtime: rt,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func selectRuntime(ctx context.Context, cfg appconfig.Config) (sandbox.Runtime, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sandbox.Runtime)) {
	case "", "host":
		return hostproc.New(ctx, hostproc.Config{
			Root:         cfg.WorkspaceRoot,
			AllowNetwork: cfg.Sandbox.AllowNetwork,
		})
	default:
		return nil, fmt.Errorf("unsupported sandbox.runtime %q (supported: host)", cfg.Sandbox.Runtime)
	}
}

// loggerFor honors LOG_LEVEL when set; the config file level applies otherwise.
func loggerFor(ctx context.Context, cfg appconfig.LoggingConfig) pslog.Logger {
	if strings.TrimSpace(os.Getenv("LOG_LEVEL")) != "" {
		return pslog.Ctx(ctx)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "", "info":
		return pslog.Ctx(ctx)
	case "trace":
		return pslog.NewWithOptions(os.Stderr, pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.TraceLevel})
	case "debug":
		return pslog.NewWithOptions(os.Stderr, pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.DebugLevel})
	case "error":
		return pslog.NewWithOptions(os.Stderr, pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.ErrorLevel})
	default:
		pslog.Ctx(ctx).Warn("unknown logging.level; using info", "level", cfg.Level)
		return pslog.Ctx(ctx)
	}
}

func toServiceConfig(cfg appconfig.Config) schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:         cfg.StateDir,
		WorkspaceRoot:    cfg.WorkspaceRoot,
		CommandTimeout:   time.Duration(cfg.Service.CommandTimeoutMinutes) * time.Minute,
		DevServerTimeout: time.Duration(cfg.Service.DevServerTimeoutHours) * time.Hour,
		InstallTimeout:   time.Duration(cfg.Service.InstallTimeoutMinutes) * time.Minute,
		DebounceQuiet:    time.Duration(cfg.Service.DebounceQuietMillis) * time.Millisecond,
		IdleTimeout:      time.Duration(cfg.Sandbox.IdleTimeoutHours) * time.Hour,
	}
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:     cfg.Addr,
		BaseURL:  cfg.BaseURL,
		BasePath: cfg.BasePath,
	}
}
