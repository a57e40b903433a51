// cmd/scenariod/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nodalink/scenariod/internal/api"
	"github.com/nodalink/scenariod/internal/background"
	"github.com/nodalink/scenariod/internal/clock"
	"github.com/nodalink/scenariod/internal/dispatcher"
	"github.com/nodalink/scenariod/internal/engine"
	"github.com/nodalink/scenariod/internal/ingress"
	"github.com/nodalink/scenariod/internal/logging"
	"github.com/nodalink/scenariod/internal/mcpserver"
	"github.com/nodalink/scenariod/internal/model"
	"github.com/nodalink/scenariod/internal/security"
	"github.com/nodalink/scenariod/internal/sharedstore"
	"github.com/nodalink/scenariod/internal/store"
)

const (
	defaultScenarioFile = "/config/scenariod/scenarios.json"
	defaultConfigFile   = "/config/scenariod/config.json"
	defaultLogFile      = "/config/scenariod/logs/unmatched_scenarios.log"
	defaultHTTPAddr     = ":8002"
	defaultMCPAddr      = ":8003"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "mcp-server" {
		runMCPServer()
		return
	}

	scenarioPath := envOr("SCENARIO_FILE", defaultScenarioFile)
	configPath := envOr("CONFIG_FILE", defaultConfigFile)
	logPath := envOr("LOG_FILE", defaultLogFile)
	corsRaw := os.Getenv("CORS_ORIGINS")

	logger := logging.NewLogger("json", envOr("LOG_LEVEL", "info"), os.Stdout)
	slog.SetDefault(logger)

	if err := security.ValidateDirectoryPermissions(filepath.Dir(scenarioPath)); err != nil {
		logger.Error("CRITICAL: scenario directory has unsafe permissions", "error", err)
	}

	rules, warnings, err := store.LoadScenarios(scenarioPath)
	if err != nil {
		logger.Warn("failed to load scenarios at startup, starting empty", "error", err)
		rules = map[string]model.Rule{}
	}
	for _, w := range warnings {
		logger.Warn("scenario load warning", "warning", w)
	}

	cfg, cfgWarnings, err := store.LoadConfig(configPath)
	if err != nil {
		logger.Error("CRITICAL: config failed to parse at startup", "error", err)
		os.Exit(1)
	}
	for _, w := range cfgWarnings {
		logger.Warn("config load warning", "warning", w)
	}

	clk := clock.Real{}
	st := sharedstore.New(clk, scenarioPath, configPath, logPath)
	st.SetRules(rules)
	st.SetConfig(cfg)

	bridge := &loggingOnlyBridge{logger: logger}
	disp := dispatcher.New(bridge, logger, cfg.SystemSettings.AllowedDomains, cfg.SystemSettings.TestMode)
	normalizer := ingress.NewNormalizer(logger, cfg.RoomMappings)
	eng := engine.New(st, normalizer, disp, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiServer := api.New(st, logger, scenarioPath, configPath, api.ParseCORSOrigins(corsRaw))
	apiServer.SetReloadHook(st.ReloadFromDisk)

	scheduler := background.NewScheduler(logger)
	scheduler.RegisterKeepaliveSweep(func() { st.SetEngineStatus(sharedstore.StatusPatch{}) })
	scheduler.RegisterRingTrim(func() {})
	if cfg.SystemSettings.AutoReloadConfig {
		scheduler.RegisterAutoReload(st)
	}

	watcher, err := background.NewWatcher(logger, scenarioPath, configPath)
	if err != nil {
		logger.Error("failed to start file watcher, hot reload disabled", "error", err)
	}

	httpServer := &http.Server{Addr: envOr("HTTP_ADDR", defaultHTTPAddr), Handler: apiServer.Handler()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	go eng.Run(ctx)
	go scheduler.Run(ctx)
	if watcher != nil {
		go watcher.Run(ctx, func() {
			if err := st.ReloadFromDisk(); err != nil {
				logger.Warn("file-triggered reload failed", "error", err)
			}
		})
	}

	go func() {
		logger.Info("starting control-plane HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("CRITICAL: cannot bind HTTP port", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("scenariod stopped")
}

func runMCPServer() {
	scenarioPath := envOr("SCENARIO_FILE", defaultScenarioFile)
	configPath := envOr("CONFIG_FILE", defaultConfigFile)
	logPath := envOr("LOG_FILE", defaultLogFile)

	rules, _, _ := store.LoadScenarios(scenarioPath)
	cfg, _, _ := store.LoadConfig(configPath)

	st := sharedstore.New(clock.Real{}, scenarioPath, configPath, logPath)
	st.SetRules(rules)
	st.SetConfig(cfg)

	srv := mcpserver.NewServer(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; cancel() }()

	if len(os.Args) > 2 && os.Args[2] == "--http" {
		addr := envOr("MCP_ADDR", defaultMCPAddr)
		fmt.Fprintf(os.Stderr, "MCP HTTP server listening on %s\n", addr)
		if err := srv.RunHTTP(ctx, addr); err != nil {
			fmt.Fprintf(os.Stderr, "MCP HTTP server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

// loggingOnlyBridge is the default HostBridge until production wiring to
// a real home-automation host is supplied (spec §1: "production wiring
// is out of scope"); it logs every call it would have made.
type loggingOnlyBridge struct {
	logger *slog.Logger
}

func (b *loggingOnlyBridge) CallService(ctx context.Context, service, entityID string, data map[string]any) error {
	b.logger.Info("host call (no bridge configured)", "service", service, "entity_id", entityID, "data", data)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
