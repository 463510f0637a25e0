// Package app provides the shared entry point for the twm binary.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tokenwindow/twm/internal/config"
	"github.com/tokenwindow/twm/internal/core"
	"github.com/tokenwindow/twm/internal/diag"
	"github.com/tokenwindow/twm/internal/observability"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the configuration file. If empty,
	// ResolveConfigPath is called.
	ConfigPath string

	// Version is injected at build time via ldflags.
	Version string

	// DataDir overrides the default runtime data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. A configuration error here is fatal by design: the
// process must not run with a degraded window pipeline.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	}))

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	hub := diag.NewHub()
	if err := hub.OpenFileSink(filepath.Join(dataDir, "logs", "twp.txt")); err != nil {
		return err
	}

	shutdownTracing, err := observability.Setup(context.Background(),
		cfg.Observability.OTLPEndpoint, params.Version, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx.RegisterService("diag.hub", hub)

	application, err := wire(appCtx, cfg, hub, logger)
	if err != nil {
		return err
	}

	return application.Run()
}

// ResolveConfigPath searches for the config file in standard locations:
// ./data/config/token-window.json, then $XDG_CONFIG_HOME/twm/token-window.json,
// then ~/.config/twm/token-window.json.
func ResolveConfigPath() (string, error) {
	candidates := []string{filepath.Join("data", "config", "token-window.json")}

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "twm", "token-window.json"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "twm", "token-window.json"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the runtime data directory, ./data by convention:
// offload files, the diagnostic log, and the offload index all live under
// the working directory of the embedding host.
func DefaultDataDir() string {
	return "data"
}
