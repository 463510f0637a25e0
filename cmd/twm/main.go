// Package main is the entry point for the twm CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokenwindow/twm/internal/config"
	"github.com/tokenwindow/twm/internal/core"
	"github.com/tokenwindow/twm/internal/manager"
	"github.com/tokenwindow/twm/internal/mcpserver"
	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "twm",
		Short:         "Token window manager for LLM conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd(), mcpCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("twm %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Println("\nNo compiled modules.")
				return
			}
			fmt.Println("\nCompiled modules:")
			for _, m := range mods {
				fmt.Printf("  %s\n", m.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	var cfgPath string
	var dataDir string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the window manager and its modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			err := app.Run(app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				DataDir:    dataDir,
				LogLevel:   level,
			})
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to token-window.json")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "runtime data directory (default ./data)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func mcpCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tokenwindow-local MCP server on stdio",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := cfgPath
			if path == "" {
				resolved, err := app.ResolveConfigPath()
				if err != nil {
					return err
				}
				path = resolved
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			// Log to stderr; stdout carries the MCP protocol.
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			mgr, err := manager.New(cfg, manager.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer mgr.Close()

			tmpl := register.NewPlaceholderTemplate(cfg.PlaceholderMessages.Template)
			return mcpserver.New(mgr, tmpl, version, logger).ServeStdio()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to token-window.json")
	return cmd
}
