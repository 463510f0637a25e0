package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tokenwindow/twm/internal/config"
	"github.com/tokenwindow/twm/pkg/app"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or bootstrap the configuration",
	}
	cmd.AddCommand(configValidateCmd(), configInitCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate token-window.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (window %d tokens, JIT threshold %d%%)\n",
				path, cfg.MaxWindowSize, cfg.JITInstruction.Threshold)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to token-window.json")
	return cmd
}

// defaultJITPrompt seeds the prompt files written by config init. The real
// instructions are meant to be edited in place; changes take effect on the
// next turn.
const defaultJITPrompt = `Your conversation window is nearly full. Review the message map below and
call recache_message_array({"messages": "<positions>"}) to keep only the
messages that still matter. Use ranges for contiguous spans, e.g. "1-4,25,30".
`

func configInitCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create data/config/token-window.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			windowSize := strconv.Itoa(config.DefaultMaxWindowSize)
			threshold := strconv.Itoa(config.DefaultJITThreshold)
			bind := "127.0.0.1:8731"
			enableGateway := true
			enableOffload := true

			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("Context window size (tokens)").
					Value(&windowSize).
					Validate(validateInt),
				huh.NewInput().
					Title("JIT injection threshold (%)").
					Value(&threshold).
					Validate(validateInt),
				huh.NewConfirm().
					Title("Enable the HTTP gateway?").
					Value(&enableGateway),
				huh.NewInput().
					Title("Gateway bind address").
					Value(&bind),
				huh.NewConfirm().
					Title("Enable oversize offloading?").
					Value(&enableOffload),
			))
			if err := form.Run(); err != nil {
				return err
			}

			maxWindow, _ := strconv.Atoi(windowSize)
			jitThreshold, _ := strconv.Atoi(threshold)

			cfg := (&config.Config{
				MaxWindowSize: maxWindow,
				JITInstruction: config.JITConfig{
					Threshold: jitThreshold,
					WindowUsagePattern: config.UsagePattern{
						DetectionText:   "tokens used",
						SearchRegex:     `\(\d+%\)`,
						ReplaceTemplate: "({percentage}%)",
					},
				},
				OversizedMessageHandling: config.OversizeConfig{Enabled: enableOffload},
				PlaceholderMessages:     config.PlaceholderConfig{Enabled: true},
			}).WithDefaults()
			if enableGateway {
				cfg.Gateway.Bind = bind
			}

			return writeConfig(cmd, outDir, cfg)
		},
	}
	cmd.Flags().StringVar(&outDir, "dir", "data/config", "output directory")
	return cmd
}

// writeConfig writes token-window.json and seeds the prompt files.
func writeConfig(cmd *cobra.Command, dir string, cfg config.Config) error {
	promptDir := filepath.Join(dir, "prompts")
	if err := os.MkdirAll(promptDir, 0o755); err != nil {
		return err
	}

	for _, name := range []string{"twp.txt", "twp_bak.txt"} {
		path := filepath.Join(promptDir, name)
		if _, err := os.Stat(path); err == nil {
			continue // never clobber an edited prompt
		}
		if err := os.WriteFile(path, []byte(defaultJITPrompt), 0o644); err != nil {
			return err
		}
	}
	cfg.JITInstruction.PromptFile = filepath.Join(promptDir, "twp.txt")
	cfg.JITInstruction.InternalPromptFile = filepath.Join(promptDir, "twp_bak.txt")

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "token-window.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func validateInt(s string) error {
	if _, err := strconv.Atoi(s); err != nil {
		return fmt.Errorf("%q is not a number", s)
	}
	return nil
}
