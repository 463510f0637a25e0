package main

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/tokenwindow/twm/pkg/app"
)

// program adapts app.Run to the system service interface.
type program struct {
	cfgPath string
	errs    chan error
}

// Start implements service.Interface. Service managers expect Start to
// return promptly, so the application runs in the background.
func (p *program) Start(service.Service) error {
	go func() {
		p.errs <- app.Run(app.RunParams{ConfigPath: p.cfgPath, Version: version})
	}()
	return nil
}

// Stop implements service.Interface. The application shuts down on the
// process signals the service manager sends; nothing more to do here.
func (p *program) Stop(service.Service) error {
	return nil
}

func serviceCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:       "service [install|uninstall|run]",
		Short:     "Run twm under the system service manager",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			svcConfig := &service.Config{
				Name:        "twm",
				DisplayName: "Token Window Manager",
				Description: "Rewrites LLM conversation windows for token budgets and prefix-cache reuse.",
				Arguments:   []string{"service", "run"},
			}
			if cfgPath != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfgPath)
			}

			prg := &program{cfgPath: cfgPath, errs: make(chan error, 1)}
			svc, err := service.New(prg, svcConfig)
			if err != nil {
				return err
			}

			switch args[0] {
			case "install":
				if err := svc.Install(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "service installed")
				return nil
			case "uninstall":
				if err := svc.Uninstall(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "service uninstalled")
				return nil
			case "run":
				return svc.Run()
			default:
				return fmt.Errorf("unknown service action %q", args[0])
			}
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to token-window.json")
	return cmd
}
