// Package main provides forgectl, the operator CLI for audiobook-forge caches,
// presets and offline chapter assembly.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maauso/audiobook-forge/internal/config"
)

// app carries what every command needs. Tests swap loadConfig.
type app struct {
	loadConfig func() (*config.Config, error)
	logger     *slog.Logger
}

func (a *app) config() (*config.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if a.logger == nil {
		a.logger = cfg.NewLogger()
	}
	return cfg, nil
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "forgectl",
		Short:         "Inspect caches, presets and assemble chapters offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newCacheCommand(a),
		newPresetsCommand(a),
		newArgsCommand(a),
		newAssembleCommand(a),
	)
	return cmd
}

func main() {
	a := &app{loadConfig: config.LoadLocal}
	if err := newRootCommand(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
