package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/audiobook-forge/internal/bootstrap"
	"github.com/maauso/audiobook-forge/internal/dsp"
)

func newPresetsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "presets",
		Short:   "List the processing presets",
		Example: "forgectl presets --json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			presets, err := bootstrap.LoadPresets(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(presets.All())
			}
			for _, name := range presets.Names() {
				marker := " "
				if name == cfg.DefaultPreset {
					marker = "*"
				}
				_, _ = fmt.Fprintf(out, "%s %s\n", marker, name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print every chain as JSON")
	return cmd
}

func newArgsCommand(a *app) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:     "args <preset>",
		Short:   "Print the processing tool arguments a preset renders to",
		Example: "forgectl args audiobook --in take.wav --out take.processed.wav",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			presets, err := bootstrap.LoadPresets(cfg)
			if err != nil {
				return err
			}
			chain, err := presets.Get(args[0])
			if err != nil {
				return err
			}
			argv := dsp.BuildArgs(in, out, chain, dsp.Format{SampleRate: cfg.OutputSampleRate, Channels: cfg.OutputChannels})
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cfg.DSPToolName+" "+strings.Join(argv, " "))
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "input.wav", "input waveform")
	cmd.Flags().StringVar(&out, "out", "output.wav", "output waveform")
	return cmd
}
