package main

import (
	"fmt"
	"io"

	"github.com/david/govcapture/internal/autonomy"
	"github.com/spf13/cobra"
)

func newAutonomyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autonomy",
		Short: "Show or change the autonomy policy",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the policy currently in force",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			printSnapshot(cmd.OutOrStdout(), a.Autonomy.Current())
			return nil
		},
	})
	cmd.AddCommand(newAutonomySetCmd())
	return cmd
}

func newAutonomySetCmd() *cobra.Command {
	var mode string
	var fit, auto int
	var maxValue float64
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the policy; unset flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Autonomy.Current().Config
			flags := cmd.Flags()
			if flags.Changed("mode") {
				cfg.Mode = autonomy.Mode(mode)
			}
			if flags.Changed("fit-threshold") {
				cfg.FitThreshold = fit
			}
			if flags.Changed("auto-threshold") {
				cfg.AutoThreshold = auto
			}
			if flags.Changed("max-auto-value") {
				cfg.MaxAutoValue = maxValue
			}
			snap, err := a.Autonomy.Update(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "manual, supervised or autonomous")
	cmd.Flags().IntVar(&fit, "fit-threshold", 0, "Minimum fit score to draft")
	cmd.Flags().IntVar(&auto, "auto-threshold", 0, "Minimum fit score for autonomous generation")
	cmd.Flags().Float64Var(&maxValue, "max-auto-value", 0, "Largest estimated value generated without a human")
	return cmd
}

func printSnapshot(w io.Writer, s autonomy.Snapshot) {
	_, _ = fmt.Fprintf(w, "version %d (updated %s)\n", s.Version, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(w, "  mode:           %s\n", s.Config.Mode)
	_, _ = fmt.Fprintf(w, "  fit_threshold:  %d\n", s.Config.FitThreshold)
	_, _ = fmt.Fprintf(w, "  auto_threshold: %d\n", s.Config.AutoThreshold)
	_, _ = fmt.Fprintf(w, "  max_auto_value: %.0f\n", s.Config.MaxAutoValue)
}
