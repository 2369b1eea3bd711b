package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/capseg/nn"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	var outPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize model weights and save them as safetensors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(outPath)
			if target == "" {
				target = cfg.Runtime.Weights
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("weights file already exists at %s (use --overwrite to replace it)", target)
				}
			}

			logger := ctx.componentLogger("init")
			model, err := nn.NewModel(cfg.Model, nn.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := model.SaveWeights(target); err != nil {
				return err
			}
			logger.Info("weights saved",
				slog.String("weights", target),
				slog.String("model_id", model.ID),
				slog.Int("parameters", model.ParameterCount()))
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d parameters to %s\n", model.ParameterCount(), target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Destination weights file (default runtime.weights)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing weights file")
	return cmd
}
