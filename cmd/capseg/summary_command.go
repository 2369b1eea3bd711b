package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/capseg/nn"
)

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	var (
		showTensors bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show resolved layer shapes and parameter counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			model, err := nn.NewModel(cfg.Model, nn.WithLogger(ctx.componentLogger("summary")))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bp := model.Blueprint()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(bp)
			}

			fmt.Fprintln(out, renderTable("Layers",
				[]string{"Layer", "Type", "Output", "Parameters"},
				layerRows(bp),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))

			if showTensors {
				var rows [][]string
				for _, t := range model.Tensors() {
					rows = append(rows, []string{t.Name, shapeString(t.Shape), strconv.Itoa(len(t.Values))})
				}
				fmt.Fprintln(out, renderTable("Tensors",
					[]string{"Name", "Shape", "Values"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight}))
			}

			fmt.Fprintf(out, "Routing iterations: %d\n", bp.RoutingIters)
			fmt.Fprintf(out, "Conv capsule vote buffer: %d values\n", bp.VoteBuffer)
			fmt.Fprintf(out, "Total parameters: %d\n", bp.TotalParams)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTensors, "tensors", false, "List every weight tensor")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the layer blueprint as JSON")
	return cmd
}

func layerRows(bp nn.ModelTelemetry) [][]string {
	rows := make([][]string, 0, len(bp.Layers))
	for _, l := range bp.Layers {
		name := l.Name
		if l.Type == "conv_transpose2d" {
			name = fmt.Sprintf("%s (%s)", l.Name, l.Detail)
		}
		rows = append(rows, []string{name, l.Type, shapeString(l.OutputShape), strconv.Itoa(l.Parameters)})
	}
	return rows
}

func shapeString(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
