package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/capseg/gpu"
)

func newDeviceCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Describe the WebGPU adapter used by --gpu",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			rep, err := gpu.Detect(ctx.componentLogger("gpu"))
			if err != nil {
				return fmt.Errorf("detect adapter: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}

			rows := [][]string{
				{"name", rep.Name},
				{"vendor", rep.Vendor},
				{"backend", rep.Backend},
				{"adapter type", rep.AdapterType},
				{"ids", rep.VendorID + "/" + rep.DeviceID},
				{"driver", rep.Driver},
				{"workgroup", strconv.Itoa(int(rep.Workgroup))},
				{"max storage binding", strconv.FormatUint(rep.Limits.MaxStorageBufferBindingSize, 10)},
				{"max buffer", strconv.FormatUint(rep.Limits.MaxBufferSize, 10)},
				{"features", strings.Join(rep.Features, ", ")},
			}
			fmt.Fprintln(out, renderTable("Adapter", []string{"Property", "Value"}, rows,
				[]columnAlignment{alignLeft, alignLeft}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
