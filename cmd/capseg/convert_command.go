package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/capseg/dataset"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var (
		srcDir string
		dbPath string
		digits []int
		seed   int64
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Frame a digit archive (DIR/<digit>/*.png) into dataset records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(srcDir) == "" {
				return fmt.Errorf("--src is required")
			}
			if dbPath == "" {
				dbPath = cfg.Runtime.Dataset
			}

			store, err := dataset.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			conv := &dataset.Converter{
				Store:   store,
				Height:  cfg.Model.ImageHeight,
				Width:   cfg.Model.ImageWidth,
				Digits:  digits,
				Seed:    seed,
				Workers: cfg.Runtime.Workers,
				Logger:  ctx.componentLogger("convert"),
			}
			res, err := conv.Convert(cmd.Context(), srcDir)
			if err != nil {
				return err
			}

			keys := make([]int, 0, len(res.Counts))
			for d := range res.Counts {
				keys = append(keys, d)
			}
			sort.Ints(keys)
			rows := make([][]string, 0, len(keys))
			for _, d := range keys {
				class, _ := dataset.ClassOf(conv.Digits, d)
				rows = append(rows, []string{strconv.Itoa(d), strconv.Itoa(int(class)), strconv.Itoa(res.Counts[d])})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable("Records", []string{"Digit", "Class", "Stored"}, rows,
				[]columnAlignment{alignRight, alignRight, alignRight}))
			fmt.Fprintf(out, "Skipped %d images, %d already stored\n", res.Skipped, res.Duplicates)
			return nil
		},
	}

	cmd.Flags().StringVar(&srcDir, "src", "", "Archive root containing one directory per digit")
	cmd.Flags().StringVar(&dbPath, "db", "", "Dataset database (default runtime.dataset)")
	cmd.Flags().IntSliceVar(&digits, "digits", dataset.DefaultDigits, "Digits to convert; position+1 is the label class")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed for digit placement")
	return cmd
}
