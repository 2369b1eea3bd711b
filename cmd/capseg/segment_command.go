package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfluke/capseg/dataset"
	"github.com/openfluke/capseg/nn"
)

type segmentFlags struct {
	dbPath       string
	weights      string
	limit        int
	gpu          bool
	routingStats bool
	noiseLow     int
	noiseHigh    int
	seed         int64
}

func newSegmentCommand(ctx *commandContext) *cobra.Command {
	var flags segmentFlags

	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Segment stored records and report losses, accuracy and Dice",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if flags.dbPath == "" {
				flags.dbPath = cfg.Runtime.Dataset
			}
			weights := flags.weights
			if weights == "" {
				weights = cfg.Runtime.Weights
			}
			logger := ctx.componentLogger("segment")

			var recorder *nn.RoutingRecorder
			opts := modelOptions{
				gpu:      flags.gpu || cfg.Runtime.GPU,
				weights:  weights,
				required: flags.weights != "",
			}
			if flags.routingStats {
				recorder = nn.NewRoutingRecorder()
				opts.observer = recorder
			}
			model, release, err := buildModel(cfg, logger, opts)
			if err != nil {
				return err
			}
			defer release()

			store, err := dataset.Open(cmd.Context(), flags.dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			var noise *rand.Rand
			if flags.noiseHigh > flags.noiseLow {
				noise = rand.New(rand.NewSource(flags.seed))
			}

			assembler := nn.NewLossAssembler(cfg.LossOptions())
			batchSize := cfg.Model.BatchSize
			lossSums := make(map[string]float64)
			var (
				scores  []nn.ImageScore
				batches int
				skipped int
			)
			start := time.Now()

			for offset := 0; flags.limit <= 0 || offset < flags.limit; offset += batchSize {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				records, err := store.List(cmd.Context(), offset, batchSize)
				if err != nil {
					return err
				}
				if flags.limit > 0 && offset+len(records) > flags.limit {
					records = records[:flags.limit-offset]
				}
				if len(records) < batchSize {
					skipped = len(records)
					break
				}
				if noise != nil {
					for i := range records {
						if records[i].Image, err = nn.AddNoise(records[i].Image, flags.noiseLow, flags.noiseHigh, noise); err != nil {
							return err
						}
					}
				}

				images, labels, err := dataset.DecodeBatch(records, cfg.Model)
				if err != nil {
					return err
				}
				output, err := model.Forward(images)
				if err != nil {
					return fmt.Errorf("forward batch at record %d: %w", offset, err)
				}
				losses, err := assembler.Assemble(nn.LossInputs{Images: images, Labels: labels, Output: output})
				if err != nil {
					return fmt.Errorf("losses for batch at record %d: %w", offset, err)
				}
				batchScores, err := nn.EvaluateBatch(labels, output.Logits.Argmax())
				if err != nil {
					return err
				}

				for _, name := range losses.Names() {
					lossSums[name] += float64(losses[name])
				}
				scores = append(scores, batchScores...)
				batches++
				logger.Debug("batch segmented",
					slog.Int("offset", offset),
					slog.Float64("total_loss", float64(losses.Total())))
			}

			if batches == 0 {
				return fmt.Errorf("no complete batch of %d records in %s", batchSize, flags.dbPath)
			}
			if skipped > 0 {
				logger.Info("trailing records do not fill a batch and were skipped", slog.Int("records", skipped))
			}
			logger.Info("segmentation complete",
				slog.Int("batches", batches),
				slog.Int("images", len(scores)),
				slog.Duration("elapsed", time.Since(start)))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Segmented %d images in %d batches\n", len(scores), batches)
			fmt.Fprintln(out, renderTable("Losses (batch mean)", []string{"Term", "Value"},
				lossRows(lossSums, batches), []columnAlignment{alignLeft, alignRight}))
			fmt.Fprintln(out, renderTable("Scores", []string{"Metric", "Mean", "Std"},
				scoreRows(nn.Summarize(scores)), []columnAlignment{alignLeft, alignRight, alignRight}))
			if recorder != nil {
				fmt.Fprintln(out, renderTable("Routing", []string{"Layer", "Iter", "Rows", "Max row error", "Min c", "Max c"},
					routingRows(recorder.Stats()),
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.dbPath, "db", "", "Dataset database (default runtime.dataset)")
	cmd.Flags().StringVarP(&flags.weights, "weights", "w", "", "Weights file; must exist when given (default runtime.weights if present)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Maximum number of records (0 = all)")
	cmd.Flags().BoolVar(&flags.gpu, "gpu", false, "Run scalar convolutions on WebGPU")
	cmd.Flags().BoolVar(&flags.routingStats, "routing-stats", false, "Report coupling coefficient statistics")
	cmd.Flags().IntVar(&flags.noiseLow, "noise-low", 0, "Lower bound of uniform pixel noise")
	cmd.Flags().IntVar(&flags.noiseHigh, "noise-high", 0, "Upper bound (exclusive) of uniform pixel noise; 0 disables noise")
	cmd.Flags().Int64Var(&flags.seed, "seed", 1, "Seed for noise injection")
	return cmd
}

func lossRows(sums map[string]float64, batches int) [][]string {
	names := make([]string, 0, len(sums))
	for n := range sums {
		names = append(names, n)
	}
	sort.Strings(names)
	var rows [][]string
	var total float64
	for _, n := range names {
		mean := sums[n] / float64(batches)
		total += mean
		rows = append(rows, []string{n, formatFloat(mean)})
	}
	return append(rows, []string{"total", formatFloat(total)})
}

func scoreRows(s nn.ScoreSummary) [][]string {
	return [][]string{
		{"images", strconv.Itoa(s.Images), ""},
		{"pixel accuracy", formatFloat(s.Accuracy), formatFloat(s.AccuracyStd)},
		{"dice", formatFloat(s.Dice), formatFloat(s.DiceStd)},
		{"foreground dice", formatFloat(s.ForegroundDice), ""},
	}
}

func routingRows(stats []nn.RoutingStats) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Layer,
			strconv.Itoa(s.Iteration),
			strconv.Itoa(s.Rows),
			strconv.FormatFloat(s.MaxRowError, 'e', 2, 64),
			formatFloat(float64(s.MinCoupling)),
			formatFloat(float64(s.MaxCoupling)),
		})
	}
	return rows
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0"), ".")
}
