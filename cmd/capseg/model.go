package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/openfluke/capseg/config"
	"github.com/openfluke/capseg/gpu"
	"github.com/openfluke/capseg/nn"
)

type modelOptions struct {
	gpu      bool
	weights  string
	required bool // fail when the weights file is missing
	observer nn.RoutingObserver
}

// buildModel constructs the configured model and loads weights when a file
// exists. The returned release func frees GPU resources.
func buildModel(cfg *config.Config, logger *slog.Logger, opts modelOptions) (*nn.Model, func(), error) {
	release := func() {}
	modelOpts := []nn.Option{nn.WithLogger(logger)}
	if opts.observer != nil {
		modelOpts = append(modelOpts, nn.WithRoutingObserver(opts.observer))
	}
	if opts.gpu {
		backend, err := gpu.NewConv2DBackend(logger)
		if err != nil {
			return nil, release, fmt.Errorf("initialize gpu backend: %w", err)
		}
		release = backend.Release
		modelOpts = append(modelOpts, nn.WithConvBackend(backend))
	}

	model, err := nn.NewModel(cfg.Model, modelOpts...)
	if err != nil {
		release()
		return nil, func() {}, err
	}

	if opts.weights == "" {
		return model, release, nil
	}
	if _, err := os.Stat(opts.weights); errors.Is(err, fs.ErrNotExist) {
		if opts.required {
			release()
			return nil, func() {}, fmt.Errorf("weights file %s not found", opts.weights)
		}
		logger.Warn("weights file not found, using initialized weights",
			slog.String("weights", opts.weights),
			slog.Int64("seed", cfg.Model.Seed))
		return model, release, nil
	}
	if err := model.LoadWeights(opts.weights); err != nil {
		release()
		return nil, func() {}, fmt.Errorf("load weights: %w", err)
	}
	logger.Info("weights loaded", slog.String("weights", opts.weights), slog.String("model_id", model.ID))
	return model, release, nil
}
