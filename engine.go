package main

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/config"
	"github.com/divyadrishti/detection-engine/detections"
	"github.com/divyadrishti/detection-engine/detectlog"
	"github.com/divyadrishti/detection-engine/lifecycle"
	"github.com/divyadrishti/detection-engine/pipeline"
	"github.com/divyadrishti/detection-engine/registry"
	"github.com/divyadrishti/detection-engine/telemetry"
)

// engine is the explicitly constructed set of components behind one process.
type engine struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	manager *lifecycle.Manager
	detlog  *detectlog.Logger
	monitor *telemetry.Monitor
	driver  *Driver
	closers []func() error
}

func newEngine(cfg *config.Config, backend detections.Backend, logger *zap.SugaredLogger) (*engine, error) {
	reg, err := registry.New(cfg.DefaultModel, cfg.Models...)
	if err != nil {
		return nil, err
	}

	manager := lifecycle.NewManager(reg, backend, lifecycle.Options{
		ModelDir:  cfg.ModelsDir,
		Device:    cfg.Device,
		EnableGPU: cfg.EnableGPU,
		Logger:    logger.Named("lifecycle"),
	})

	detlog, err := detectlog.New(detectlog.Options{
		Enabled:    cfg.Logging.Enabled,
		Dir:        cfg.Logging.Dir,
		MaxEntries: cfg.Logging.MaxEntries,
		Mode:       cfg.Detection.Mode,
		Logger:     logger.Named("detectlog"),
	})
	if err != nil {
		return nil, err
	}

	monitor := telemetry.NewMonitor(telemetry.Options{
		Interval:    cfg.Performance.Interval,
		History:     cfg.Performance.History,
		Dir:         cfg.Logging.Dir,
		Accelerator: telemetry.DetectAccelerator(),
		Logger:      logger.Named("telemetry"),
	})

	params := pipeline.Params{
		Confidence:    cfg.Detection.Confidence,
		IoU:           cfg.Detection.IoU,
		MaxDetections: cfg.Detection.MaxDetections,
	}
	driver := NewDriver(manager, pipeline.New(manager, logger.Named("pipeline")), detlog, monitor, params, logger.Named("driver"))

	return &engine{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		detlog:  detlog,
		monitor: monitor,
		driver:  driver,
	}, nil
}

// start loads the default model and starts sampling. A failed initial load is
// returned but leaves the engine usable; the operator can switch later.
func (e *engine) start(ctx context.Context) error {
	if e.cfg.Performance.Enabled {
		if err := e.monitor.Start(); err != nil {
			e.logger.Warnw("Performance monitoring not started", "error", err)
		}
	}
	key := e.manager.Registry().DefaultKey()
	if err := e.manager.Load(ctx, key); err != nil {
		e.logger.Errorw("Initial model load failed", "model", key, "error", err)
		return err
	}
	return nil
}

// onClose registers teardown run after the components are closed.
func (e *engine) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

func (e *engine) Close() error {
	e.monitor.Stop()
	err := multierr.Combine(e.manager.Close(), e.detlog.Close())
	for _, fn := range e.closers {
		err = multierr.Append(err, fn())
	}
	return err
}
