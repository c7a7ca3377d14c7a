package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/detectlog"
	"github.com/divyadrishti/detection-engine/lifecycle"
	"github.com/divyadrishti/detection-engine/models"
	"github.com/divyadrishti/detection-engine/pipeline"
	"github.com/divyadrishti/detection-engine/telemetry"
)

// FrameSink receives each annotated frame and its detections.
type FrameSink func(frame image.Image, dets []models.Detection) error

// DriverMetrics counts what the frame loop has done.
type DriverMetrics struct {
	mu              sync.RWMutex
	framesProcessed int64
	detections      int64
	emptyFrames     int64
	logFailures     int64
	switches        int64
	switchFailures  int64
	processingTime  time.Duration
}

// MetricsSnapshot is the exported view of DriverMetrics.
type MetricsSnapshot struct {
	FramesProcessed int64   `json:"frames_processed"`
	Detections      int64   `json:"detections"`
	EmptyFrames     int64   `json:"empty_frames"`
	LogFailures     int64   `json:"log_failures"`
	Switches        int64   `json:"switches"`
	SwitchFailures  int64   `json:"switch_failures"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
}

// Driver is the single caller of detect, log, record-frame and switch. Frame
// processing and switching share one mutex, so a switch waits for the frame in
// flight and no frame runs against a handle being replaced.
type Driver struct {
	mu        sync.Mutex
	pipeline  *pipeline.Pipeline
	manager   *lifecycle.Manager
	detlog    *detectlog.Logger
	monitor   *telemetry.Monitor
	params    pipeline.Params
	sessionID string
	frame     int
	metrics   *DriverMetrics
	logger    *zap.SugaredLogger
}

func NewDriver(manager *lifecycle.Manager, p *pipeline.Pipeline, detlog *detectlog.Logger,
	monitor *telemetry.Monitor, params pipeline.Params, logger *zap.SugaredLogger,
) *Driver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Driver{
		pipeline:  p,
		manager:   manager,
		detlog:    detlog,
		monitor:   monitor,
		params:    params,
		sessionID: uuid.NewString(),
		metrics:   &DriverMetrics{},
		logger:    logger,
	}
}

func (d *Driver) SessionID() string {
	return d.sessionID
}

// ProcessFrame runs one frame through the pipeline and records the results.
func (d *Driver) ProcessFrame(frame image.Image) (image.Image, []models.Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.frame++
	start := time.Now()
	out, dets := d.pipeline.Detect(frame, d.params)
	elapsed := time.Since(start)

	if d.monitor != nil {
		d.monitor.RecordFrame(elapsed)
	}
	var logFailures int64
	if d.detlog != nil {
		for _, det := range dets {
			if err := d.detlog.Log(det, d.frame, d.sessionID); err != nil {
				logFailures++
				d.logger.Warnw("Logging detection failed", "frame", d.frame, "error", err)
			}
		}
	}

	d.metrics.mu.Lock()
	d.metrics.framesProcessed++
	d.metrics.detections += int64(len(dets))
	if len(dets) == 0 {
		d.metrics.emptyFrames++
	}
	d.metrics.logFailures += logFailures
	d.metrics.processingTime += elapsed
	d.metrics.mu.Unlock()

	return out, dets
}

// Run pulls frames until the source is exhausted or ctx is done. End of
// stream is not an error.
func (d *Driver) Run(ctx context.Context, src FrameSource, sink FrameSink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			d.logger.Infow("Frame source exhausted", "session", d.sessionID, "frames", d.frameCount())
			return nil
		}
		if err != nil {
			return fmt.Errorf("next frame: %w", err)
		}

		out, dets := d.ProcessFrame(frame)
		if sink != nil {
			if err := sink(out, dets); err != nil {
				return fmt.Errorf("frame sink: %w", err)
			}
		}
	}
}

// Switch drains the frame loop and replaces the active model.
func (d *Driver) Switch(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.manager.Switch(ctx, key)

	d.metrics.mu.Lock()
	d.metrics.switches++
	if err != nil {
		d.metrics.switchFailures++
	}
	d.metrics.mu.Unlock()

	if err != nil {
		d.logger.Errorw("Model switch failed", "model", key, "error", err)
	}
	return err
}

func (d *Driver) frameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

func (d *Driver) Metrics() MetricsSnapshot {
	d.metrics.mu.RLock()
	defer d.metrics.mu.RUnlock()

	s := MetricsSnapshot{
		FramesProcessed: d.metrics.framesProcessed,
		Detections:      d.metrics.detections,
		EmptyFrames:     d.metrics.emptyFrames,
		LogFailures:     d.metrics.logFailures,
		Switches:        d.metrics.switches,
		SwitchFailures:  d.metrics.switchFailures,
	}
	if s.FramesProcessed > 0 {
		s.AvgProcessingMs = float64(d.metrics.processingTime) / float64(time.Millisecond) / float64(s.FramesProcessed)
	}
	return s
}
