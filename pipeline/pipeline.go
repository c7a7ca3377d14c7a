// Package pipeline turns decoded frames into annotated frames and detections
// using the active model.
package pipeline

import (
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/detections"
	"github.com/divyadrishti/detection-engine/lifecycle"
	"github.com/divyadrishti/detection-engine/models"
)

// HandleSource provides the active model, if any.
type HandleSource interface {
	Current() (*lifecycle.Handle, bool)
}

// Params bounds one detect call.
type Params struct {
	Confidence    float64
	IoU           float64
	MaxDetections int
}

func (p Params) runOptions() detections.RunOptions {
	return detections.RunOptions{
		Confidence:    float32(p.Confidence),
		IoU:           float32(p.IoU),
		MaxDetections: p.MaxDetections,
	}
}

// outcome is the internal result of one inference attempt.
type outcome struct {
	frame      image.Image
	detections []models.Detection
	err        error
}

type Pipeline struct {
	source HandleSource
	style  Style
	logger *zap.SugaredLogger
}

func New(source HandleSource, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{source: source, style: DefaultStyle(), logger: logger}
}

// Ready reports whether a model is active.
func (p *Pipeline) Ready() bool {
	_, ok := p.source.Current()
	return ok
}

// Detect runs the active model on frame. Without a ready model, or when
// inference fails, frame is returned unchanged with no detections. The input
// frame is never mutated.
func (p *Pipeline) Detect(frame image.Image, params Params) (image.Image, []models.Detection) {
	h, ok := p.source.Current()
	if !ok || frame == nil {
		return frame, nil
	}

	res := p.run(h, frame, params)
	if res.err != nil {
		p.logger.Warnw("detection failed, passing frame through", "model", h.Key(), "error", res.err)
		return frame, nil
	}
	return res.frame, res.detections
}

func (p *Pipeline) run(h *lifecycle.Handle, frame image.Image, params Params) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			res = outcome{err: fmt.Errorf("panic during inference: %v", r)}
		}
	}()

	raw, err := h.Run(frame, params.runOptions())
	if err != nil {
		return outcome{err: err}
	}

	// Raw boxes are relative to the frame origin; detections are reported in
	// the frame's own coordinate space.
	bounds := frame.Bounds()
	w, h2 := float64(bounds.Dx()), float64(bounds.Dy())
	dx, dy := float64(bounds.Min.X), float64(bounds.Min.Y)
	dets := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		box := r.Box.Normalize().Clamp(w, h2).Translate(dx, dy)
		dets = append(dets, models.NewDetection(box, float64(r.Confidence), r.ClassID, h.ClassName(r.ClassID)))
	}

	return outcome{frame: annotate(frame, dets, p.style), detections: dets}
}
