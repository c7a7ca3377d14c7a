package main

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/config"
	"github.com/divyadrishti/detection-engine/detections"
	"github.com/divyadrishti/detection-engine/models"
)

type scriptedModel struct {
	results []models.RawDetection
	labels  []string
}

func (m *scriptedModel) Run(image.Image, detections.RunOptions) ([]models.RawDetection, error) {
	return m.results, nil
}

func (m *scriptedModel) Labels() []string { return m.labels }
func (m *scriptedModel) Close() error     { return nil }

type scriptedBackend struct {
	mu    sync.Mutex
	loads []string
	fail  map[string]error
	model *scriptedModel
}

func (b *scriptedBackend) Load(_ context.Context, loc detections.Locator, _ detections.Device) (detections.Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads = append(b.loads, loc.Key)
	if err := b.fail[loc.Key]; err != nil {
		return nil, err
	}
	return b.model, nil
}

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))
	return path
}

// testEngine wires the real components over a scripted backend with two
// local models, trail and general.
func testEngine(t *testing.T) (*engine, *scriptedBackend) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.ModelsDir = dir
	cfg.Device = "cpu"
	cfg.DefaultModel = "trail"
	cfg.Logging.Dir = filepath.Join(dir, "logs")
	cfg.Logging.MaxEntries = 100
	cfg.Performance.Enabled = false
	cfg.Models = []models.ModelProfile{
		{Key: "trail", Name: "Trail", Path: writeArtifact(t, dir, "trail.onnx"), Type: models.TaxonomyCustom, Classes: []string{"trail", "hiker"}},
		{Key: "general", Name: "General", Path: writeArtifact(t, dir, "general.onnx"), Type: models.TaxonomyGeneral, Classes: []string{"person"}},
	}
	require.NoError(t, config.Validate(cfg))

	backend := &scriptedBackend{
		fail: map[string]error{},
		model: &scriptedModel{results: []models.RawDetection{
			{Box: models.Box{X1: 4, Y1: 4, X2: 20, Y2: 30}, Confidence: 0.8, ClassID: 0},
			{Box: models.Box{X1: 30, Y1: 10, X2: 50, Y2: 40}, Confidence: 0.6, ClassID: 1},
		}},
	}
	e, err := newEngine(cfg, backend, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, backend
}

func solidFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 120, B: 60, A: 255})
		}
	}
	return img
}

var errBroken = errors.New("failed to load model: protobuf parsing failed")
