package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divyadrishti/detection-engine/detections"
	"github.com/divyadrishti/detection-engine/lifecycle"
	"github.com/divyadrishti/detection-engine/models"
	"github.com/divyadrishti/detection-engine/registry"
)

type stubModel struct {
	results []models.RawDetection
	err     error
	panics  bool
	warm    bool
}

func (m *stubModel) Run(image.Image, detections.RunOptions) ([]models.RawDetection, error) {
	if !m.warm {
		m.warm = true
		return nil, nil
	}
	if m.panics {
		panic("boom")
	}
	return m.results, m.err
}

func (m *stubModel) Labels() []string { return nil }
func (m *stubModel) Close() error     { return nil }

type stubBackend struct{ model *stubModel }

func (b stubBackend) Load(context.Context, detections.Locator, detections.Device) (detections.Model, error) {
	return b.model, nil
}

func readyManager(t *testing.T, model *stubModel) *lifecycle.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "m.onnx")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o644))
	reg, err := registry.New("m", models.ModelProfile{
		Key: "m", Name: "M", Path: path, Type: models.TaxonomyGeneral,
		Classes: []string{"person", "trail"},
	})
	require.NoError(t, err)
	m := lifecycle.NewManager(reg, stubBackend{model: model}, lifecycle.Options{Device: "cpu"})
	require.NoError(t, m.Load(context.Background(), "m"))
	return m
}

func testFrame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

var params = Params{Confidence: 0.5, IoU: 0.45, MaxDetections: 100}

type notReady struct{}

func (notReady) Current() (*lifecycle.Handle, bool) { return nil, false }

func TestDetectWithoutModelPassesFrameThrough(t *testing.T) {
	p := New(notReady{}, nil)
	frame := testFrame()
	pix := append([]byte(nil), frame.Pix...)

	out, dets := p.Detect(frame, params)
	assert.Same(t, frame, out)
	assert.Equal(t, pix, frame.Pix)
	assert.Empty(t, dets)
	assert.False(t, p.Ready())
}

func TestDetectBuildsDetections(t *testing.T) {
	model := &stubModel{results: []models.RawDetection{
		{Box: models.Box{X1: 10, Y1: 20, X2: 60, Y2: 80}, Confidence: 0.9, ClassID: 1},
		{Box: models.Box{X1: 150, Y1: 90, X2: 120, Y2: 40}, Confidence: 0.6, ClassID: 0},
		{Box: models.Box{X1: -5, Y1: 0, X2: 250, Y2: 120}, Confidence: 0.55, ClassID: 9},
	}}
	p := New(readyManager(t, model), nil)
	frame := testFrame()
	pix := append([]byte(nil), frame.Pix...)

	out, dets := p.Detect(frame, params)
	require.Len(t, dets, 3)
	assert.NotSame(t, frame, out)
	assert.Equal(t, pix, frame.Pix, "input frame is not mutated")
	assert.Equal(t, frame.Bounds(), out.Bounds())

	assert.Equal(t, "trail", dets[0].ClassName)
	assert.Equal(t, "person", dets[1].ClassName)
	assert.Equal(t, "class_9", dets[2].ClassName)

	for _, d := range dets {
		assert.GreaterOrEqual(t, d.Confidence, 0.0)
		assert.LessOrEqual(t, d.Confidence, 1.0)
		assert.LessOrEqual(t, d.Box.X1, d.Box.X2)
		assert.LessOrEqual(t, d.Box.Y1, d.Box.Y2)
		assert.GreaterOrEqual(t, d.Box.X1, 0.0)
		assert.LessOrEqual(t, d.Box.X2, 200.0)
		assert.LessOrEqual(t, d.Box.Y2, 100.0)
		assert.InDelta(t, (d.Box.X2-d.Box.X1)*(d.Box.Y2-d.Box.Y1), d.Area, 1e-9)
		assert.InDelta(t, (d.Box.X1+d.Box.X2)/2, d.Center.X, 1e-9)
		assert.InDelta(t, (d.Box.Y1+d.Box.Y2)/2, d.Center.Y, 1e-9)
	}

	// corners reordered, order of inference preserved
	assert.Equal(t, models.Box{X1: 120, Y1: 40, X2: 150, Y2: 90}, dets[1].Box)
	assert.Equal(t, models.Box{X1: 0, Y1: 0, X2: 200, Y2: 100}, dets[2].Box)

	// the box edge is drawn over the white frame
	assert.NotEqual(t, color.RGBAModel.Convert(color.White), color.RGBAModel.Convert(out.At(10, 50)))
}

func TestDetectReportsBoxesInSubImageBounds(t *testing.T) {
	model := &stubModel{results: []models.RawDetection{
		{Box: models.Box{X1: 10, Y1: 10, X2: 60, Y2: 60}, Confidence: 0.9, ClassID: 0},
		{Box: models.Box{X1: -5, Y1: -5, X2: 500, Y2: 500}, Confidence: 0.7, ClassID: 1},
	}}
	p := New(readyManager(t, model), nil)
	parent := testFrame()
	pix := append([]byte(nil), parent.Pix...)
	frame := parent.SubImage(image.Rect(100, 20, 200, 100))

	out, dets := p.Detect(frame, params)
	require.Len(t, dets, 2)
	assert.Equal(t, frame.Bounds(), out.Bounds())
	assert.Equal(t, pix, parent.Pix, "input frame is not mutated")

	assert.Equal(t, models.Box{X1: 110, Y1: 30, X2: 160, Y2: 80}, dets[0].Box)
	assert.Equal(t, models.Box{X1: 100, Y1: 20, X2: 200, Y2: 100}, dets[1].Box)
	for _, d := range dets {
		r := frame.Bounds()
		assert.GreaterOrEqual(t, d.Box.X1, float64(r.Min.X))
		assert.GreaterOrEqual(t, d.Box.Y1, float64(r.Min.Y))
		assert.LessOrEqual(t, d.Box.X2, float64(r.Max.X))
		assert.LessOrEqual(t, d.Box.Y2, float64(r.Max.Y))
	}

	// the marker lands where the detection says it is
	assert.NotEqual(t, color.RGBAModel.Convert(color.White), color.RGBAModel.Convert(out.At(110, 55)))
	assert.Equal(t, color.RGBAModel.Convert(color.White), color.RGBAModel.Convert(out.At(135, 70)))
}

func TestDetectDegradesOnInferenceError(t *testing.T) {
	p := New(readyManager(t, &stubModel{err: errors.New("bad frame")}), nil)
	frame := testFrame()

	out, dets := p.Detect(frame, params)
	assert.Same(t, frame, out)
	assert.Empty(t, dets)
	assert.True(t, p.Ready())
}

func TestDetectRecoversFromPanic(t *testing.T) {
	p := New(readyManager(t, &stubModel{panics: true}), nil)
	frame := testFrame()

	out, dets := p.Detect(frame, params)
	assert.Same(t, frame, out)
	assert.Empty(t, dets)
}

func TestDetectAfterReleasePassesThrough(t *testing.T) {
	m := readyManager(t, &stubModel{})
	p := New(m, nil)
	require.NoError(t, m.Close())

	frame := testFrame()
	out, dets := p.Detect(frame, params)
	assert.Same(t, frame, out)
	assert.Empty(t, dets)
}

func TestLabel(t *testing.T) {
	d := models.NewDetection(models.Box{X2: 1, Y2: 1}, 0.875, 0, "hiker")
	assert.Equal(t, "hiker 87.50%", Label(d))
}
