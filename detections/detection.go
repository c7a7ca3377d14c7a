package detections

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/models"
)

var errSessionClosed = errors.New("model session closed")

// ModelSession is an ONNX Runtime session bound to one artifact and device.
// Run calls are serialized because the input and output tensors are shared.
type ModelSession struct {
	mu           sync.Mutex
	Session      *ort.AdvancedSession
	Input        *ort.Tensor[float32]
	Output       *ort.Tensor[float32]
	layout       outputLayout
	labels       []string
	preprocessor *Preprocessor
	logger       *zap.SugaredLogger
	closed       bool
}

func NewModelSession(session *ort.AdvancedSession, input, output *ort.Tensor[float32], layout outputLayout, labels []string, logger *zap.SugaredLogger) *ModelSession {
	return &ModelSession{
		Session:      session,
		Input:        input,
		Output:       output,
		layout:       layout,
		labels:       labels,
		preprocessor: NewPreprocessor(layout.inputWidth, layout.inputHeight),
		logger:       logger,
	}
}

func (m *ModelSession) Labels() []string {
	if len(m.labels) == 0 {
		return nil
	}
	return append([]string(nil), m.labels...)
}

func (m *ModelSession) Run(img image.Image, opts RunOptions) ([]models.RawDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errSessionClosed
	}

	timings := &models.ProcessingTimings{RequestID: fmt.Sprintf("%d", time.Now().UnixNano())}
	startTotal := time.Now()

	prepStart := time.Now()
	m.preprocessor.Process(img, m.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := m.Session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	bounds := img.Bounds()
	out, err := processPredictions(m.Output.GetData(), m.layout, bounds.Dx(), bounds.Dy(), opts)
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	timings.Postprocess = time.Since(postStart)
	timings.Total = time.Since(startTotal)

	m.logger.Debugw("inference timings",
		"request_id", timings.RequestID,
		"preprocess", timings.Preprocess,
		"inference", timings.Inference,
		"postprocess", timings.Postprocess,
		"total", timings.Total,
		"detections", len(out))
	return out, nil
}

func (m *ModelSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.Session != nil {
		err = multierr.Append(err, m.Session.Destroy())
	}
	if m.Input != nil {
		err = multierr.Append(err, m.Input.Destroy())
	}
	if m.Output != nil {
		err = multierr.Append(err, m.Output.Destroy())
	}
	return err
}
