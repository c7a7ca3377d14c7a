package detections

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	getter "github.com/hashicorp/go-getter"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/models"
)

// FetchFunc downloads src into the file dst.
type FetchFunc func(ctx context.Context, dst, src string) error

// ONNXBackend loads ONNX detection models with ONNX Runtime. The runtime
// environment must already be initialized.
type ONNXBackend struct {
	BaseURL string
	Threads int
	Fetch   FetchFunc
	Logger  *zap.SugaredLogger
}

func NewONNXBackend(baseURL string, threads int, logger *zap.SugaredLogger) *ONNXBackend {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &ONNXBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Threads: threads,
		Fetch:   getterFetch,
		Logger:  logger,
	}
}

func getterFetch(ctx context.Context, dst, src string) error {
	return getter.GetFile(dst, src, getter.WithContext(ctx))
}

func (b *ONNXBackend) Load(ctx context.Context, loc Locator, device Device) (Model, error) {
	if !ort.IsInitialized() {
		return nil, errors.New("onnxruntime environment is not initialized")
	}

	if loc.Remote {
		if err := b.ensureLocal(ctx, loc); err != nil {
			return nil, err
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(loc.Path)
	if err != nil {
		return nil, ClassifyLoadError(fmt.Errorf("read model io info: %w", err))
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", loc.Path)
	}

	inW, inH := dimOr(inputs[0].Dimensions, 3, InputWidth), dimOr(inputs[0].Dimensions, 2, InputHeight)
	outDims := outputs[0].Dimensions
	if len(outDims) != 3 {
		return nil, fmt.Errorf("unsupported output rank %d for %s", len(outDims), outputs[0].Name)
	}
	channels, predictions := int(outDims[1]), int(outDims[2])
	if predictions <= 0 {
		predictions = anchorCount(inW, inH)
	}
	layout, err := newOutputLayout(channels, predictions, inW, inH, loc.Taxonomy == models.TaxonomySegmentation)
	if err != nil {
		return nil, err
	}

	options, err := b.sessionOptions(device)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inH), int64(inW)))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(layout.channels), int64(layout.predictions)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		loc.Path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, ClassifyLoadError(fmt.Errorf("error creating session: %w", err))
	}

	labels := b.embeddedLabels(loc.Path, layout.numClasses)
	b.Logger.Infow("onnx session created",
		"model", loc.Key,
		"device", device,
		"input", fmt.Sprintf("%dx%d", inW, inH),
		"classes", layout.numClasses,
		"embedded_labels", len(labels))

	return NewModelSession(session, inputTensor, outputTensor, layout, labels, b.Logger), nil
}

func (b *ONNXBackend) ensureLocal(ctx context.Context, loc Locator) error {
	if _, err := os.Stat(loc.Path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if b.BaseURL == "" {
		return fmt.Errorf("model %s is missing and no base url is configured", loc.Path)
	}
	if err := os.MkdirAll(filepath.Dir(loc.Path), 0o755); err != nil {
		return err
	}

	src := b.BaseURL + "/" + loc.Name
	b.Logger.Infow("fetching model artifact", "model", loc.Key, "src", src, "dst", loc.Path)
	if err := b.Fetch(ctx, loc.Path, src); err != nil {
		return fmt.Errorf("fetch %s: %w", src, err)
	}
	return nil
}

func (b *ONNXBackend) sessionOptions(device Device) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	options.SetIntraOpNumThreads(b.Threads)
	options.SetInterOpNumThreads(b.Threads)

	switch device {
	case DeviceCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error creating cuda options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error configuring cuda: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error enabling cuda: %w", err)
		}
	case DeviceCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error enabling coreml: %w", err)
		}
	}
	return options, nil
}

func (b *ONNXBackend) embeddedLabels(path string, numClasses int) []string {
	meta, err := ort.GetModelMetadata(path)
	if err != nil {
		b.Logger.Debugw("no model metadata", "path", path, "error", err)
		return nil
	}
	defer meta.Destroy()

	raw, ok, err := meta.LookupCustomMetadataMap("names")
	if err != nil || !ok {
		return nil
	}
	return parseNames(raw, numClasses)
}

func dimOr(shape ort.Shape, idx, fallback int) int {
	if idx < len(shape) && shape[idx] > 0 {
		return int(shape[idx])
	}
	return fallback
}

// anchorCount is the prediction count of a stride 8/16/32 detection head.
func anchorCount(w, h int) int {
	total := 0
	for _, stride := range []int{8, 16, 32} {
		total += (w / stride) * (h / stride)
	}
	return total
}
