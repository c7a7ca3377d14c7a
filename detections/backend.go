package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/divyadrishti/detection-engine/models"
)

// Device is a compute device identifier understood by a Backend.
type Device string

const (
	DeviceCPU    Device = "cpu"
	DeviceCUDA   Device = "cuda"
	DeviceCoreML Device = "coreml"
)

// ErrInvalidArchive marks load errors caused by a truncated or otherwise
// unreadable model artifact.
var ErrInvalidArchive = errors.New("truncated or invalid model archive")

// Locator addresses a model artifact. Remote artifacts are named symbolically
// and may be fetched by the backend when the local copy at Path is missing.
type Locator struct {
	Key      string
	Name     string
	Path     string
	Remote   bool
	Taxonomy models.Taxonomy
}

// RunOptions bounds a single inference call.
type RunOptions struct {
	Confidence    float32
	IoU           float32
	MaxDetections int
}

// DefaultRunOptions mirrors the configuration defaults.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Confidence:    DefaultConfThreshold,
		IoU:           DefaultIoUThreshold,
		MaxDetections: DefaultMaxDetections,
	}
}

// Model is a loaded, device-bound model instance.
type Model interface {
	// Run returns the surviving detections in the order inference reports them.
	Run(frame image.Image, opts RunOptions) ([]models.RawDetection, error)
	// Labels is the class label list embedded in the artifact, nil if none.
	Labels() []string
	// Close releases device memory held by the model.
	Close() error
}

// Backend instantiates models on a device.
type Backend interface {
	Load(ctx context.Context, loc Locator, device Device) (Model, error)
}

var archiveSignatures = []string{
	"protobuf parsing failed",
	"invalid_protobuf",
	"failed finding central directory",
	"pytorchstreamreader failed",
	"unexpected eof",
	"truncated",
	"not a valid zip",
}

// ClassifyLoadError wraps err with ErrInvalidArchive when its text matches a
// known truncation signature.
func ClassifyLoadError(err error) error {
	if err == nil || errors.Is(err, ErrInvalidArchive) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range archiveSignatures {
		if strings.Contains(msg, sig) {
			return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
	}
	return err
}
