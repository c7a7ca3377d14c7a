package lifecycle

import (
	"image"
	"sync"

	"github.com/divyadrishti/detection-engine/detections"
	"github.com/divyadrishti/detection-engine/models"
)

// Handle is the active, device-bound model. Run and release are mutually
// exclusive: once release begins no inference executes against the model.
type Handle struct {
	mu       sync.RWMutex
	profile  models.ModelProfile
	device   detections.Device
	labels   []string
	model    detections.Model
	released bool
}

func (h *Handle) Key() string {
	return h.profile.Key
}

func (h *Handle) Profile() models.ModelProfile {
	return h.profile.Clone()
}

func (h *Handle) Device() detections.Device {
	return h.device
}

// Labels is the class list resolved at load time.
func (h *Handle) Labels() []string {
	return append([]string(nil), h.labels...)
}

// ClassName resolves id against the label list, synthesizing a placeholder
// for ids out of range.
func (h *Handle) ClassName(id int) string {
	if id >= 0 && id < len(h.labels) && h.labels[id] != "" {
		return h.labels[id]
	}
	return placeholderName(id)
}

func (h *Handle) Run(frame image.Image, opts detections.RunOptions) ([]models.RawDetection, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, ErrHandleReleased
	}
	return h.model.Run(frame, opts)
}

func (h *Handle) release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	return h.model.Close()
}
