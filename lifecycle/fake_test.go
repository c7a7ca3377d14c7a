package lifecycle

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/divyadrishti/detection-engine/detections"
	"github.com/divyadrishti/detection-engine/models"
)

type fakeModel struct {
	mu      sync.Mutex
	key     string
	labels  []string
	runErr  error
	runs    int
	closed  bool
	results []models.RawDetection
}

func (m *fakeModel) Run(image.Image, detections.RunOptions) ([]models.RawDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	if m.closed {
		panic("run on closed model")
	}
	return m.results, m.runErr
}

func (m *fakeModel) Labels() []string { return m.labels }

func (m *fakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeModel) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fakeBackend records every load. loadFn decides the outcome per call; by
// default a remote artifact is "fetched" by writing fetchBytes when missing.
type fakeBackend struct {
	mu         sync.Mutex
	loads      []detections.Locator
	devices    []detections.Device
	models     []*fakeModel
	fetchBytes int
	loadFn     func(n int, loc detections.Locator) (*fakeModel, error)
	// liveAtLoad records how many loaded models were still open when each load began.
	liveAtLoad []int
}

func (b *fakeBackend) Load(_ context.Context, loc detections.Locator, device detections.Device) (detections.Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := 0
	for _, m := range b.models {
		if !m.isClosed() {
			live++
		}
	}
	b.liveAtLoad = append(b.liveAtLoad, live)
	b.loads = append(b.loads, loc)
	b.devices = append(b.devices, device)

	if loc.Remote {
		if _, err := os.Stat(loc.Path); os.IsNotExist(err) && b.fetchBytes > 0 {
			if err := os.WriteFile(loc.Path, make([]byte, b.fetchBytes), 0o644); err != nil {
				return nil, err
			}
		}
	}

	var m *fakeModel
	var err error
	if b.loadFn != nil {
		m, err = b.loadFn(len(b.loads), loc)
	} else {
		m = &fakeModel{}
	}
	if err != nil {
		return nil, err
	}
	m.key = loc.Key
	b.models = append(b.models, m)
	return m, nil
}

func (b *fakeBackend) loadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.loads)
}

type fakeProbe struct{ gpu, accel bool }

func (p fakeProbe) GPUAvailable() bool         { return p.gpu }
func (p fakeProbe) AcceleratorAvailable() bool { return p.accel }
