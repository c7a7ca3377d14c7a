// Package lifecycle owns the active detection model: loading, validation,
// hot-swapping and recovery from corrupted artifacts.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	units "github.com/docker/go-units"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/detections"
	"github.com/divyadrishti/detection-engine/models"
	"github.com/divyadrishti/detection-engine/registry"
)

// State of the manager's state machine.
type State int

const (
	Unloaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultMinArtifactBytes is the size below which an artifact is corrupt.
const DefaultMinArtifactBytes = 1024

const warmupSize = 640

var errUndersized = errors.New("artifact below minimum size")

type Options struct {
	// ModelDir holds local copies of remote-resolvable artifacts.
	ModelDir         string
	Device           string
	EnableGPU        bool
	MinArtifactBytes int64
	Probe            DeviceProbe
	Logger           *zap.SugaredLogger
}

// Status is a point-in-time view of the manager.
type Status struct {
	State     string            `json:"state"`
	ActiveKey string            `json:"active_key,omitempty"`
	Device    detections.Device `json:"device"`
	Labels    int               `json:"labels"`
	LastError string            `json:"last_error,omitempty"`
}

// Manager exclusively owns the active Handle. Switch must not run while a
// detection is in flight against the handle being replaced; the caller drains
// its frame loop first.
type Manager struct {
	mu         sync.Mutex
	registry   *registry.Registry
	backend    detections.Backend
	device     detections.Device
	modelDir   string
	minBytes   int64
	logger     *zap.SugaredLogger
	removeFile func(string) error

	state     State
	active    *Handle
	activeKey string
	lastErr   error
}

// NewManager resolves the compute device once; it is not re-resolved per load.
func NewManager(reg *registry.Registry, backend detections.Backend, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	minBytes := opts.MinArtifactBytes
	if minBytes <= 0 {
		minBytes = DefaultMinArtifactBytes
	}
	device := ResolveDevice(opts.Device, opts.EnableGPU, opts.Probe)
	logger.Infow("compute device resolved", "preference", opts.Device, "device", device)

	return &Manager{
		registry:   reg,
		backend:    backend,
		device:     device,
		modelDir:   opts.ModelDir,
		minBytes:   minBytes,
		logger:     logger,
		removeFile: os.Remove,
		state:      Unloaded,
	}
}

// Load performs the initial load of key.
func (m *Manager) Load(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.registry.Has(key) {
		return newLoadError(KindUnknownModel, key, registry.ErrUnknownModel)
	}
	return m.loadFresh(ctx, key)
}

// Switch replaces the active model with key. Switching to the active key is a
// no-op. On failure no model is active, including the previous one.
func (m *Manager) Switch(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registry.Has(key) {
		m.logger.Warnw("switch rejected", "model", key, "error", registry.ErrUnknownModel)
		return newLoadError(KindUnknownModel, key, registry.ErrUnknownModel)
	}
	if m.state == Ready && key == m.activeKey {
		m.logger.Infow("model already active", "model", key)
		return nil
	}

	m.logger.Infow("switching model", "from", m.activeKey, "to", key)
	return m.loadFresh(ctx, key)
}

// Current returns the active handle, or false when no model is ready.
func (m *Manager) Current() (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready || m.active == nil {
		return nil, false
	}
	return m.active, true
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Device() detections.Device {
	return m.device
}

func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Profiles lists the selectable models in display order.
func (m *Manager) Profiles() []models.ModelProfile {
	return m.registry.All()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{State: m.state.String(), ActiveKey: m.activeKey, Device: m.device}
	if m.active != nil {
		s.Labels = len(m.active.labels)
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Close releases the active handle and returns to Unloaded.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.releaseActive()
	m.state = Unloaded
	return err
}

func (m *Manager) loadFresh(ctx context.Context, key string) error {
	profile, err := m.registry.Lookup(key)
	if err != nil {
		return newLoadError(KindUnknownModel, key, err)
	}

	if err := m.releaseActive(); err != nil {
		m.logger.Warnw("releasing previous model", "error", err)
	}
	m.state = Loading

	h, err := m.load(ctx, profile)
	if err != nil {
		m.state = Failed
		m.lastErr = err
		m.logger.Errorw("model load failed", "model", key, "error", err)
		return err
	}

	m.active = h
	m.activeKey = key
	m.lastErr = nil
	m.state = Ready
	m.logger.Infow("model ready",
		"model", key,
		"name", profile.Name,
		"type", profile.Type,
		"device", h.device,
		"classes", len(h.labels))
	return nil
}

// releaseActive destroys the current handle before any replacement is built.
func (m *Manager) releaseActive() error {
	if m.active == nil {
		return nil
	}
	h := m.active
	m.active = nil
	m.activeKey = ""
	m.logger.Infow("releasing model", "model", h.Key(), "device", h.device)
	return h.release()
}

func (m *Manager) locate(p models.ModelProfile) detections.Locator {
	loc := detections.Locator{Key: p.Key, Name: filepath.ToSlash(p.Path), Taxonomy: p.Type}
	if filepath.IsAbs(p.Path) {
		loc.Path = p.Path
		return loc
	}
	loc.Path = filepath.Join(m.modelDir, p.Path)
	loc.Remote = true
	return loc
}

func (m *Manager) load(ctx context.Context, profile models.ModelProfile) (*Handle, error) {
	loc := m.locate(profile)

	repaired := false
	if err := m.validate(loc); err != nil {
		switch {
		case !errors.Is(err, errUndersized):
			return nil, newLoadError(KindLoadFailure, profile.Key, err)
		case !loc.Remote:
			return nil, newLoadError(KindUnrecoverableCorruption, profile.Key, err)
		}
		if rerr := m.repair(loc); rerr != nil {
			return nil, newLoadError(KindCorruptArtifact, profile.Key, rerr)
		}
		repaired = true
	}

	h, err := m.instantiate(ctx, profile, loc)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, detections.ErrInvalidArchive) {
		return nil, newLoadError(KindLoadFailure, profile.Key, err)
	}
	if !loc.Remote {
		return nil, newLoadError(KindUnrecoverableCorruption, profile.Key, err)
	}
	if repaired {
		return nil, newLoadError(KindCorruptArtifact, profile.Key, err)
	}

	m.logger.Warnw("corrupted model artifact detected, retrying once", "model", profile.Key, "error", err)
	if rerr := m.repair(loc); rerr != nil {
		return nil, newLoadError(KindCorruptArtifact, profile.Key, rerr)
	}
	h, err = m.instantiate(ctx, profile, loc)
	switch {
	case err == nil:
		return h, nil
	case errors.Is(err, detections.ErrInvalidArchive):
		return nil, newLoadError(KindCorruptArtifact, profile.Key, err)
	default:
		return nil, newLoadError(KindLoadFailure, profile.Key, err)
	}
}

// validate checks existence and size. Remote artifacts may be absent; the
// backend fetches them.
func (m *Manager) validate(loc detections.Locator) error {
	info, err := os.Stat(loc.Path)
	switch {
	case errors.Is(err, os.ErrNotExist) && loc.Remote:
		m.logger.Infow("model artifact will be fetched", "model", loc.Key, "path", loc.Path)
		return nil
	case err != nil:
		return fmt.Errorf("model artifact %s: %w", loc.Path, err)
	case info.IsDir():
		return fmt.Errorf("model artifact %s is a directory", loc.Path)
	case info.Size() < m.minBytes:
		return fmt.Errorf("%s is %s: %w", loc.Path, units.BytesSize(float64(info.Size())), errUndersized)
	}
	m.logger.Debugw("model artifact validated", "model", loc.Key, "path", loc.Path, "size", units.BytesSize(float64(info.Size())))
	return nil
}

// repair deletes the local copy of a remote artifact so the next load
// fetches it again.
func (m *Manager) repair(loc detections.Locator) error {
	if !loc.Remote {
		return fmt.Errorf("cannot re-fetch local artifact %s", loc.Path)
	}
	m.logger.Warnw("deleting corrupted artifact", "model", loc.Key, "path", loc.Path)
	if err := m.removeFile(loc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", loc.Path, err)
	}
	return nil
}

// instantiate loads, warms up and resolves labels.
func (m *Manager) instantiate(ctx context.Context, profile models.ModelProfile, loc detections.Locator) (h *Handle, err error) {
	model, err := m.backend.Load(ctx, loc, m.device)
	if err != nil {
		return nil, detections.ClassifyLoadError(err)
	}
	defer func() {
		if err != nil {
			if cerr := model.Close(); cerr != nil {
				m.logger.Warnw("closing failed model", "model", loc.Key, "error", cerr)
			}
		}
	}()

	if err := warmUp(model); err != nil {
		return nil, detections.ClassifyLoadError(fmt.Errorf("warm-up: %w", err))
	}

	labels := model.Labels()
	if len(labels) == 0 {
		labels = append([]string(nil), profile.Classes...)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no class labels for %s", profile.Key)
	}

	return &Handle{profile: profile, device: m.device, labels: labels, model: model}, nil
}

// warmUp runs one zero-valued frame through the model.
func warmUp(model detections.Model) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during warm-up: %v", r)
		}
	}()
	frame := image.NewRGBA(image.Rect(0, 0, warmupSize, warmupSize))
	_, err = model.Run(frame, detections.DefaultRunOptions())
	return err
}

func placeholderName(id int) string {
	return fmt.Sprintf("class_%d", id)
}
