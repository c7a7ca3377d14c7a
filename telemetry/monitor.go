// Package telemetry samples throughput and host resource usage into bounded
// rolling histories.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/models"
)

const (
	DefaultInterval = time.Second
	DefaultHistory  = 100
	// AverageWindow is the number of samples behind the averaged figures.
	AverageWindow = 30
)

// ErrSamplerBusy is returned by Start while a sampler that missed its stop
// deadline has not exited yet.
var ErrSamplerBusy = errors.New("previous performance sampler still running")

// Point is one timestamped observation.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

type Options struct {
	Interval time.Duration
	History  int
	// Dir is where exports land when no path is given.
	Dir         string
	Clock       clock.Clock
	Host        HostSampler
	Accelerator AcceleratorSampler
	Logger      *zap.SugaredLogger
}

// Stats is a point-in-time view of the monitor.
type Stats struct {
	FPS            float64       `json:"fps"`
	AverageFPS     float64       `json:"avg_fps"`
	TotalFrames    int64         `json:"total_frames"`
	Uptime         time.Duration `json:"uptime"`
	CPU            float64       `json:"cpu_usage"`
	Memory         float64       `json:"memory_usage"`
	GPU            float64       `json:"gpu_usage"`
	AvgInferenceMs float64       `json:"avg_inference_time"`
}

// Monitor has two writers: RecordFrame from the detection loop and the
// background sampler. Histories may be read from anywhere.
type Monitor struct {
	clock    clock.Clock
	interval time.Duration
	dir      string
	host     HostSampler
	accel    AcceleratorSampler
	logger   *zap.SugaredLogger

	fps       *Ring[Point]
	inference *Ring[Point]
	cpu       *Ring[Point]
	memory    *Ring[Point]
	gpu       *Ring[Point]
	samples   *Ring[models.PerformanceSample]

	mu           sync.Mutex
	frames       int64
	windowFrames int
	lastFPS      time.Time
	start        time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	infoOnce sync.Once
	info     SystemInfo
}

func NewMonitor(opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.Host == nil {
		opts.Host = PSHost{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	now := opts.Clock.Now()
	return &Monitor{
		clock:     opts.Clock,
		interval:  opts.Interval,
		dir:       opts.Dir,
		host:      opts.Host,
		accel:     opts.Accelerator,
		logger:    opts.Logger,
		fps:       NewRing[Point](opts.History),
		inference: NewRing[Point](opts.History),
		cpu:       NewRing[Point](opts.History),
		memory:    NewRing[Point](opts.History),
		gpu:       NewRing[Point](opts.History),
		samples:   NewRing[models.PerformanceSample](opts.History),
		lastFPS:   now,
		start:     now,
	}
}

// Running reports whether the sampler is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

// Start begins background sampling. Starting a running monitor is a no-op.
// If an earlier sampler missed its stop deadline and is still exiting, Start
// returns ErrSamplerBusy.
func (m *Monitor) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return nil
	}
	if m.done != nil {
		select {
		case <-m.done:
		default:
			return ErrSamplerBusy
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	ticker := m.clock.Ticker(m.interval)
	go m.loop(ctx, ticker, m.done)
	m.logger.Infow("Performance monitoring started", "interval", m.interval)
	return nil
}

// Stop halts sampling, waiting at most one interval for the sampler to exit.
// A sampler that outlives the wait keeps blocking Start until it returns.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	wait := time.NewTimer(m.interval)
	defer wait.Stop()
	m.cancel = nil
	select {
	case <-m.done:
		m.done = nil
	case <-wait.C:
		m.logger.Warnw("Performance sampler did not exit in time")
	}
	m.logger.Infow("Performance monitoring stopped")
}

func (m *Monitor) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	now := m.clock.Now()
	c, mem, err := m.host.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warnw("Host sampling failed", "error", err)
		}
		return
	}
	m.cpu.Push(Point{At: now, Value: c})
	m.memory.Push(Point{At: now, Value: mem})

	var g float64
	if m.accel != nil {
		g, err = m.accel.MemoryPercent(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Debugw("Accelerator sampling failed", "error", err)
			}
			g = 0
		}
		m.gpu.Push(Point{At: now, Value: g})
	}

	m.samples.Push(models.PerformanceSample{
		At:          now,
		FPS:         m.CurrentFPS(),
		InferenceMs: last(m.inference),
		CPU:         c,
		Memory:      mem,
		GPU:         g,
	})
}

// Samples returns the per-tick observations, oldest first. Throughput fields
// carry the latest reading at the time of the tick.
func (m *Monitor) Samples() []models.PerformanceSample {
	return m.samples.Snapshot()
}

// RecordFrame counts one processed frame. FPS is computed once at least a
// second has passed since the previous computation.
func (m *Monitor) RecordFrame(inference time.Duration) {
	now := m.clock.Now()

	m.mu.Lock()
	m.frames++
	m.windowFrames++
	elapsed := now.Sub(m.lastFPS)
	if elapsed >= time.Second {
		m.fps.Push(Point{At: now, Value: float64(m.windowFrames) / elapsed.Seconds()})
		m.windowFrames = 0
		m.lastFPS = now
	}
	m.mu.Unlock()

	m.inference.Push(Point{At: now, Value: float64(inference) / float64(time.Millisecond)})
}

// CurrentFPS is the latest FPS sample, 0 before the first full second.
func (m *Monitor) CurrentFPS() float64 {
	p, _ := m.fps.Last()
	return p.Value
}

// AverageFPS is the mean of the last window FPS samples, 0 when none exist.
func (m *Monitor) AverageFPS(window int) float64 {
	return mean(m.fps.Tail(window))
}

// Stats snapshots the latest readings.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	frames, start := m.frames, m.start
	m.mu.Unlock()

	return Stats{
		FPS:            m.CurrentFPS(),
		AverageFPS:     m.AverageFPS(AverageWindow),
		TotalFrames:    frames,
		Uptime:         m.clock.Since(start),
		CPU:            last(m.cpu),
		Memory:         last(m.memory),
		GPU:            last(m.gpu),
		AvgInferenceMs: mean(m.inference.Tail(AverageWindow)),
	}
}

// Grade rates the current stats.
func (m *Monitor) Grade() Grade {
	return Evaluate(m.Stats())
}

// Reset clears histories and counters. Sampling continues if running.
func (m *Monitor) Reset() {
	m.mu.Lock()
	now := m.clock.Now()
	m.frames, m.windowFrames = 0, 0
	m.lastFPS, m.start = now, now
	m.mu.Unlock()

	for _, r := range []*Ring[Point]{m.fps, m.inference, m.cpu, m.memory, m.gpu} {
		r.Reset()
	}
	m.samples.Reset()
	m.logger.Infow("Performance statistics reset")
}

func last(r *Ring[Point]) float64 {
	p, _ := r.Last()
	return p.Value
}

func mean(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	values := make(stats.Float64Data, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	v, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return v
}
