package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divyadrishti/detection-engine/models"
)

type fakeHost struct {
	mu      sync.Mutex
	cpu     float64
	mem     float64
	calls   int
	err     error
	cores   int
	memSize uint64
}

func (h *fakeHost) Sample(context.Context) (float64, float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.cpu, h.mem, h.err
}

func (h *fakeHost) Info(context.Context) (int, uint64, error) {
	return h.cores, h.memSize, nil
}

type fakeGPU struct{ percent float64 }

func (g fakeGPU) MemoryPercent(context.Context) (float64, error) { return g.percent, nil }

func newTestMonitor(t *testing.T, history int) (*Monitor, *clock.Mock, *fakeHost) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	host := &fakeHost{cpu: 40, mem: 50, cores: 8, memSize: 16 << 30}
	m := NewMonitor(Options{
		Interval: time.Second,
		History:  history,
		Dir:      t.TempDir(),
		Clock:    mock,
		Host:     host,
	})
	return m, mock, host
}

func TestColdStartReadsZero(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	assert.Zero(t, m.CurrentFPS())
	assert.Zero(t, m.AverageFPS(30))

	m.RecordFrame(10 * time.Millisecond)
	assert.Zero(t, m.CurrentFPS(), "no full second has elapsed")
	assert.Zero(t, m.AverageFPS(30))
	assert.Equal(t, int64(1), m.Stats().TotalFrames)
}

func TestRecordFrameComputesFPSPerSecond(t *testing.T) {
	m, mock, _ := newTestMonitor(t, 10)

	for i := 0; i < 10; i++ {
		mock.Add(100 * time.Millisecond)
		m.RecordFrame(20 * time.Millisecond)
	}
	assert.InDelta(t, 10.0, m.CurrentFPS(), 1e-9)

	for i := 0; i < 5; i++ {
		mock.Add(400 * time.Millisecond)
		m.RecordFrame(40 * time.Millisecond)
	}
	// 3 frames over 1.2s, then 2 frames pending
	assert.InDelta(t, 2.5, m.CurrentFPS(), 1e-9)
	assert.InDelta(t, 6.25, m.AverageFPS(30), 1e-9)
	assert.InDelta(t, 2.5, m.AverageFPS(1), 1e-9)

	s := m.Stats()
	assert.Equal(t, int64(15), s.TotalFrames)
	assert.InDelta(t, (10*20.0+5*40.0)/15, s.AvgInferenceMs, 1e-9)
	assert.Equal(t, 3*time.Second, s.Uptime)
}

func TestHistoriesStayBounded(t *testing.T) {
	m, mock, _ := newTestMonitor(t, 4)
	for i := 0; i < 50; i++ {
		mock.Add(time.Second)
		m.RecordFrame(time.Millisecond)
	}
	assert.Equal(t, 4, m.fps.Len())
	assert.Equal(t, 4, m.inference.Len())
}

func TestSamplerStartStop(t *testing.T) {
	m, mock, host := newTestMonitor(t, 10)
	m.accel = fakeGPU{percent: 12.5}

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	require.True(t, m.Running())
	require.Eventually(t, func() bool { return m.cpu.Len() == 1 }, time.Second, time.Millisecond)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return m.cpu.Len() == 2 }, time.Second, time.Millisecond)

	s := m.Stats()
	assert.Equal(t, 40.0, s.CPU)
	assert.Equal(t, 50.0, s.Memory)
	assert.Equal(t, 12.5, s.GPU)

	require.Eventually(t, func() bool { return len(m.Samples()) == 2 }, time.Second, time.Millisecond)
	samples := m.Samples()
	assert.Equal(t, mock.Now(), samples[1].At)
	assert.Equal(t, 40.0, samples[1].CPU)
	assert.Equal(t, 50.0, samples[1].Memory)
	assert.Equal(t, 12.5, samples[1].GPU)

	m.Stop()
	assert.False(t, m.Running())
	host.mu.Lock()
	calls := host.calls
	host.mu.Unlock()

	mock.Add(5 * time.Second)
	host.mu.Lock()
	assert.Equal(t, calls, host.calls)
	host.mu.Unlock()

	m.Stop()
}

func TestSamplerFailureSkipsTick(t *testing.T) {
	m, _, host := newTestMonitor(t, 10)
	host.err = errors.New("no proc")

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool {
		host.mu.Lock()
		defer host.mu.Unlock()
		return host.calls > 0
	}, time.Second, time.Millisecond)
	m.Stop()
	assert.Zero(t, m.cpu.Len())
	assert.Zero(t, m.gpu.Len())
	assert.Empty(t, m.Samples())
}

type stuckHost struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *stuckHost) Sample(context.Context) (float64, float64, error) {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return 10, 20, nil
}

func (h *stuckHost) Info(context.Context) (int, uint64, error) { return 1, 1 << 30, nil }

func TestStartRefusedWhileStaleSamplerRuns(t *testing.T) {
	host := &stuckHost{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewMonitor(Options{
		Interval: 20 * time.Millisecond,
		Clock:    clock.NewMock(),
		Host:     host,
	})

	require.NoError(t, m.Start())
	<-host.entered
	m.Stop()
	assert.False(t, m.Running())

	assert.ErrorIs(t, m.Start(), ErrSamplerBusy)
	assert.False(t, m.Running())

	close(host.release)
	require.Eventually(t, func() bool { return m.Start() == nil }, time.Second, time.Millisecond)
	assert.True(t, m.Running())
	m.Stop()
	assert.False(t, m.Running())
}

func TestReset(t *testing.T) {
	m, mock, _ := newTestMonitor(t, 10)
	mock.Add(time.Second)
	m.RecordFrame(time.Millisecond)
	m.sample(context.Background())

	require.Len(t, m.Samples(), 1)
	mock.Add(time.Minute)
	m.Reset()
	assert.Empty(t, m.Samples())
	s := m.Stats()
	assert.Zero(t, s.TotalFrames)
	assert.Zero(t, s.FPS)
	assert.Zero(t, s.CPU)
	assert.Zero(t, s.Uptime)
}

func TestGradeTable(t *testing.T) {
	cases := []struct {
		fps, cpu, mem float64
		want          string
	}{
		{30, 50, 50, "A+"},
		{25, 69.9, 79.9, "A+"},
		{25, 70, 50, "A"},
		{20, 79, 84, "A"},
		{18, 50, 50, "B"},
		{12, 89, 94, "C"},
		{9.9, 10, 10, "D"},
		{30, 95, 50, "D"},
		{0, 0, 0, "D"},
	}
	for _, c := range cases {
		g := Evaluate(Stats{AverageFPS: c.fps, CPU: c.cpu, Memory: c.mem})
		assert.Equal(t, c.want, g.Grade, "fps=%v cpu=%v mem=%v", c.fps, c.cpu, c.mem)
	}
}

func TestExport(t *testing.T) {
	m, mock, _ := newTestMonitor(t, 10)
	_, err := m.Export("")
	assert.ErrorIs(t, err, models.ErrNothingToExport)

	mock.Add(time.Second)
	m.RecordFrame(5 * time.Millisecond)
	m.sample(context.Background())

	path, err := m.Export("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.dir, "performance_log_20240501_090001.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc exportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, int64(1), doc.SessionInfo.TotalFrames)
	assert.Equal(t, 8, doc.SessionInfo.System.CPUCount)
	require.Len(t, doc.Data.FPS, 1)
	assert.InDelta(t, 1.0, doc.Data.FPS[0].Value, 1e-9)
	assert.Len(t, doc.Data.CPU, 1)
	require.Len(t, doc.Data.Samples, 1)
	assert.InDelta(t, 1.0, doc.Data.Samples[0].FPS, 1e-9)
	assert.InDelta(t, 5.0, doc.Data.Samples[0].InferenceMs, 1e-9)
	assert.Equal(t, 40.0, doc.Data.Samples[0].CPU)
	assert.InDelta(t, 5.0, doc.Current.AvgInferenceMs, 1e-9)
}

func TestExportWriteFailure(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	m.RecordFrame(time.Millisecond)

	path := filepath.Join(t.TempDir(), "nope", "perf.json")
	_, err := m.Export(path)
	var exportErr *models.ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, path, exportErr.Path)
}

func TestSummaryAndChart(t *testing.T) {
	m, mock, _ := newTestMonitor(t, 10)
	mock.Add(90 * time.Minute)
	m.RecordFrame(time.Millisecond)
	m.sample(context.Background())

	summary := m.Summary()
	assert.Contains(t, summary, "Performance Monitor")
	assert.Contains(t, summary, "01:30:00")
	assert.Contains(t, summary, "16GiB")
	assert.Contains(t, summary, "40.0%")

	var buf bytes.Buffer
	require.NoError(t, m.Chart(&buf))
	assert.Contains(t, buf.String(), "Host resources")
	assert.NotContains(t, buf.String(), "gpu %", "no accelerator series without an accelerator")
	assert.Contains(t, buf.String(), "echarts")
}

func TestParseGPUMemory(t *testing.T) {
	v, err := parseGPUMemory("2048, 8192\n1024, 8192\n")
	require.NoError(t, err)
	assert.InDelta(t, 25.0, v, 1e-9)

	_, err = parseGPUMemory("N/A")
	assert.Error(t, err)
	_, err = parseGPUMemory("10, 0")
	assert.Error(t, err)
}
