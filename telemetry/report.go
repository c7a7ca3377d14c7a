package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	units "github.com/docker/go-units"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/multierr"
	"golang.org/x/sys/cpu"

	"github.com/divyadrishti/detection-engine/models"
)

// SystemInfo describes the host, gathered once.
type SystemInfo struct {
	CPUCount             int      `json:"cpu_count"`
	MemoryTotal          uint64   `json:"memory_total"`
	AcceleratorAvailable bool     `json:"gpu_available"`
	CPUFeatures          []string `json:"cpu_features"`
	Arch                 string   `json:"arch"`
}

// SystemInfo probes the host on first use.
func (m *Monitor) SystemInfo() SystemInfo {
	m.infoOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cores, total, err := m.host.Info(ctx)
		if err != nil {
			m.logger.Warnw("Reading system info failed", "error", err)
		}
		m.info = SystemInfo{
			CPUCount:             cores,
			MemoryTotal:          total,
			AcceleratorAvailable: m.accel != nil,
			CPUFeatures:          cpuFeatures(),
			Arch:                 runtime.GOARCH,
		}
	})
	return m.info
}

func cpuFeatures() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(cpu.X86.HasSSE41, "sse4.1")
	add(cpu.X86.HasAVX, "avx")
	add(cpu.X86.HasAVX2, "avx2")
	add(cpu.X86.HasFMA, "fma")
	add(cpu.X86.HasAVX512F, "avx512f")
	add(cpu.ARM64.HasASIMD, "neon")
	add(cpu.ARM64.HasFPHP, "fp16")
	return out
}

type exportDocument struct {
	Timestamp   time.Time       `json:"timestamp"`
	SessionInfo sessionInfo     `json:"session_info"`
	Data        performanceData `json:"performance_data"`
	Current     Stats           `json:"current_stats"`
}

type sessionInfo struct {
	UptimeSeconds float64    `json:"uptime"`
	TotalFrames   int64      `json:"total_frames"`
	System        SystemInfo `json:"system_info"`
}

type performanceData struct {
	FPS       []Point `json:"fps_history"`
	Inference []Point `json:"inference_times_ms"`
	CPU       []Point `json:"cpu_usage"`
	Memory    []Point `json:"memory_usage"`
	GPU       []Point `json:"gpu_usage"`

	Samples []models.PerformanceSample `json:"samples"`
}

func (m *Monitor) empty() bool {
	m.mu.Lock()
	frames := m.frames
	m.mu.Unlock()
	return frames == 0 && m.cpu.Len() == 0 && m.fps.Len() == 0
}

// Export writes histories and a stats snapshot as JSON and returns the path.
// An empty path is derived from the current time.
func (m *Monitor) Export(path string) (string, error) {
	if m.empty() {
		return "", models.ErrNothingToExport
	}
	now := m.clock.Now()
	if path == "" {
		path = filepath.Join(m.dir, fmt.Sprintf("performance_log_%s.json", now.Format("20060102_150405")))
	}

	current := m.Stats()
	doc := exportDocument{
		Timestamp: now,
		SessionInfo: sessionInfo{
			UptimeSeconds: current.Uptime.Seconds(),
			TotalFrames:   current.TotalFrames,
			System:        m.SystemInfo(),
		},
		Data: performanceData{
			FPS:       m.fps.Snapshot(),
			Inference: m.inference.Snapshot(),
			CPU:       m.cpu.Snapshot(),
			Memory:    m.memory.Snapshot(),
			GPU:       m.gpu.Snapshot(),
			Samples:   m.Samples(),
		},
		Current: current,
	}
	if err := writeJSON(path, doc); err != nil {
		return "", &models.ExportError{Path: path, Cause: err}
	}
	m.logger.Infow("Performance log exported", "path", path)
	return path, nil
}

func writeJSON(path string, v any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Summary renders the current stats and system info as a text table.
func (m *Monitor) Summary() string {
	s := m.Stats()
	info := m.SystemInfo()
	g := Evaluate(s)

	t := table.NewWriter()
	t.SetTitle("Performance Monitor")
	t.AppendRows([]table.Row{
		{"Uptime", formatUptime(s.Uptime)},
		{"Total Frames", s.TotalFrames},
		{"Current FPS", fmt.Sprintf("%.1f", s.FPS)},
		{"Average FPS", fmt.Sprintf("%.1f", s.AverageFPS)},
		{"Inference Time", fmt.Sprintf("%.1fms", s.AvgInferenceMs)},
		{"Grade", fmt.Sprintf("%s (%s)", g.Grade, g.Label)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"CPU Usage", fmt.Sprintf("%.1f%%", s.CPU)},
		{"Memory Usage", fmt.Sprintf("%.1f%%", s.Memory)},
		{"GPU Memory", fmt.Sprintf("%.1f%%", s.GPU)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"CPU Cores", info.CPUCount},
		{"Total Memory", units.BytesSize(float64(info.MemoryTotal))},
		{"GPU Available", yesNo(info.AcceleratorAvailable)},
	})
	return t.Render()
}

func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Chart renders the histories as an HTML page with a throughput chart and a
// resource chart.
func (m *Monitor) Chart(w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = "Performance"
	page.AddCharts(
		lineChart("Throughput", map[string][]Point{
			"fps":          m.fps.Snapshot(),
			"inference_ms": m.inference.Snapshot(),
		}, []string{"fps", "inference_ms"}),
		lineChart("Host resources", m.resourceSeries(), []string{"cpu %", "memory %", "gpu %"}),
	)
	return page.Render(w)
}

func (m *Monitor) resourceSeries() map[string][]Point {
	samples := m.Samples()
	series := map[string][]Point{
		"cpu %":    make([]Point, 0, len(samples)),
		"memory %": make([]Point, 0, len(samples)),
	}
	for _, s := range samples {
		series["cpu %"] = append(series["cpu %"], Point{At: s.At, Value: s.CPU})
		series["memory %"] = append(series["memory %"], Point{At: s.At, Value: s.Memory})
		if m.accel != nil {
			series["gpu %"] = append(series["gpu %"], Point{At: s.At, Value: s.GPU})
		}
	}
	return series
}

func lineChart(title string, series map[string][]Point, order []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time"}),
	)
	for _, name := range order {
		points, ok := series[name]
		if !ok {
			continue
		}
		data := make([]opts.LineData, len(points))
		for i, p := range points {
			data[i] = opts.LineData{Value: []interface{}{p.At.UnixMilli(), p.Value}}
		}
		line.AddSeries(name, data)
	}
	return line
}
