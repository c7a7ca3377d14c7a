package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSampler reads host resource usage.
type HostSampler interface {
	// Sample returns CPU and memory utilization in percent.
	Sample(ctx context.Context) (cpuPercent, memPercent float64, err error)
	// Info returns the logical core count and total memory in bytes.
	Info(ctx context.Context) (cores int, memTotal uint64, err error)
}

// AcceleratorSampler reads accelerator memory utilization.
type AcceleratorSampler interface {
	MemoryPercent(ctx context.Context) (float64, error)
}

// PSHost samples the host through gopsutil.
type PSHost struct{}

func (PSHost) Sample(ctx context.Context) (float64, float64, error) {
	// interval 0 compares against the previous call
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, fmt.Errorf("cpu percent: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("virtual memory: %w", err)
	}
	var c float64
	if len(percents) > 0 {
		c = percents[0]
	}
	return c, vm.UsedPercent, nil
}

func (PSHost) Info(ctx context.Context) (int, uint64, error) {
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0, 0, fmt.Errorf("cpu counts: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("virtual memory: %w", err)
	}
	return cores, vm.Total, nil
}

// NvidiaSMI queries the first GPU's memory through nvidia-smi.
type NvidiaSMI struct {
	Path string
}

// DetectAccelerator returns a sampler when nvidia-smi is on PATH, nil otherwise.
func DetectAccelerator() AcceleratorSampler {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil
	}
	return NvidiaSMI{Path: path}
}

func (n NvidiaSMI) MemoryPercent(ctx context.Context) (float64, error) {
	out, err := exec.CommandContext(ctx, n.Path,
		"--query-gpu=memory.used,memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi: %w", err)
	}
	return parseGPUMemory(string(out))
}

func parseGPUMemory(out string) (float64, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	usedStr, totalStr, ok := strings.Cut(line, ",")
	if !ok {
		return 0, fmt.Errorf("unexpected nvidia-smi output %q", line)
	}
	used, err := strconv.ParseFloat(strings.TrimSpace(usedStr), 64)
	if err != nil {
		return 0, err
	}
	total, err := strconv.ParseFloat(strings.TrimSpace(totalStr), 64)
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, errors.New("gpu reports no memory")
	}
	return used / total * 100, nil
}
