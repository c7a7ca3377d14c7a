package lifecycle

import (
	"os"
	"runtime"
	"strings"

	"github.com/divyadrishti/detection-engine/detections"
)

// DeviceProbe reports which compute devices the host offers.
type DeviceProbe interface {
	GPUAvailable() bool
	AcceleratorAvailable() bool
}

// HostProbe inspects the local machine.
type HostProbe struct{}

var nvidiaMarkers = []string{"/proc/driver/nvidia/version", "/dev/nvidia0"}

func (HostProbe) GPUAvailable() bool {
	for _, p := range nvidiaMarkers {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// AcceleratorAvailable reports Apple silicon, where CoreML is usable.
func (HostProbe) AcceleratorAvailable() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// ResolveDevice picks the compute device: an explicit preference wins, then a
// GPU when available and enabled, then an alternate accelerator, then CPU.
func ResolveDevice(preference string, enableGPU bool, probe DeviceProbe) detections.Device {
	switch detections.Device(strings.ToLower(preference)) {
	case detections.DeviceCPU:
		return detections.DeviceCPU
	case detections.DeviceCUDA:
		return detections.DeviceCUDA
	case detections.DeviceCoreML:
		return detections.DeviceCoreML
	}
	if probe == nil {
		probe = HostProbe{}
	}
	switch {
	case enableGPU && probe.GPUAvailable():
		return detections.DeviceCUDA
	case probe.AcceleratorAvailable():
		return detections.DeviceCoreML
	}
	return detections.DeviceCPU
}
