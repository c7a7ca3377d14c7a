package config

import (
	"fmt"
	"strings"
	"time"
)

var (
	devices   = map[string]bool{"auto": true, "cpu": true, "cuda": true, "coreml": true}
	modes     = map[string]bool{"detect": true, "segment": true}
	logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks ranges and fills defaults in place.
func Validate(cfg *Config) error {
	cfg.Device = strings.ToLower(cfg.Device)
	switch cfg.Device {
	case "":
		cfg.Device = "auto"
	case "mps":
		cfg.Device = "coreml"
	}
	if !devices[cfg.Device] {
		return fmt.Errorf("device must be one of auto, cpu, cuda, coreml; got %q", cfg.Device)
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "models"
	}
	if cfg.ONNXRuntime.Threads < 0 {
		return fmt.Errorf("onnxruntime.threads must be >= 0")
	}

	d := &cfg.Detection
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("detection.confidence must be in [0,1], got %v", d.Confidence)
	}
	if d.IoU < 0 || d.IoU > 1 {
		return fmt.Errorf("detection.iou must be in [0,1], got %v", d.IoU)
	}
	if d.MaxDetections <= 0 {
		d.MaxDetections = 1000
	}
	if d.Mode == "" {
		d.Mode = "detect"
	}
	if !modes[d.Mode] {
		return fmt.Errorf("detection.mode must be detect or segment, got %q", d.Mode)
	}

	l := &cfg.Logging
	if l.MaxEntries <= 0 {
		l.MaxEntries = 1000
	}
	if l.Dir == "" {
		l.Dir = "logs"
	}
	l.Level = strings.ToLower(l.Level)
	if l.Level == "" {
		l.Level = "info"
	}
	if !logLevels[l.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
	}

	p := &cfg.Performance
	if p.Interval <= 0 {
		p.Interval = 5 * time.Second
	}
	if p.History <= 0 {
		p.History = 100
	}

	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 30 * time.Second
	}

	if len(cfg.Models) == 0 {
		return fmt.Errorf("at least one model profile is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = cfg.Models[0].Key
	}
	return nil
}
