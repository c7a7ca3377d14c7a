// Package config loads the engine configuration from YAML.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/divyadrishti/detection-engine/models"
)

//go:embed config.default.yaml
var defaultYAML []byte

// Config is read once at startup.
type Config struct {
	ModelsDir    string `yaml:"models_dir"`
	ModelBaseURL string `yaml:"model_base_url"`
	DefaultModel string `yaml:"default_model"`
	// Device is auto, cpu, cuda or coreml.
	Device    string `yaml:"device"`
	EnableGPU bool   `yaml:"enable_gpu"`

	ONNXRuntime ONNXRuntimeConfig `yaml:"onnxruntime"`
	Detection   DetectionConfig   `yaml:"detection"`
	Logging     LoggingConfig     `yaml:"logging"`
	Performance PerformanceConfig `yaml:"performance"`
	Server      ServerConfig      `yaml:"server"`

	Models []models.ModelProfile `yaml:"models"`
}

type ONNXRuntimeConfig struct {
	// Library is the shared library path; empty means the bundled or
	// environment-provided one.
	Library string `yaml:"library"`
	Threads int    `yaml:"threads"`
}

type DetectionConfig struct {
	Confidence    float64 `yaml:"confidence"`
	IoU           float64 `yaml:"iou"`
	MaxDetections int     `yaml:"max_detections"`
	Mode          string  `yaml:"mode"` // detect, segment
}

type LoggingConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Dir        string         `yaml:"dir"`
	MaxEntries int            `yaml:"max_entries"`
	Level      string         `yaml:"level"`
	File       FileSinkConfig `yaml:"file"`
}

// FileSinkConfig enables a rotated JSON log file when Path is set.
type FileSinkConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type PerformanceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	History  int           `yaml:"history"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns the embedded configuration.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse default config: %w", err)
	}
	return &cfg, nil
}

// Load reads path over the embedded defaults. An empty path yields the
// defaults alone. A models list in the file replaces the default list.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
