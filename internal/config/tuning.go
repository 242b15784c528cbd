// Package config loads the optional JSON tuning file. Fields omitted from
// the file fall back to compiled defaults through the Get* accessors, so a
// partial config is always safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sightline-data/sightline/internal/broadcast"
)

// TuningConfig holds deployment tuning knobs. All fields are optional.
type TuningConfig struct {
	// Inference params
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	IOUThreshold        *float64 `json:"iou_threshold,omitempty"`

	// Broadcast params
	MaxMessagesPerSecond *int  `json:"max_messages_per_second,omitempty"`
	IncludePreview       *bool `json:"include_preview,omitempty"`

	// Capture params
	SimFrameInterval *string `json:"sim_frame_interval,omitempty"` // duration string like "66ms"
	BackendCachePath *string `json:"backend_cache_path,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set values are usable.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	if c.IOUThreshold != nil {
		if *c.IOUThreshold < 0 || *c.IOUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be between 0 and 1, got %f", *c.IOUThreshold)
		}
	}
	if c.MaxMessagesPerSecond != nil && *c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("max_messages_per_second must be positive, got %d", *c.MaxMessagesPerSecond)
	}
	if c.SimFrameInterval != nil && *c.SimFrameInterval != "" {
		if _, err := time.ParseDuration(*c.SimFrameInterval); err != nil {
			return fmt.Errorf("invalid sim_frame_interval '%s': %w", *c.SimFrameInterval, err)
		}
	}
	return nil
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float32 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return float32(*c.ConfidenceThreshold)
}

// GetIOUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIOUThreshold() float32 {
	if c.IOUThreshold == nil {
		return 0.45
	}
	return float32(*c.IOUThreshold)
}

// GetMaxMessagesPerSecond returns the broadcast cadence cap or the default.
func (c *TuningConfig) GetMaxMessagesPerSecond() int {
	if c.MaxMessagesPerSecond == nil {
		return broadcast.DefaultMaxMessagesPerSecond
	}
	return *c.MaxMessagesPerSecond
}

// GetIncludePreview returns the include_preview value or the default.
func (c *TuningConfig) GetIncludePreview() bool {
	if c.IncludePreview == nil {
		return false
	}
	return *c.IncludePreview
}

// GetSimFrameInterval parses and returns the SimFrameInterval.
func (c *TuningConfig) GetSimFrameInterval() time.Duration {
	if c.SimFrameInterval == nil || *c.SimFrameInterval == "" {
		return 66 * time.Millisecond // ~15 fps
	}
	d, err := time.ParseDuration(*c.SimFrameInterval)
	if err != nil {
		return 66 * time.Millisecond
	}
	return d
}

// GetBackendCachePath returns the backend_cache_path value or the default.
func (c *TuningConfig) GetBackendCachePath() string {
	if c.BackendCachePath == nil || *c.BackendCachePath == "" {
		return "backend-cache.json"
	}
	return *c.BackendCachePath
}
