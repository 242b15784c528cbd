package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsWhenEmpty(t *testing.T) {
	cfg := EmptyTuningConfig()
	if got := cfg.GetConfidenceThreshold(); got != 0.5 {
		t.Errorf("GetConfidenceThreshold = %v, want 0.5", got)
	}
	if got := cfg.GetIOUThreshold(); got != 0.45 {
		t.Errorf("GetIOUThreshold = %v, want 0.45", got)
	}
	if got := cfg.GetMaxMessagesPerSecond(); got != 15 {
		t.Errorf("GetMaxMessagesPerSecond = %v, want 15", got)
	}
	if cfg.GetIncludePreview() {
		t.Error("GetIncludePreview default should be false")
	}
	if got := cfg.GetSimFrameInterval(); got != 66*time.Millisecond {
		t.Errorf("GetSimFrameInterval = %v, want 66ms", got)
	}
}

func TestPartialConfig(t *testing.T) {
	path := writeConfig(t, `{"confidence_threshold": 0.7, "sim_frame_interval": "33ms"}`)
	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)
	require.Equal(t, float32(0.7), cfg.GetConfidenceThreshold())
	require.Equal(t, 33*time.Millisecond, cfg.GetSimFrameInterval())
	// Unset fields keep defaults.
	require.Equal(t, float32(0.45), cfg.GetIOUThreshold())
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"confidence out of range", `{"confidence_threshold": 1.5}`},
		{"negative cadence", `{"max_messages_per_second": -3}`},
		{"bad duration", `{"sim_frame_interval": "not-a-duration"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeConfig(t, c.json)
			_, err := LoadTuningConfig(path)
			require.Error(t, err)
		})
	}
}

func TestRejectsNonJSONExtension(t *testing.T) {
	_, err := LoadTuningConfig("tuning.yaml")
	require.Error(t, err)
}
