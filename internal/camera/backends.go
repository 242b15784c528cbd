package camera

import (
	"encoding/json"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/sightline-data/sightline/internal/monitoring"
)

// Backend names one capture API strategy. Strategies are tried in order at
// open time; the first that opens the device and yields a frame wins.
type Backend struct {
	Name string
	API  gocv.VideoCaptureAPI
}

// backendsFor returns the prioritized strategy list for a selector. Local
// devices prefer V4L2 (direct, low latency) before the plugin pipelines;
// network streams prefer FFmpeg, which handles RTSP reconnects best.
func backendsFor(sel DeviceSelector) []Backend {
	if sel.URL != "" {
		return []Backend{
			{Name: "ffmpeg", API: gocv.VideoCaptureFFmpeg},
			{Name: "gstreamer", API: gocv.VideoCaptureGstreamer},
			{Name: "any", API: gocv.VideoCaptureAny},
		}
	}
	return []Backend{
		{Name: "v4l2", API: gocv.VideoCaptureV4L2},
		{Name: "gstreamer", API: gocv.VideoCaptureGstreamer},
		{Name: "ffmpeg", API: gocv.VideoCaptureFFmpeg},
		{Name: "any", API: gocv.VideoCaptureAny},
	}
}

// promote moves the backend with the given name to the front of the list,
// preserving the relative order of the rest.
func promote(backends []Backend, name string) []Backend {
	for i, b := range backends {
		if b.Name == name {
			out := make([]Backend, 0, len(backends))
			out = append(out, b)
			out = append(out, backends[:i]...)
			out = append(out, backends[i+1:]...)
			return out
		}
	}
	return backends
}

// BackendCache is a small persisted device-key → backend-name map. It lets a
// reopen skip strategies that failed last time. Entries are hints only.
type BackendCache struct {
	mu    sync.Mutex
	path  string
	prefs map[string]string
}

// LoadBackendCache reads the cache file at path. A missing file yields an
// empty cache; a corrupt file is discarded with a log entry rather than
// failing the open.
func LoadBackendCache(path string) *BackendCache {
	c := &BackendCache{path: path, prefs: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			monitoring.Logf("backend cache: read %s: %v", path, err)
		}
		return c
	}
	if err := json.Unmarshal(data, &c.prefs); err != nil {
		monitoring.Logf("backend cache: discarding corrupt %s: %v", path, err)
		c.prefs = make(map[string]string)
	}
	return c
}

// Preferred returns the recorded backend name for a device key.
func (c *BackendCache) Preferred(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.prefs[key]
	return name, ok
}

// Record stores the backend that succeeded for a device key and rewrites the
// cache file. Write failures are logged, not surfaced: the cache is advisory.
func (c *BackendCache) Record(key, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prefs[key] == name {
		return
	}
	c.prefs[key] = name
	if c.path == "" {
		return
	}
	data, err := json.MarshalIndent(c.prefs, "", "  ")
	if err == nil {
		err = os.WriteFile(c.path, data, 0o644)
	}
	if err != nil {
		monitoring.Logf("backend cache: write %s: %v", c.path, err)
	}
}
