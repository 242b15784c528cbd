package camera

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func backendNames(backends []Backend) []string {
	out := make([]string, len(backends))
	for i, b := range backends {
		out[i] = b.Name
	}
	return out
}

func TestBackendsForSelector(t *testing.T) {
	local := backendNames(backendsFor(DeviceSelector{Index: 0}))
	if diff := cmp.Diff([]string{"v4l2", "gstreamer", "ffmpeg", "any"}, local); diff != "" {
		t.Errorf("local device backends mismatch (-want +got):\n%s", diff)
	}

	stream := backendNames(backendsFor(DeviceSelector{URL: "rtsp://cam/stream"}))
	if diff := cmp.Diff([]string{"ffmpeg", "gstreamer", "any"}, stream); diff != "" {
		t.Errorf("stream backends mismatch (-want +got):\n%s", diff)
	}
}

func TestPromote(t *testing.T) {
	base := backendsFor(DeviceSelector{Index: 0})

	got := backendNames(promote(base, "ffmpeg"))
	if diff := cmp.Diff([]string{"ffmpeg", "v4l2", "gstreamer", "any"}, got); diff != "" {
		t.Errorf("promote ffmpeg mismatch (-want +got):\n%s", diff)
	}

	// Unknown names leave the order untouched.
	got = backendNames(promote(base, "cuda"))
	if diff := cmp.Diff(backendNames(base), got); diff != "" {
		t.Errorf("promote unknown mismatch (-want +got):\n%s", diff)
	}
}

func TestBackendCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backends.json")

	c := LoadBackendCache(path)
	if _, ok := c.Preferred("device:0"); ok {
		t.Fatal("fresh cache has a preference")
	}
	c.Record("device:0", "v4l2")
	c.Record("url:rtsp://cam/stream", "ffmpeg")

	reloaded := LoadBackendCache(path)
	if name, ok := reloaded.Preferred("device:0"); !ok || name != "v4l2" {
		t.Errorf("Preferred(device:0) = %q, %v; want v4l2, true", name, ok)
	}
	if name, ok := reloaded.Preferred("url:rtsp://cam/stream"); !ok || name != "ffmpeg" {
		t.Errorf("Preferred(url) = %q, %v; want ffmpeg, true", name, ok)
	}
}

func TestBackendCacheCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backends.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := LoadBackendCache(path)
	if _, ok := c.Preferred("device:0"); ok {
		t.Fatal("corrupt cache yielded a preference")
	}
	// Still usable for writes.
	c.Record("device:0", "gstreamer")
	if name, _ := LoadBackendCache(path).Preferred("device:0"); name != "gstreamer" {
		t.Errorf("after rewrite Preferred = %q, want gstreamer", name)
	}
}
