package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sightline-data/sightline/internal/broadcast"
	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/session"
)

type memStatusStore struct {
	mu     sync.Mutex
	status map[string]session.Status
}

func (s *memStatusStore) GetStatus(id string) (session.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[id]
	return st, ok, nil
}

func (s *memStatusStore) SetStatus(id string, st session.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = st
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := camera.NewRegistry(func(camera.DeviceSelector) (camera.FrameSource, error) {
		return camera.NewSimSource(8, 8, 5*time.Millisecond, 0), nil
	})
	t.Cleanup(reg.CloseAll)

	coord := session.NewCoordinator(session.CoordinatorOpts{
		Registry: reg,
		Store:    &memStatusStore{status: make(map[string]session.Status)},
		NewDetector: func(session.Config) (detect.Detector, error) {
			return detect.NewMockDetector(detect.ScriptedResult{
				Detections: []detect.Detection{{Label: "person", Confidence: 0.9, X1: 1, Y1: 1, X2: 5, Y2: 5}},
			}), nil
		},
	})

	srv := NewServer(coord, broadcast.NewFanout(15, false), nil, nil, 0.5, 0.45)
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)
	return ts
}

func startTestSession(t *testing.T, ts *httptest.Server) session.DetectionSession {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"cameraId": "cam-0", "deviceIndex": 0}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}
	var snap session.DetectionSession
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID == "" {
		t.Fatal("start returned no session id")
	}
	return snap
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	snap := startTestSession(t, ts)

	// Status
	resp, err := http.Get(ts.URL + "/api/sessions/" + snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	var got session.DetectionSession
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got.ID != snap.ID || got.CameraIdentity != "cam-0" {
		t.Errorf("status snapshot = %+v", got)
	}

	// List
	resp, err = http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var list []session.DetectionSession
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0].ID != snap.ID {
		t.Errorf("list = %+v", list)
	}

	// Stop, then the id is gone.
	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/"+snap.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/"+snap.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second stop status = %d, want 404", resp.StatusCode)
	}
	resp, _ = http.Get(ts.URL + "/api/sessions/" + snap.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after stop = %d, want 404", resp.StatusCode)
	}
}

func TestPauseResumeOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	snap := startTestSession(t, ts)
	defer func() {
		resp := doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/"+snap.ID)
		resp.Body.Close()
	}()

	resp, err := http.Post(ts.URL+"/api/sessions/"+snap.ID+"/pause", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var paused session.DetectionSession
	json.NewDecoder(resp.Body).Decode(&paused)
	resp.Body.Close()
	if paused.Status != session.StatusPaused {
		t.Errorf("status after pause = %q, want paused", paused.Status)
	}

	resp, err = http.Post(ts.URL+"/api/sessions/"+snap.ID+"/resume", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var resumed session.DetectionSession
	json.NewDecoder(resp.Body).Decode(&resumed)
	resp.Body.Close()
	if resumed.Status != session.StatusRunning {
		t.Errorf("status after resume = %q, want running", resumed.Status)
	}
}

func TestStartValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json",
		strings.NewReader(`{`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"deviceIndex": 0}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing cameraId status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownSessionActions(t *testing.T) {
	ts := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/nope"},
		{http.MethodDelete, "/api/sessions/nope"},
		{http.MethodPost, "/api/sessions/nope/pause"},
		{http.MethodPost, "/api/sessions/nope/resume"},
	} {
		var resp *http.Response
		if tc.method == http.MethodPost {
			var err error
			resp, err = http.Post(ts.URL+tc.path, "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
		} else {
			resp = doRequest(t, tc.method, ts.URL+tc.path)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, resp.StatusCode)
		}
	}
}
