package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/session"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleDets() []detect.Detection {
	return []detect.Detection{
		{Label: "person", Confidence: 0.91, X1: 10, Y1: 20, X2: 110, Y2: 220, TrackerID: "trk_a"},
		{Label: "car", Confidence: 0.72, X1: 300, Y1: 40, X2: 500, Y2: 180},
	}
}

func TestMigrationsApplyTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.Close()

	// Reopening must be a no-op migration, not an error.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	db.Close()
}

func TestSaveAndCountDetections(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := db.CreateSession("s1", "cam-0", session.StatusRunning, now); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for frame := uint64(1); frame <= 3; frame++ {
		if err := db.SaveDetections("s1", frame, now.Add(time.Duration(frame)*time.Second), sampleDets()); err != nil {
			t.Fatalf("SaveDetections frame %d: %v", frame, err)
		}
	}

	n, err := db.DetectionCount("s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Errorf("DetectionCount = %d, want 6", n)
	}

	counts, err := db.ClassCounts("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 || counts[0].Label == "" {
		t.Fatalf("ClassCounts = %+v", counts)
	}
	for _, c := range counts {
		if c.Count != 3 {
			t.Errorf("ClassCounts[%s] = %d, want 3", c.Label, c.Count)
		}
	}
}

func TestSaveDetectionsEmptyIsNoop(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveDetections("s1", 1, time.Now(), nil); err != nil {
		t.Fatalf("empty save: %v", err)
	}
	n, _ := db.DetectionCount("s1")
	if n != 0 {
		t.Errorf("DetectionCount = %d, want 0", n)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if _, ok, err := db.GetStatus("missing"); err != nil || ok {
		t.Fatalf("GetStatus(missing) = ok=%v err=%v, want absent", ok, err)
	}

	if err := db.SetStatus("s1", session.StatusRunning); err != nil {
		t.Fatal(err)
	}
	st, ok, err := db.GetStatus("s1")
	if err != nil || !ok || st != session.StatusRunning {
		t.Fatalf("GetStatus = %q ok=%v err=%v", st, ok, err)
	}

	// Status transitions overwrite.
	db.SetStatus("s1", session.StatusStopped)
	st, _, _ = db.GetStatus("s1")
	if st != session.StatusStopped {
		t.Errorf("status after stop = %q, want stopped", st)
	}
}

func TestSessionRowsAndCounters(t *testing.T) {
	db := openTestDB(t)
	created := time.Now().UTC().Truncate(time.Second)

	db.CreateSession("s1", "cam-0", session.StatusRunning, created)
	db.CreateSession("s2", "cam-1", session.StatusRunning, created.Add(time.Minute))

	last := created.Add(30 * time.Second)
	if err := db.UpdateCounters("s1", 100, 42, last); err != nil {
		t.Fatal(err)
	}

	row, ok, err := db.GetSession("s1")
	if err != nil || !ok {
		t.Fatalf("GetSession = ok=%v err=%v", ok, err)
	}
	if row.FrameCount != 100 || row.DetectionCount != 42 {
		t.Errorf("counters = %d/%d, want 100/42", row.FrameCount, row.DetectionCount)
	}
	if row.LastDetectionAt == nil || !row.LastDetectionAt.Equal(last) {
		t.Errorf("LastDetectionAt = %v, want %v", row.LastDetectionAt, last)
	}

	rows, err := db.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].SessionID != "s2" {
		t.Errorf("ListSessions order = %+v", rows)
	}
}

func TestDetectionRate(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := db.CreateSession("s1", "cam-0", session.StatusRunning, base); err != nil {
		t.Fatal(err)
	}
	// Two detections in the first second, one two seconds later.
	db.SaveDetections("s1", 1, base, sampleDets())
	db.SaveDetections("s1", 2, base.Add(2*time.Second), sampleDets()[:1])

	buckets, err := db.DetectionRate("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 2 {
		t.Fatalf("buckets = %+v, want 2", buckets)
	}
	if buckets[0].Count != 2 || buckets[1].Count != 1 {
		t.Errorf("bucket counts = %d, %d; want 2, 1", buckets[0].Count, buckets[1].Count)
	}
	if !buckets[1].Second.After(buckets[0].Second) {
		t.Error("buckets out of order")
	}
}
