package storage

import (
	"fmt"
	"time"

	"github.com/sightline-data/sightline/internal/detect"
)

// SaveDetections inserts one frame's detections in a single transaction.
// Safe to call from many worker goroutines concurrently.
func (db *DB) SaveDetections(sessionID string, frameNumber uint64, capturedAt time.Time, dets []detect.Detection) error {
	if len(dets) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections
			(session_id, frame_number, captured_at, label, confidence, x1, y1, x2, y2, tracker_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range dets {
		var trackerID any
		if d.TrackerID != "" {
			trackerID = d.TrackerID
		}
		if _, err := stmt.Exec(sessionID, frameNumber, capturedAt,
			d.Label, d.Confidence, d.X1, d.Y1, d.X2, d.Y2, trackerID); err != nil {
			return fmt.Errorf("insert detection: %w", err)
		}
	}
	return tx.Commit()
}

// DetectionCount returns the number of stored detections for a session.
func (db *DB) DetectionCount(sessionID string) (int64, error) {
	var n int64
	err := db.QueryRow(
		`SELECT COUNT(*) FROM detections WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// ClassCount is one label's detection total within a session.
type ClassCount struct {
	Label string
	Count int64
}

// ClassCounts returns per-label detection totals for a session, most
// frequent first.
func (db *DB) ClassCounts(sessionID string) ([]ClassCount, error) {
	rows, err := db.Query(`
		SELECT label, COUNT(*) AS n
		FROM detections
		WHERE session_id = ?
		GROUP BY label
		ORDER BY n DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClassCount
	for rows.Next() {
		var c ClassCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RateBucket is the detection count for one wall-clock second.
type RateBucket struct {
	Second time.Time
	Count  int64
}

// DetectionRate returns per-second detection counts for a session in
// chronological order. Seconds with no detections are absent.
func (db *DB) DetectionRate(sessionID string) ([]RateBucket, error) {
	rows, err := db.Query(`
		SELECT strftime('%Y-%m-%dT%H:%M:%SZ', captured_at) AS sec, COUNT(*)
		FROM detections
		WHERE session_id = ?
		GROUP BY sec
		ORDER BY sec
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RateBucket
	for rows.Next() {
		var sec string
		var b RateBucket
		if err := rows.Scan(&sec, &b.Count); err != nil {
			return nil, err
		}
		if b.Second, err = time.Parse(time.RFC3339, sec); err != nil {
			return nil, fmt.Errorf("parse bucket %q: %w", sec, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
