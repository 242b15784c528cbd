package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/sightline-data/sightline/internal/session"
)

// CreateSession writes the session row at start time. Upserted because the
// status store may have touched the row first.
func (db *DB) CreateSession(sessionID, cameraIdentity string, status session.Status, createdAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, camera_identity, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			camera_identity = excluded.camera_identity,
			status = excluded.status,
			created_at = excluded.created_at
	`, sessionID, cameraIdentity, string(status), createdAt)
	return err
}

// SetStatus writes the session's status. Rows are upserted so a status
// write never depends on creation ordering.
func (db *DB) SetStatus(sessionID string, status session.Status) error {
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, camera_identity, status)
		VALUES (?, '', ?)
		ON CONFLICT(session_id) DO UPDATE SET status = excluded.status
	`, sessionID, string(status))
	return err
}

// GetStatus reads the session's status. The bool is false when the session
// id is unknown.
func (db *DB) GetStatus(sessionID string) (session.Status, bool, error) {
	var s string
	err := db.QueryRow(
		`SELECT status FROM sessions WHERE session_id = ?`, sessionID).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return session.Status(s), true, nil
}

// UpdateCounters writes the session's frame/detection totals and last
// detection time. Called off the hot path.
func (db *DB) UpdateCounters(sessionID string, frames, detections uint64, lastDetection time.Time) error {
	var last any
	if !lastDetection.IsZero() {
		last = lastDetection
	}
	_, err := db.Exec(`
		UPDATE sessions
		SET frame_count = ?, detection_count = ?, last_detection_at = ?
		WHERE session_id = ?
	`, frames, detections, last, sessionID)
	return err
}

// SessionRow mirrors one sessions table row.
type SessionRow struct {
	SessionID       string         `json:"sessionId"`
	CameraIdentity  string         `json:"cameraIdentity"`
	Status          session.Status `json:"status"`
	FrameCount      uint64         `json:"frameCount"`
	DetectionCount  uint64         `json:"detectionCount"`
	CreatedAt       time.Time      `json:"createdAt"`
	LastDetectionAt *time.Time     `json:"lastDetectionAt,omitempty"`
}

// GetSession reads one session row. The bool is false when unknown.
func (db *DB) GetSession(sessionID string) (SessionRow, bool, error) {
	row := db.QueryRow(`
		SELECT session_id, camera_identity, status, frame_count, detection_count,
		       created_at, last_detection_at
		FROM sessions WHERE session_id = ?
	`, sessionID)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, false, nil
	}
	if err != nil {
		return SessionRow{}, false, err
	}
	return r, true, nil
}

// ListSessions returns all session rows, newest first.
func (db *DB) ListSessions() ([]SessionRow, error) {
	rows, err := db.Query(`
		SELECT session_id, camera_identity, status, frame_count, detection_count,
		       created_at, last_detection_at
		FROM sessions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(s rowScanner) (SessionRow, error) {
	var r SessionRow
	var status string
	var last sql.NullTime
	err := s.Scan(&r.SessionID, &r.CameraIdentity, &status,
		&r.FrameCount, &r.DetectionCount, &r.CreatedAt, &last)
	if err != nil {
		return SessionRow{}, err
	}
	r.Status = session.Status(status)
	if last.Valid {
		r.LastDetectionAt = &last.Time
	}
	return r, nil
}
