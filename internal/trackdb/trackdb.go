// Package trackdb persists tracking sessions, lifecycle events and resolved
// poses to SQLite for offline analysis and replay fixture generation.
package trackdb

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the tracking database at path and ensures the
// base schema exists. Schema evolution beyond the base tables goes through
// the migrate commands.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			source            TEXT,
			started_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			stopped_at        TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS events (
			event_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id        TEXT,
			event             TEXT,
			detail            TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS poses (
			pose_id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id        TEXT,
			frame_seq         BIGINT,
			handle            BIGINT,
			visible           INTEGER,
			x                 DOUBLE,
			y                 DOUBLE,
			z                 DOUBLE,
			pose              TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE INDEX IF NOT EXISTS poses_session_seq ON poses (session_id, frame_seq);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// RecordSessionStart inserts a session row. Restarting an existing session
// refreshes its source and start time.
func (db *DB) RecordSessionStart(sessionID, source string) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, source) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET source = excluded.source, started_at = CURRENT_TIMESTAMP, stopped_at = NULL`,
		sessionID, source,
	)
	return err
}

// RecordSessionStop stamps the session's stop time.
func (db *DB) RecordSessionStop(sessionID string) error {
	_, err := db.Exec(
		"UPDATE sessions SET stopped_at = CURRENT_TIMESTAMP WHERE session_id = ?",
		sessionID,
	)
	return err
}

// RecordEvent appends a lifecycle event (register, unregister, start, stop,
// source failure) with free-form detail.
func (db *DB) RecordEvent(sessionID, event, detail string) error {
	_, err := db.Exec(
		"INSERT INTO events (session_id, event, detail) VALUES (?, ?, ?)",
		sessionID, event, detail,
	)
	return err
}

// Pose is one recorded per-frame resolution of one trackable. Pose holds
// the full 16-cell consumer-space matrix; X/Y/Z duplicate its translation
// so queries can filter on position without parsing.
type Pose struct {
	SessionID string
	FrameSeq  uint64
	Handle    int32
	Visible   bool
	Pose      [16]float64
	Timestamp time.Time
}

// RecordPose appends one resolved pose.
func (db *DB) RecordPose(sessionID string, frameSeq uint64, handle int32, visible bool, pose [16]float64) error {
	_, err := db.Exec(
		`INSERT INTO poses (session_id, frame_seq, handle, visible, x, y, z, pose)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, int64(frameSeq), handle, visible, pose[3], pose[7], pose[11], formatPose(pose),
	)
	return err
}

// Poses returns the most recent recorded poses for a session, newest first.
func (db *DB) Poses(sessionID string, limit int) ([]Pose, error) {
	rows, err := db.Query(
		`SELECT frame_seq, handle, visible, pose, timestamp FROM poses
		 WHERE session_id = ? ORDER BY pose_id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var poses []Pose
	for rows.Next() {
		var (
			frameSeq int64
			handle   int64
			visible  bool
			poseStr  string
			ts       time.Time
		)
		if err := rows.Scan(&frameSeq, &handle, &visible, &poseStr, &ts); err != nil {
			return nil, err
		}
		pose, err := parsePose(poseStr)
		if err != nil {
			return nil, fmt.Errorf("pose row for frame %d: %w", frameSeq, err)
		}
		poses = append(poses, Pose{
			SessionID: sessionID,
			FrameSeq:  uint64(frameSeq),
			Handle:    int32(handle),
			Visible:   visible,
			Pose:      pose,
			Timestamp: ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return poses, nil
}

// Event is one recorded lifecycle event.
type Event struct {
	SessionID string
	Event     string
	Detail    string
	Timestamp time.Time
}

func (e *Event) String() string {
	return fmt.Sprintf("Session: %s, Event: %s, Detail: %s", e.SessionID, e.Event, e.Detail)
}

// Events returns the most recent lifecycle events across all sessions,
// newest first.
func (db *DB) Events(limit int) ([]Event, error) {
	rows, err := db.Query(
		"SELECT session_id, event, detail, timestamp FROM events ORDER BY event_id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.SessionID, &e.Event, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// formatPose renders the 16 matrix cells as a comma-separated list.
func formatPose(pose [16]float64) string {
	cells := make([]string, 16)
	for i, v := range pose {
		cells[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(cells, ",")
}

func parsePose(s string) ([16]float64, error) {
	var pose [16]float64
	cells := strings.Split(s, ",")
	if len(cells) != 16 {
		return pose, fmt.Errorf("want 16 cells, got %d", len(cells))
	}
	for i, cell := range cells {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return pose, fmt.Errorf("bad cell %d %q", i, cell)
		}
		pose[i] = v
	}
	return pose, nil
}
