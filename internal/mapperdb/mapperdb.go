// Package mapperdb persists scan sessions, room metrics history and point
// cloud snapshots to SQLite.
package mapperdb

import (
	"bytes"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lidarworks/roommapper/internal/mapper"
)

// DB wraps the SQLite handle with room-mapper queries.
type DB struct {
	*sql.DB
}

//go:embed schema.sql
var schemaSQL string

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	log.Println("initialized room mapper database schema")
	return &DB{db}, nil
}

// SessionRecord is one scan session row.
type SessionRecord struct {
	SessionID  string     `json:"session_id"`
	Port       string     `json:"port"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	ScanCount  int        `json:"scan_count"`
	PointCount int        `json:"point_count"`
	Fault      string     `json:"fault,omitempty"`
}

// StartSession creates a session row and returns its generated ID.
func (db *DB) StartSession(port string) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(
		`INSERT INTO scan_sessions (session_id, port, started_at) VALUES (?, ?, ?)`,
		id, port, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("starting session: %w", err)
	}
	return id, nil
}

// EndSession closes a session row with its final counters.
func (db *DB) EndSession(sessionID string, scanCount, pointCount int, fault string) error {
	_, err := db.Exec(
		`UPDATE scan_sessions
		 SET ended_at = ?, scan_count = ?, point_count = ?, fault = ?
		 WHERE session_id = ?`,
		time.Now().UTC().Format(time.RFC3339), scanCount, pointCount, nullStr(fault), sessionID,
	)
	if err != nil {
		return fmt.Errorf("ending session %s: %w", sessionID, err)
	}
	return nil
}

// RecordMetrics appends one room-metrics row for a session.
func (db *DB) RecordMetrics(sessionID string, m mapper.RoomMetrics) error {
	_, err := db.Exec(
		`INSERT INTO room_metrics (
			session_id, recorded_at, min_x, min_y, max_x, max_y,
			width_mm, height_mm, area_m2, perimeter_mm,
			centroid_x, centroid_y, mean_distance_mm, p95_distance_mm, point_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, time.Now().UTC().Format(time.RFC3339),
		m.MinX, m.MinY, m.MaxX, m.MaxY,
		m.WidthMM, m.HeightMM, m.AreaM2, m.PerimeterMM,
		m.CentroidX, m.CentroidY, m.MeanDistanceMM, m.P95DistanceMM, m.PointCount,
	)
	if err != nil {
		return fmt.Errorf("recording metrics for %s: %w", sessionID, err)
	}
	return nil
}

// SaveSnapshot stores a full point cloud document for a session. The
// document is the structured interchange format, so a stored snapshot can
// be re-imported or exported byte-for-byte.
func (db *DB) SaveSnapshot(sessionID string, doc mapper.ScanDocument) error {
	var buf bytes.Buffer
	if err := mapper.ExportJSON(&buf, doc); err != nil {
		return err
	}
	_, err := db.Exec(
		`INSERT INTO scan_snapshots (session_id, recorded_at, document) VALUES (?, ?, ?)`,
		sessionID, time.Now().UTC().Format(time.RFC3339), buf.String(),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot for %s: %w", sessionID, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot document for a session,
// or nil when none exists.
func (db *DB) LatestSnapshot(sessionID string) (*mapper.ScanDocument, error) {
	var body string
	err := db.QueryRow(
		`SELECT document FROM scan_snapshots
		 WHERE session_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		sessionID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot for %s: %w", sessionID, err)
	}
	doc, err := mapper.ImportJSON(bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("decoding stored snapshot for %s: %w", sessionID, err)
	}
	return &doc, nil
}

// ListSessions returns recent sessions, newest first.
func (db *DB) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := db.Query(
		`SELECT session_id, port, started_at, ended_at, scan_count, point_count, fault
		 FROM scan_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var startedAt string
		var endedAt, fault sql.NullString
		if err := rows.Scan(&rec.SessionID, &rec.Port, &startedAt, &endedAt,
			&rec.ScanCount, &rec.PointCount, &fault); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at for %s: %w", rec.SessionID, err)
		}
		rec.StartedAt = t
		if endedAt.Valid {
			t, err := time.Parse(time.RFC3339, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing ended_at for %s: %w", rec.SessionID, err)
			}
			rec.EndedAt = &t
		}
		if fault.Valid {
			rec.Fault = fault.String
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// nullStr returns nil for empty strings, pointer to string otherwise.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
