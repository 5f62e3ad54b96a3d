package mapperdb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lidarworks/roommapper/internal/mapper"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	id, err := db.StartSession("/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	sessions, err := db.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != id {
		t.Fatalf("sessions = %+v, want one row for %s", sessions, id)
	}
	if sessions[0].EndedAt != nil {
		t.Error("session already ended")
	}

	if err := db.EndSession(id, 42, 9001, ""); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	sessions, _ = db.ListSessions(10)
	if sessions[0].EndedAt == nil || sessions[0].ScanCount != 42 || sessions[0].PointCount != 9001 {
		t.Errorf("closed session = %+v", sessions[0])
	}
	if sessions[0].Fault != "" {
		t.Errorf("fault = %q, want empty", sessions[0].Fault)
	}
}

func TestSessionFaultRecorded(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.StartSession("/dev/ttyUSB0")
	if err := db.EndSession(id, 1, 10, "3 consecutive frame faults"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	sessions, _ := db.ListSessions(1)
	if sessions[0].Fault != "3 consecutive frame faults" {
		t.Errorf("fault = %q", sessions[0].Fault)
	}
}

func TestRecordMetrics(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.StartSession("/dev/ttyUSB0")

	m := mapper.RoomMetrics{
		MinX: -2000, MinY: -1500, MaxX: 2000, MaxY: 1500,
		WidthMM: 4000, HeightMM: 3000, AreaM2: 12, PerimeterMM: 14000,
		CentroidX: 0, CentroidY: 0,
		MeanDistanceMM: 1800, P95DistanceMM: 2400, PointCount: 5000,
	}
	if err := db.RecordMetrics(id, m); err != nil {
		t.Fatalf("RecordMetrics: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM room_metrics WHERE session_id = ?`, id).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("metrics rows = %d, want 1", count)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.StartSession("/dev/ttyUSB0")

	points := []mapper.Point{
		{X: 100, Y: 200, Quality: 12, DistanceMM: 223.6},
		{X: -50, Y: 75, Quality: 30, DistanceMM: 90.1},
	}
	doc := mapper.ScanDocument{
		Points:         points,
		ScanCount:      5,
		Timestamp:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		FilterDistance: 8000,
	}
	if err := db.SaveSnapshot(id, doc); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := db.LatestSnapshot(id)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("no snapshot returned")
	}
	if diff := cmp.Diff(points, got.Points); diff != "" {
		t.Errorf("points (-want +got):\n%s", diff)
	}
	if got.ScanCount != 5 || got.FilterDistance != 8000 {
		t.Errorf("context = %+v", got)
	}
}

func TestLatestSnapshot_None(t *testing.T) {
	db := openTestDB(t)
	got, err := db.LatestSnapshot("no-such-session")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestRecorder(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, "/dev/ttyUSB0")

	// Simulate a scan: scanning, two decimated refreshes, idle.
	rec.OnStateChanged(mapper.StateConnecting)
	rec.OnStateChanged(mapper.StateScanning)

	snapshot := []mapper.Point{{X: 1, Y: 2, Quality: 3, DistanceMM: 4}}
	metrics := mapper.RoomMetrics{PointCount: 150}
	rec.OnBatchMerged(snapshot, metrics, true)
	rec.OnBatchMerged(snapshot, mapper.RoomMetrics{}, false) // below threshold: no row
	rec.OnStateChanged(mapper.StateStopping)
	rec.OnStateChanged(mapper.StateIdle)

	sessions, err := db.ListSessions(1)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %+v, err = %v", sessions, err)
	}
	s := sessions[0]
	if s.EndedAt == nil {
		t.Error("session not closed on idle")
	}
	if s.PointCount != 1 {
		t.Errorf("point count = %d, want 1", s.PointCount)
	}

	var metricRows int
	db.QueryRow(`SELECT COUNT(*) FROM room_metrics`).Scan(&metricRows)
	if metricRows != 1 {
		t.Errorf("metrics rows = %d, want 1 (below-threshold refresh must not record)", metricRows)
	}

	snap, err := db.LatestSnapshot(s.SessionID)
	if err != nil || snap == nil {
		t.Fatalf("snapshot: %+v, err = %v", snap, err)
	}
	if len(snap.Points) != 1 {
		t.Errorf("snapshot points = %d, want 1", len(snap.Points))
	}
}

func TestRecorderFault(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, "COM3")

	rec.OnStateChanged(mapper.StateScanning)
	rec.OnBatchMerged([]mapper.Point{{X: 1}}, mapper.RoomMetrics{}, false)
	rec.OnFault(errors.New("sensor unplugged"))
	rec.OnStateChanged(mapper.StateError)
	rec.OnStateChanged(mapper.StateIdle)

	sessions, _ := db.ListSessions(1)
	if sessions[0].Fault != "sensor unplugged" {
		t.Errorf("fault = %q, want recorded", sessions[0].Fault)
	}
}
