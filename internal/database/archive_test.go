package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"classhub/pkg/types"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()

	archive, err := NewArchive(filepath.Join(t.TempDir(), "archive.db"), 30*time.Second)
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	t.Cleanup(func() { archive.Close() })
	return archive
}

func testIncident(id, classroomID string, ts time.Time) types.SafetyIncident {
	return types.SafetyIncident{
		ID:          id,
		ClassroomID: classroomID,
		UserID:      "student1",
		Category:    types.CategoryAdultVoiceDetected,
		Severity:    types.SeverityHigh,
		Detail:      "adult voice detected on child connection",
		Timestamp:   ts,
	}
}

func TestSaveAndQueryIncidents(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	if err := archive.SaveIncident(ctx, testIncident("inc2", "room1", base.Add(time.Minute))); err != nil {
		t.Fatalf("SaveIncident failed: %v", err)
	}
	if err := archive.SaveIncident(ctx, testIncident("inc1", "room1", base)); err != nil {
		t.Fatalf("SaveIncident failed: %v", err)
	}
	if err := archive.SaveIncident(ctx, testIncident("inc3", "room2", base)); err != nil {
		t.Fatalf("SaveIncident failed: %v", err)
	}

	incidents, err := archive.IncidentsByClassroom(ctx, "room1")
	if err != nil {
		t.Fatalf("IncidentsByClassroom failed: %v", err)
	}

	if len(incidents) != 2 {
		t.Fatalf("Expected 2 incidents for room1, got %d", len(incidents))
	}
	// Chronological order.
	if incidents[0].ID != "inc1" || incidents[1].ID != "inc2" {
		t.Errorf("Expected chronological order, got %s then %s", incidents[0].ID, incidents[1].ID)
	}
	if incidents[0].Category != types.CategoryAdultVoiceDetected || incidents[0].Severity != types.SeverityHigh {
		t.Error("Incident classification not round-tripped")
	}

	empty, err := archive.IncidentsByClassroom(ctx, "room9")
	if err != nil {
		t.Fatalf("IncidentsByClassroom failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no incidents for unknown classroom, got %d", len(empty))
	}
}

func TestSaveIncidentIsImmutable(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	incident := testIncident("inc1", "room1", time.Now().UTC())
	if err := archive.SaveIncident(ctx, incident); err != nil {
		t.Fatalf("SaveIncident failed: %v", err)
	}

	// A second write with the same id must not overwrite the original.
	incident.Detail = "altered"
	if err := archive.SaveIncident(ctx, incident); err != nil {
		t.Fatalf("Duplicate SaveIncident failed: %v", err)
	}

	incidents, err := archive.IncidentsByClassroom(ctx, "room1")
	if err != nil {
		t.Fatalf("IncidentsByClassroom failed: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("Expected 1 incident, got %d", len(incidents))
	}
	if incidents[0].Detail == "altered" {
		t.Error("Archived incident was mutated")
	}
}

func TestSaveAndQueryReport(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	report := types.SessionReport{
		ClassroomID:      "room1",
		Subject:          "Mathematics",
		TeacherID:        "teacher1",
		StartedAt:        started,
		EndedAt:          started.Add(45 * time.Minute),
		Duration:         45 * time.Minute,
		PeakParticipants: 12,
		IncidentCount:    1,
	}
	if err := archive.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	got, err := archive.ReportByClassroom(ctx, "room1")
	if err != nil {
		t.Fatalf("ReportByClassroom failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected report, got nil")
	}
	if got.Subject != "Mathematics" || got.TeacherID != "teacher1" {
		t.Error("Report metadata not round-tripped")
	}
	if got.Duration != 45*time.Minute {
		t.Errorf("Expected duration 45m, got %s", got.Duration)
	}
	if got.PeakParticipants != 12 || got.IncidentCount != 1 {
		t.Error("Report counters not round-tripped")
	}

	missing, err := archive.ReportByClassroom(ctx, "room9")
	if err != nil {
		t.Fatalf("ReportByClassroom failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil report for unknown classroom")
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	archive, err := NewArchive(filepath.Join(t.TempDir(), "archive.db"), 30*time.Second)
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}

	if err := archive.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Idempotent close.
	if err := archive.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	if err := archive.SaveIncident(context.Background(), testIncident("inc1", "room1", time.Now())); err == nil {
		t.Error("Expected write to closed archive to fail")
	}
}
