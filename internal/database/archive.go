package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS safety_incidents (
	id            TEXT PRIMARY KEY,
	classroom_id  TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	category      TEXT NOT NULL,
	severity      TEXT NOT NULL,
	detail        TEXT,
	timestamp     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_classroom ON safety_incidents(classroom_id);

CREATE TABLE IF NOT EXISTS session_reports (
	classroom_id      TEXT PRIMARY KEY,
	subject           TEXT NOT NULL,
	teacher_id        TEXT NOT NULL,
	started_at        DATETIME NOT NULL,
	ended_at          DATETIME NOT NULL,
	duration_ms       INTEGER NOT NULL,
	peak_participants INTEGER NOT NULL,
	incident_count    INTEGER NOT NULL
);
`

// Archive persists safety incidents and session reports in SQLite. Writes
// funnel through a single goroutine; SQLite handles one writer well and this
// keeps callers free of busy-retry logic.
type Archive struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

var _ interfaces.IncidentStore = (*Archive)(nil)

// NewArchive opens the archive database and starts the writer goroutine.
func NewArchive(path string, timeout time.Duration) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(timeout)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	a := &Archive{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}

	a.wg.Add(1)
	go a.writeLoop()

	return a, nil
}

// writeLoop processes all write operations in a single goroutine, retrying
// once after a short delay on failure.
func (a *Archive) writeLoop() {
	defer a.wg.Done()

	for {
		select {
		case op := <-a.writeCh:
			err := op.fn(a.db)
			if err != nil {
				log.Printf("Archive write failed, retrying: %v", err)
				time.Sleep(time.Second)
				err = op.fn(a.db)
				if err != nil {
					log.Printf("Archive write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-a.shutdown:
			return
		}
	}
}

func (a *Archive) executeWrite(ctx context.Context, fn func(*sql.DB) error) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return fmt.Errorf("archive is closed")
	}
	a.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case a.writeCh <- writeOp{fn: fn, result: result}:
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-a.shutdown:
		return fmt.Errorf("archive is shutting down")
	}
}

// SaveIncident appends an incident row. Incidents are immutable; there is no
// update or delete path.
func (a *Archive) SaveIncident(ctx context.Context, incident types.SafetyIncident) error {
	return a.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT OR IGNORE INTO safety_incidents (id, classroom_id, user_id, category, severity, detail, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			incident.ID, incident.ClassroomID, incident.UserID,
			string(incident.Category), string(incident.Severity), incident.Detail, incident.Timestamp,
		)
		return err
	})
}

// SaveReport stores the session report produced when a classroom ends.
func (a *Archive) SaveReport(ctx context.Context, report types.SessionReport) error {
	return a.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT OR REPLACE INTO session_reports (classroom_id, subject, teacher_id, started_at, ended_at, duration_ms, peak_participants, incident_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			report.ClassroomID, report.Subject, report.TeacherID,
			report.StartedAt, report.EndedAt, report.Duration.Milliseconds(),
			report.PeakParticipants, report.IncidentCount,
		)
		return err
	})
}

// IncidentsByClassroom returns the archived incidents for a classroom in
// chronological order.
func (a *Archive) IncidentsByClassroom(ctx context.Context, classroomID string) ([]types.SafetyIncident, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, classroom_id, user_id, category, severity, detail, timestamp
		 FROM safety_incidents WHERE classroom_id = ? ORDER BY timestamp ASC`,
		classroomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []types.SafetyIncident
	for rows.Next() {
		var incident types.SafetyIncident
		var category, severity string
		if err := rows.Scan(&incident.ID, &incident.ClassroomID, &incident.UserID,
			&category, &severity, &incident.Detail, &incident.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incident.Category = types.IncidentCategory(category)
		incident.Severity = types.Severity(severity)
		incidents = append(incidents, incident)
	}
	return incidents, rows.Err()
}

// ReportByClassroom returns the archived session report, or nil when the
// classroom has no report.
func (a *Archive) ReportByClassroom(ctx context.Context, classroomID string) (*types.SessionReport, error) {
	var report types.SessionReport
	var durationMS int64
	err := a.db.QueryRowContext(ctx,
		`SELECT classroom_id, subject, teacher_id, started_at, ended_at, duration_ms, peak_participants, incident_count
		 FROM session_reports WHERE classroom_id = ?`,
		classroomID,
	).Scan(&report.ClassroomID, &report.Subject, &report.TeacherID,
		&report.StartedAt, &report.EndedAt, &durationMS,
		&report.PeakParticipants, &report.IncidentCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	report.Duration = time.Duration(durationMS) * time.Millisecond
	return &report, nil
}

// Close stops the writer goroutine and closes the database.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.shutdown)
	a.wg.Wait()
	return a.db.Close()
}
