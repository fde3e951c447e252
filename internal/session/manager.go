package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"classhub/internal/room"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Manager owns the classroom state machine and participant records. All
// classroom mutation goes through here; the room router is driven by the
// manager so membership and session state stay aligned.
type Manager struct {
	router   *room.Router
	verifier interfaces.TokenVerifier
	locator  interfaces.LocationLookup
	archive  interfaces.IncidentStore // optional; nil disables persistence

	defaultMaxStudents int
	graceWindow        time.Duration
	now                func() time.Time

	mu         sync.RWMutex
	classrooms map[string]*types.ClassroomSession
	records    map[string]map[string]*types.UserSessionRecord // classroom id -> user id -> record
	peaks      map[string]int                                 // classroom id -> peak participant count
	reports    map[string]*types.SessionReport
}

// NewManager creates a session manager.
func NewManager(router *room.Router, verifier interfaces.TokenVerifier, locator interfaces.LocationLookup, archive interfaces.IncidentStore, defaultMaxStudents int, graceWindow time.Duration) *Manager {
	return &Manager{
		router:             router,
		verifier:           verifier,
		locator:            locator,
		archive:            archive,
		defaultMaxStudents: defaultMaxStudents,
		graceWindow:        graceWindow,
		now:                time.Now,
		classrooms:         make(map[string]*types.ClassroomSession),
		records:            make(map[string]map[string]*types.UserSessionRecord),
		peaks:              make(map[string]int),
		reports:            make(map[string]*types.SessionReport),
	}
}

// CreateClassroom creates a classroom in INITIALIZING state. Called by the
// management layer on behalf of a teacher.
func (m *Manager) CreateClassroom(teacherID, subject string, settings types.ClassroomSettings) (*types.ClassroomSession, error) {
	if !types.IsValidUserID(teacherID) {
		return nil, ErrInvalidTeacherID
	}
	if len(subject) < 1 || len(subject) > 200 {
		return nil, ErrInvalidSubject
	}
	if settings.MaxStudents <= 0 {
		settings.MaxStudents = m.defaultMaxStudents
	}

	classroom := &types.ClassroomSession{
		ID:           uuid.New().String(),
		TeacherID:    teacherID,
		Subject:      subject,
		State:        types.SessionStateInitializing,
		Participants: make(map[string]types.Role),
		Settings:     settings,
		CreatedAt:    m.now(),
	}

	m.mu.Lock()
	m.classrooms[classroom.ID] = classroom
	m.records[classroom.ID] = make(map[string]*types.UserSessionRecord)
	m.mu.Unlock()

	log.Printf("Created classroom: id=%s teacher=%s subject=%q capacity=%d", classroom.ID, teacherID, subject, settings.MaxStudents)
	return classroom, nil
}

// JoinClassroom admits an authenticated connection into a classroom. Student
// joins validate child authorization when the classroom is age-restricted and
// count against capacity; teachers and parent observers are never
// capacity-limited. The first participant moves the classroom to ACTIVE.
func (m *Manager) JoinClassroom(ctx context.Context, conn interfaces.Connection, classroomID, parentToken string) (*types.UserSessionRecord, error) {
	if !conn.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}

	userID := conn.UserID()
	role := conn.Role()

	m.mu.Lock()
	classroom, exists := m.classrooms[classroomID]
	if !exists {
		m.mu.Unlock()
		return nil, ErrClassroomNotFound
	}
	if classroom.State.Terminal() {
		m.mu.Unlock()
		return nil, ErrClassroomEnded
	}
	if _, joined := classroom.Participants[userID]; joined {
		m.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	if role == types.RoleStudent && m.studentCountLocked(classroom) >= classroom.Settings.MaxStudents {
		m.mu.Unlock()
		return nil, ErrClassroomFull
	}
	ageRestricted := classroom.Settings.AgeRestricted
	m.mu.Unlock()

	// Collaborator calls happen outside the lock; they may block on network
	// I/O and must only stall this connection's queue.
	if role == types.RoleStudent && ageRestricted {
		if err := m.authorizeChild(ctx, conn, parentToken); err != nil {
			return nil, err
		}
	}

	record := &types.UserSessionRecord{
		UserID:        userID,
		ClassroomID:   classroomID,
		DisplayName:   AnonymizedDisplayName(userID, classroomID, role),
		Role:          role,
		VoiceVerified: false,
		Active:        true,
		JoinedAt:      m.now(),
		LastActivity:  m.now(),
	}

	// Location metadata is a convenience feature: fail-open with defaults.
	if m.locator != nil {
		if loc, err := m.locator.Lookup(ctx, userID); err != nil {
			log.Printf("Location lookup failed, using defaults: user=%s err=%v", userID, err)
			record.Language = "en"
		} else {
			record.Language = loc.Language
		}
	}

	m.mu.Lock()
	classroom, exists = m.classrooms[classroomID]
	if !exists || classroom.State.Terminal() {
		m.mu.Unlock()
		return nil, ErrClassroomEnded
	}
	if role == types.RoleStudent && m.studentCountLocked(classroom) >= classroom.Settings.MaxStudents {
		m.mu.Unlock()
		return nil, ErrClassroomFull
	}

	classroom.Participants[userID] = role
	m.records[classroomID][userID] = record

	if classroom.State == types.SessionStateInitializing {
		classroom.State = types.SessionStateActive
		started := m.now()
		classroom.StartedAt = &started
	}
	if count := len(classroom.Participants); count > m.peaks[classroomID] {
		m.peaks[classroomID] = count
	}
	m.mu.Unlock()

	if err := m.router.Join(conn, classroomID); err != nil {
		// Roll back the participant entry so state and membership agree.
		m.mu.Lock()
		delete(classroom.Participants, userID)
		delete(m.records[classroomID], userID)
		m.mu.Unlock()
		return nil, fmt.Errorf("room join failed: %w", err)
	}

	log.Printf("Participant joined: classroom=%s user=%s role=%s name=%s", classroomID, userID, role, record.DisplayName)
	return record, nil
}

// authorizeChild validates the parent token accompanying an age-restricted
// student join. Fail-closed: verification errors deny the join.
func (m *Manager) authorizeChild(ctx context.Context, conn interfaces.Connection, parentToken string) error {
	if parentToken == "" {
		return ErrChildNotAuthorized
	}

	identity, err := m.verifier.VerifyToken(ctx, parentToken)
	if err != nil {
		log.Printf("Child authorization failed: user=%s err=%v", conn.UserID(), err)
		return ErrChildNotAuthorized
	}

	linked, err := m.verifier.VerifyParentLink(ctx, identity.UserID, conn.UserID())
	if err != nil || !linked {
		return ErrParentLinkMismatch
	}

	return nil
}

// LeaveClassroom removes a participant and its session record, and leaves
// the room (announcing USER_LEFT).
func (m *Manager) LeaveClassroom(conn interfaces.Connection, classroomID string) error {
	userID := conn.UserID()

	m.mu.Lock()
	classroom, exists := m.classrooms[classroomID]
	if !exists {
		m.mu.Unlock()
		return ErrClassroomNotFound
	}
	if _, joined := classroom.Participants[userID]; !joined {
		m.mu.Unlock()
		return ErrParticipantNotFound
	}
	delete(classroom.Participants, userID)
	delete(m.records[classroomID], userID)
	m.mu.Unlock()

	m.router.Leave(conn)

	log.Printf("Participant left: classroom=%s user=%s", classroomID, userID)
	return nil
}

// EndClassroomSession ends a classroom. Only the owning teacher may end it;
// internal callers (emergency control) pass force=true. Every participant is
// notified and removed, the classroom transitions ENDING -> ENDED, and a
// session report is produced and retained for the grace window.
func (m *Manager) EndClassroomSession(ctx context.Context, classroomID, requestedBy string, force bool) (*types.SessionReport, error) {
	m.mu.Lock()
	classroom, exists := m.classrooms[classroomID]
	if !exists {
		m.mu.Unlock()
		return nil, ErrClassroomNotFound
	}
	if classroom.State == types.SessionStateEnded {
		m.mu.Unlock()
		return nil, ErrClassroomEnded
	}
	if !force && requestedBy != classroom.TeacherID {
		m.mu.Unlock()
		return nil, ErrNotClassroomTeacher
	}
	classroom.State = types.SessionStateEnding
	m.mu.Unlock()

	// Session-ending notice reaches every member before teardown.
	notice := types.NewEnvelope(types.MessageTypeNotification, types.SystemSender, map[string]interface{}{
		"event":        "session_ending",
		"classroom_id": classroomID,
	})
	notice.ClassroomID = classroomID
	m.router.Broadcast(classroomID, notice, "")

	for _, conn := range m.router.Members(classroomID) {
		m.router.Leave(conn)
	}

	m.mu.Lock()
	ended := m.now()
	classroom.State = types.SessionStateEnded
	classroom.EndedAt = &ended

	started := classroom.CreatedAt
	if classroom.StartedAt != nil {
		started = *classroom.StartedAt
	}
	report := &types.SessionReport{
		ClassroomID:      classroomID,
		Subject:          classroom.Subject,
		TeacherID:        classroom.TeacherID,
		StartedAt:        started,
		EndedAt:          ended,
		Duration:         ended.Sub(started),
		PeakParticipants: m.peaks[classroomID],
		IncidentCount:    len(classroom.Incidents),
	}
	classroom.Participants = make(map[string]types.Role)
	m.records[classroomID] = make(map[string]*types.UserSessionRecord)
	m.reports[classroomID] = report
	m.mu.Unlock()

	if m.archive != nil {
		if err := m.archive.SaveReport(ctx, *report); err != nil {
			log.Printf("Failed to archive session report: classroom=%s err=%v", classroomID, err)
		}
	}

	log.Printf("Ended classroom: id=%s duration=%s participants=%d incidents=%d",
		classroomID, report.Duration, report.PeakParticipants, report.IncidentCount)
	return report, nil
}

// PauseClassroom moves an ACTIVE classroom to PAUSED (client suspend).
func (m *Manager) PauseClassroom(classroomID string) error {
	return m.transition(classroomID, types.SessionStateActive, types.SessionStatePaused)
}

// ResumeClassroom moves a PAUSED classroom back to ACTIVE.
func (m *Manager) ResumeClassroom(classroomID string) error {
	return m.transition(classroomID, types.SessionStatePaused, types.SessionStateActive)
}

func (m *Manager) transition(classroomID string, from, to types.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	classroom, exists := m.classrooms[classroomID]
	if !exists {
		return ErrClassroomNotFound
	}
	if classroom.State != from || !classroom.State.CanTransitionTo(to) {
		return ErrInvalidStateChange
	}
	classroom.State = to
	log.Printf("Classroom state change: id=%s %s -> %s", classroomID, from, to)
	return nil
}

// AddParentObserver admits a parent connection in shadow mode: the observer
// receives every broadcast in the room but its own outbound messages are
// never broadcast (write-suppressed record).
func (m *Manager) AddParentObserver(ctx context.Context, conn interfaces.Connection, classroomID, childID string) (*types.UserSessionRecord, error) {
	if !conn.IsAuthenticated() || conn.Role() != types.RoleParentObserver {
		return nil, ErrNotAuthenticated
	}

	linked, err := m.verifier.VerifyParentLink(ctx, conn.UserID(), childID)
	if err != nil || !linked {
		return nil, ErrParentLinkMismatch
	}

	m.mu.Lock()
	classroom, exists := m.classrooms[classroomID]
	if !exists {
		m.mu.Unlock()
		return nil, ErrClassroomNotFound
	}
	if classroom.State.Terminal() {
		m.mu.Unlock()
		return nil, ErrClassroomEnded
	}

	record := &types.UserSessionRecord{
		UserID:          conn.UserID(),
		ClassroomID:     classroomID,
		DisplayName:     AnonymizedDisplayName(conn.UserID(), classroomID, types.RoleParentObserver),
		Role:            types.RoleParentObserver,
		WriteSuppressed: true,
		Active:          true,
		JoinedAt:        m.now(),
		LastActivity:    m.now(),
	}
	classroom.Participants[conn.UserID()] = types.RoleParentObserver
	m.records[classroomID][conn.UserID()] = record
	m.mu.Unlock()

	if err := m.router.Join(conn, classroomID); err != nil {
		m.mu.Lock()
		delete(classroom.Participants, conn.UserID())
		delete(m.records[classroomID], conn.UserID())
		m.mu.Unlock()
		return nil, fmt.Errorf("room join failed: %w", err)
	}

	log.Printf("Parent observer added: classroom=%s parent=%s child=%s", classroomID, conn.UserID(), childID)
	return record, nil
}

// AppendIncident appends an incident to the owning classroom's log and the
// persistent archive. The log is append-only; entries are never deleted
// while the classroom exists. Appending succeeds even when no live
// notification target exists.
func (m *Manager) AppendIncident(ctx context.Context, incident types.SafetyIncident) error {
	m.mu.Lock()
	classroom, exists := m.classrooms[incident.ClassroomID]
	if !exists {
		m.mu.Unlock()
		return ErrClassroomNotFound
	}
	classroom.Incidents = append(classroom.Incidents, incident)
	if record, ok := m.records[incident.ClassroomID][incident.UserID]; ok {
		record.SafetyFlags++
	}
	m.mu.Unlock()

	if m.archive != nil {
		if err := m.archive.SaveIncident(ctx, incident); err != nil {
			log.Printf("Failed to archive incident: classroom=%s category=%s err=%v", incident.ClassroomID, incident.Category, err)
		}
	}

	log.Printf("Safety incident recorded: classroom=%s user=%s category=%s severity=%s",
		incident.ClassroomID, incident.UserID, incident.Category, incident.Severity)
	return nil
}

// Classroom returns a classroom by id.
func (m *Manager) Classroom(classroomID string) (*types.ClassroomSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	classroom, exists := m.classrooms[classroomID]
	return classroom, exists
}

// Record returns a participant's session record.
func (m *Manager) Record(classroomID, userID string) (*types.UserSessionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, exists := m.records[classroomID][userID]
	return record, exists
}

// MarkInactive flags a participant record inactive (emergency stop path).
func (m *Manager) MarkInactive(classroomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, exists := m.records[classroomID][userID]; exists {
		record.Active = false
	}
}

// TouchActivity updates a participant's last-activity timestamp.
func (m *Manager) TouchActivity(classroomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, exists := m.records[classroomID][userID]; exists {
		record.LastActivity = m.now()
	}
}

// Status is the session snapshot exposed to the management layer.
type Status struct {
	ClassroomID      string             `json:"classroom_id"`
	State            types.SessionState `json:"state"`
	Subject          string             `json:"subject"`
	TeacherID        string             `json:"teacher_id"`
	ParticipantCount int                `json:"participant_count"`
	StudentCount     int                `json:"student_count"`
	IncidentCount    int                `json:"incident_count"`
	CreatedAt        time.Time          `json:"created_at"`
}

// GetSessionStatus returns a point-in-time snapshot of a classroom.
func (m *Manager) GetSessionStatus(classroomID string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	classroom, exists := m.classrooms[classroomID]
	if !exists {
		return nil, ErrClassroomNotFound
	}

	return &Status{
		ClassroomID:      classroom.ID,
		State:            classroom.State,
		Subject:          classroom.Subject,
		TeacherID:        classroom.TeacherID,
		ParticipantCount: len(classroom.Participants),
		StudentCount:     m.studentCountLocked(classroom),
		IncidentCount:    len(classroom.Incidents),
		CreatedAt:        classroom.CreatedAt,
	}, nil
}

// Report returns the retained session report for an ended classroom.
func (m *Manager) Report(classroomID string) (*types.SessionReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, exists := m.reports[classroomID]
	return report, exists
}

// StartPurge runs the background sweep that discards ended classrooms and
// their reports once the grace window has elapsed.
func (m *Manager) StartPurge(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.purgeExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) purgeExpired() {
	cutoff := m.now().Add(-m.graceWindow)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, classroom := range m.classrooms {
		if classroom.State == types.SessionStateEnded && classroom.EndedAt != nil && classroom.EndedAt.Before(cutoff) {
			delete(m.classrooms, id)
			delete(m.records, id)
			delete(m.peaks, id)
			delete(m.reports, id)
			log.Printf("Purged ended classroom: id=%s", id)
		}
	}
}

// Stats returns session manager statistics for the health endpoint.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, classroom := range m.classrooms {
		if !classroom.State.Terminal() {
			active++
		}
	}
	return map[string]int{
		"classrooms":        len(m.classrooms),
		"active_classrooms": active,
	}
}

// studentCountLocked counts student participants. Caller holds the lock.
func (m *Manager) studentCountLocked(classroom *types.ClassroomSession) int {
	count := 0
	for _, role := range classroom.Participants {
		if role == types.RoleStudent {
			count++
		}
	}
	return count
}

// AnonymizedDisplayName derives the stable, anonymized display name shown to
// other participants. Deterministic for a given user and classroom so the
// name stays constant for the session duration.
func AnonymizedDisplayName(userID, classroomID string, role types.Role) string {
	sum := sha256.Sum256([]byte(userID + ":" + classroomID))
	suffix := strings.ToUpper(hex.EncodeToString(sum[:3]))

	switch role {
	case types.RoleTeacher:
		return "Teacher-" + suffix
	case types.RoleParentObserver:
		return "Observer-" + suffix
	case types.RoleModerator:
		return "Moderator-" + suffix
	default:
		return "Student-" + suffix
	}
}
