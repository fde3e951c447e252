package types

import (
	"time"
)

// MessageType is the closed set of envelope types the hub accepts or emits.
// Dispatch switches on this type must stay exhaustive.
type MessageType string

const (
	MessageTypeAuthRequest         MessageType = "AUTH_REQUEST"
	MessageTypeAuthSuccess         MessageType = "AUTH_SUCCESS"
	MessageTypeAuthFailed          MessageType = "AUTH_FAILED"
	MessageTypeJoinClassroom       MessageType = "JOIN_CLASSROOM"
	MessageTypeLeaveClassroom      MessageType = "LEAVE_CLASSROOM"
	MessageTypeUserJoined          MessageType = "USER_JOINED"
	MessageTypeUserLeft            MessageType = "USER_LEFT"
	MessageTypeAvatarUpdate        MessageType = "AVATAR_UPDATE"
	MessageTypeVoiceData           MessageType = "VOICE_DATA"
	MessageTypeGestureData         MessageType = "GESTURE_DATA"
	MessageTypeInteraction         MessageType = "INTERACTION"
	MessageTypeLessonUpdate        MessageType = "LESSON_UPDATE"
	MessageTypeProgressUpdate      MessageType = "PROGRESS_UPDATE"
	MessageTypeTranslationRequest  MessageType = "TRANSLATION_REQUEST"
	MessageTypeTranslationResponse MessageType = "TRANSLATION_RESPONSE"
	MessageTypeSafetyAlert         MessageType = "SAFETY_ALERT"
	MessageTypeParentNotification  MessageType = "PARENT_NOTIFICATION"
	MessageTypeEmergencyEnd        MessageType = "EMERGENCY_END"
	MessageTypeHeartbeat           MessageType = "HEARTBEAT"
	MessageTypeError               MessageType = "ERROR"
	MessageTypeNotification        MessageType = "NOTIFICATION"
)

// Role is the closed set of connection roles.
type Role string

const (
	RoleStudent         Role = "student"
	RoleTeacher         Role = "teacher"
	RoleParentObserver  Role = "parent_observer"
	RoleModerator       Role = "moderator"
	RoleUnauthenticated Role = "unauthenticated"
)

// SessionState is the classroom lifecycle state machine.
type SessionState string

const (
	SessionStateInitializing SessionState = "INITIALIZING"
	SessionStateActive       SessionState = "ACTIVE"
	SessionStatePaused       SessionState = "PAUSED"
	SessionStateEnding       SessionState = "ENDING"
	SessionStateEnded        SessionState = "ENDED"
)

// Severity classifies a safety incident. High severity forces disconnection,
// medium severity only logs and notifies.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IncidentCategory is the closed set of safety incident categories.
type IncidentCategory string

const (
	CategoryAdultVoiceDetected   IncidentCategory = "adult_voice_detected"
	CategoryInappropriateContent IncidentCategory = "inappropriate_content"
	CategoryEmergencyStop        IncidentCategory = "emergency_stop"
)

// Envelope is the wire format of every message exchanged with clients.
// Data carries the type-specific payload.
type Envelope struct {
	MessageID   string                 `json:"message_id"`
	Type        MessageType            `json:"type"`
	SenderID    string                 `json:"sender_id"`
	ClassroomID string                 `json:"classroom_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Identity is the result of session-token verification.
type Identity struct {
	UserID      string
	Role        Role
	ParentID    string
	Permissions []string
	ExpiresAt   time.Time
}

// ClassroomSession is the state of one live classroom. Mutated only by the
// session manager; retained for a grace window after ending, then purged.
type ClassroomSession struct {
	ID           string            `json:"id"`
	TeacherID    string            `json:"teacher_id"`
	Subject      string            `json:"subject"`
	State        SessionState      `json:"state"`
	Participants map[string]Role   `json:"participants"`
	Incidents    []SafetyIncident  `json:"incidents"`
	Settings     ClassroomSettings `json:"settings"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
}

// ClassroomSettings holds per-classroom policy knobs fixed at creation.
type ClassroomSettings struct {
	MaxStudents   int  `json:"max_students"`
	AgeRestricted bool `json:"age_restricted"`
}

// UserSessionRecord is per-participant transient state bound to one
// classroom. Created on join, destroyed on leave.
type UserSessionRecord struct {
	UserID          string    `json:"user_id"`
	ClassroomID     string    `json:"classroom_id"`
	DisplayName     string    `json:"display_name"`
	Role            Role      `json:"role"`
	AgeRange        string    `json:"age_range,omitempty"`
	Language        string    `json:"language,omitempty"`
	VoiceVerified   bool      `json:"voice_verified"`
	WriteSuppressed bool      `json:"write_suppressed"`
	Active          bool      `json:"active"`
	JoinedAt        time.Time `json:"joined_at"`
	LastActivity    time.Time `json:"last_activity"`
	SafetyFlags     int       `json:"safety_flags"`
}

// SafetyIncident is an immutable entry in a classroom's incident log.
type SafetyIncident struct {
	ID          string           `json:"id"`
	ClassroomID string           `json:"classroom_id"`
	UserID      string           `json:"user_id"`
	Category    IncidentCategory `json:"category"`
	Severity    Severity         `json:"severity"`
	Detail      string           `json:"detail,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// SessionReport summarizes an ended classroom session.
type SessionReport struct {
	ClassroomID      string        `json:"classroom_id"`
	Subject          string        `json:"subject"`
	TeacherID        string        `json:"teacher_id"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          time.Time     `json:"ended_at"`
	Duration         time.Duration `json:"duration"`
	PeakParticipants int           `json:"peak_participants"`
	IncidentCount    int           `json:"incident_count"`
}

// Location is language/region metadata attached to a participant on join.
type Location struct {
	Language string `json:"language"`
	Region   string `json:"region"`
	Timezone string `json:"timezone"`
}
