package types

import (
	"encoding/json"
	"regexp"
)

// Compiled once at package initialization.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxDataBytes bounds the marshaled size of an envelope payload (64KB).
const maxDataBytes = 65536

// IsValid reports whether the message type is part of the closed set.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeAuthRequest, MessageTypeAuthSuccess, MessageTypeAuthFailed,
		MessageTypeJoinClassroom, MessageTypeLeaveClassroom,
		MessageTypeUserJoined, MessageTypeUserLeft,
		MessageTypeAvatarUpdate, MessageTypeVoiceData, MessageTypeGestureData,
		MessageTypeInteraction, MessageTypeLessonUpdate, MessageTypeProgressUpdate,
		MessageTypeTranslationRequest, MessageTypeTranslationResponse,
		MessageTypeSafetyAlert, MessageTypeParentNotification,
		MessageTypeEmergencyEnd, MessageTypeHeartbeat,
		MessageTypeError, MessageTypeNotification:
		return true
	default:
		return false
	}
}

// IsValid reports whether the role is part of the closed set.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleParentObserver, RoleModerator, RoleUnauthenticated:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the classroom state machine allows moving
// from s to next. ENDED is terminal.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	switch s {
	case SessionStateInitializing:
		return next == SessionStateActive || next == SessionStateEnding
	case SessionStateActive:
		return next == SessionStatePaused || next == SessionStateEnding
	case SessionStatePaused:
		return next == SessionStateActive || next == SessionStateEnding
	case SessionStateEnding:
		return next == SessionStateEnded
	case SessionStateEnded:
		return false
	default:
		return false
	}
}

// Terminal reports whether no participant may join in this state.
func (s SessionState) Terminal() bool {
	return s == SessionStateEnding || s == SessionStateEnded
}

// IsValidUserID checks if a user ID meets format requirements (1-50
// characters, alphanumeric plus underscore and hyphen).
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// Validate ensures an inbound envelope is well formed before dispatch.
func (e *Envelope) Validate() error {
	if !e.Type.IsValid() {
		return ErrInvalidMessageType
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return ErrInvalidData
		}
		if len(dataBytes) > maxDataBytes {
			return ErrDataTooLarge
		}
	}

	return nil
}

// DataString extracts a string field from the envelope payload.
func (e *Envelope) DataString(key string) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}
