package hub

import (
	"classhub/pkg/types"
)

// allowedRoles is the role guard consulted before handler dispatch: one
// auditable table instead of per-handler checks. Types absent from the table
// are server-originated and rejected from clients.
var allowedRoles = map[types.MessageType][]types.Role{
	types.MessageTypeJoinClassroom:      {types.RoleStudent, types.RoleTeacher, types.RoleParentObserver, types.RoleModerator},
	types.MessageTypeLeaveClassroom:     {types.RoleStudent, types.RoleTeacher, types.RoleParentObserver, types.RoleModerator},
	types.MessageTypeAvatarUpdate:       {types.RoleStudent, types.RoleTeacher},
	types.MessageTypeVoiceData:          {types.RoleStudent, types.RoleTeacher},
	types.MessageTypeGestureData:        {types.RoleStudent, types.RoleTeacher},
	types.MessageTypeInteraction:        {types.RoleStudent, types.RoleTeacher},
	types.MessageTypeLessonUpdate:       {types.RoleTeacher},
	types.MessageTypeProgressUpdate:     {types.RoleStudent, types.RoleTeacher},
	types.MessageTypeTranslationRequest: {types.RoleStudent, types.RoleTeacher, types.RoleParentObserver, types.RoleModerator},
	types.MessageTypeEmergencyEnd:       {types.RoleParentObserver},
}

// roleAllowed reports whether the role may send the message type.
func roleAllowed(role types.Role, msgType types.MessageType) bool {
	roles, exists := allowedRoles[msgType]
	if !exists {
		return false
	}
	for _, allowed := range roles {
		if role == allowed {
			return true
		}
	}
	return false
}

// clientSendable reports whether clients may originate this message type at
// all. AUTH_REQUEST and HEARTBEAT are handled before the guard runs.
func clientSendable(msgType types.MessageType) bool {
	_, exists := allowedRoles[msgType]
	return exists
}
