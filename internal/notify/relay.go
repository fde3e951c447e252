package notify

import (
	"log"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// ConnectionLookup is the registry surface the relay needs.
type ConnectionLookup interface {
	UserConnection(userID string) (interfaces.Connection, bool)
	ConnectionsByRole(role types.Role) []interfaces.Connection
}

// Relay routes safety and progress events to live parent and moderator
// connections. Delivery is best-effort and at-most-once: if no matching
// connection is live the event is dropped, never queued.
type Relay struct {
	lookup ConnectionLookup
}

// NewRelay creates a notification relay.
func NewRelay(lookup ConnectionLookup) *Relay {
	return &Relay{lookup: lookup}
}

// AlertParent delivers a PARENT_NOTIFICATION to the parent's live connection.
// Returns false when the parent is offline and the event was dropped.
func (r *Relay) AlertParent(parentID string, event map[string]interface{}) bool {
	if parentID == "" {
		return false
	}

	conn, exists := r.lookup.UserConnection(parentID)
	if !exists {
		// Offline queuing is out of scope; the event is dropped.
		log.Printf("Parent offline, notification dropped: parent=%s", parentID)
		return false
	}

	env := types.NewEnvelope(types.MessageTypeParentNotification, types.SystemSender, event)
	if err := conn.WriteJSON(env); err != nil {
		log.Printf("Parent notification delivery failed: parent=%s err=%v", parentID, err)
		return false
	}
	return true
}

// AlertModerators delivers a SAFETY_ALERT to every live moderator connection.
// Returns the number of moderators reached.
func (r *Relay) AlertModerators(event map[string]interface{}) int {
	delivered := 0
	for _, conn := range r.lookup.ConnectionsByRole(types.RoleModerator) {
		env := types.NewEnvelope(types.MessageTypeSafetyAlert, types.SystemSender, event)
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Moderator alert delivery failed: moderator=%s err=%v", conn.UserID(), err)
			continue
		}
		delivered++
	}
	return delivered
}
