package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"classhub/internal/room"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// EmergencyController executes the irreversible forced-disconnect protocol.
// Invoked by a verified parent (EMERGENCY_END) or by safety escalation.
type EmergencyController struct {
	lookup   ConnectionLookup
	router   *room.Router
	sessions *session.Manager
	verifier interfaces.TokenVerifier
	relay    *Relay
	now      func() time.Time
}

// NewEmergencyController creates an emergency controller.
func NewEmergencyController(lookup ConnectionLookup, router *room.Router, sessions *session.Manager, verifier interfaces.TokenVerifier, relay *Relay) *EmergencyController {
	return &EmergencyController{
		lookup:   lookup,
		router:   router,
		sessions: sessions,
		verifier: verifier,
		relay:    relay,
		now:      time.Now,
	}
}

// EmergencyStop forcibly disconnects a child on behalf of its parent. Only
// a parent connection whose verified parent link matches the child may invoke
// it. Idempotent: stopping an already-disconnected child returns success
// without side effects.
func (e *EmergencyController) EmergencyStop(ctx context.Context, requester interfaces.Connection, childID, reason string) error {
	if requester.Role() != types.RoleParentObserver {
		return ErrNotParent
	}

	linked, err := e.verifier.VerifyParentLink(ctx, requester.UserID(), childID)
	if err != nil || !linked {
		return ErrParentLinkMismatch
	}

	child, exists := e.lookup.UserConnection(childID)
	if !exists || child.Blocked() {
		// Already disconnected or already stopped: success, no side effects.
		log.Printf("Emergency stop no-op: child=%s already disconnected", childID)
		return nil
	}

	e.disconnect(ctx, child, reason, types.CategoryEmergencyStop)
	return nil
}

// ForceDisconnect is the safety-escalation path: no parent authorization,
// the safety monitor has already classified the violation. The caller owns
// incident logging for its own category.
func (e *EmergencyController) ForceDisconnect(ctx context.Context, conn interfaces.Connection, reason string) {
	if conn.Blocked() {
		return
	}
	e.disconnect(ctx, conn, reason, "")
}

// disconnect marks the record inactive, removes room membership, appends the
// incident when a category is given, and closes the transport.
func (e *EmergencyController) disconnect(ctx context.Context, conn interfaces.Connection, reason string, category types.IncidentCategory) {
	conn.Block()

	classroomID := conn.RoomID()
	userID := conn.UserID()

	if classroomID != "" {
		e.sessions.MarkInactive(classroomID, userID)
	}

	// The disconnect notice is queued before teardown; delivery is
	// best-effort on a closing transport.
	notice := types.NewEnvelope(types.MessageTypeNotification, types.SystemSender, map[string]interface{}{
		"event":  "emergency_disconnect",
		"reason": reason,
	})
	if err := conn.WriteJSON(notice); err != nil {
		log.Printf("Emergency notice delivery failed: user=%s err=%v", userID, err)
	}

	e.router.Leave(conn)

	if category != "" && classroomID != "" {
		incident := types.SafetyIncident{
			ID:          uuid.New().String(),
			ClassroomID: classroomID,
			UserID:      userID,
			Category:    category,
			Severity:    types.SeverityHigh,
			Detail:      reason,
			Timestamp:   e.now(),
		}
		if err := e.sessions.AppendIncident(ctx, incident); err != nil {
			log.Printf("Failed to append emergency incident: user=%s err=%v", userID, err)
		}
	}

	if err := conn.Close(); err != nil {
		log.Printf("Emergency close failed: user=%s err=%v", userID, err)
	}

	log.Printf("Emergency disconnect executed: user=%s classroom=%s reason=%q", userID, classroomID, reason)
}
