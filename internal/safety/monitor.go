package safety

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"classhub/internal/notify"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// defaultConfidenceThreshold is the minimum classifier confidence accepted
// for a child-voice result. Anything below is treated as uncertainty.
const defaultConfidenceThreshold = 0.7

// blockedTerms is the free-text screening list for interaction and gesture
// payloads. Matches produce medium-severity incidents.
var blockedTerms = []string{
	"phone number",
	"home address",
	"meet me",
	"social media",
	"real name",
}

// Monitor inspects voice, gesture, and free-form interaction messages after
// routing and classifies violations. Escalation policy is fixed: high
// severity forces disconnection and alerts moderators (and the linked parent
// for child offenders); medium severity logs and notifies the parent while
// the connection stays active.
type Monitor struct {
	classifier interfaces.VoiceClassifier
	sessions   *session.Manager
	relay      *notify.Relay
	emergency  *notify.EmergencyController

	confidenceThreshold float64
	now                 func() time.Time
}

// NewMonitor creates a safety monitor.
func NewMonitor(classifier interfaces.VoiceClassifier, sessions *session.Manager, relay *notify.Relay, emergency *notify.EmergencyController) *Monitor {
	return &Monitor{
		classifier:          classifier,
		sessions:            sessions,
		relay:               relay,
		emergency:           emergency,
		confidenceThreshold: defaultConfidenceThreshold,
		now:                 time.Now,
	}
}

// Inspect examines one routed message. Only voice, gesture, and interaction
// types are subscribed; everything else passes untouched.
func (m *Monitor) Inspect(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	switch env.Type {
	case types.MessageTypeVoiceData:
		m.inspectVoice(ctx, conn, env)
	case types.MessageTypeGestureData, types.MessageTypeInteraction:
		m.inspectText(ctx, conn, env)
	}
}

// inspectVoice screens student voice content through the external
// voice-safety collaborator. Classifier failure is fail-closed: uncertainty
// about who is speaking in a child's session escalates, it never passes.
func (m *Monitor) inspectVoice(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	if conn.Role() != types.RoleStudent {
		return
	}

	sample := []byte(env.DataString("audio"))

	result, err := m.classifier.ClassifyVoice(ctx, conn.UserID(), sample)
	if err != nil {
		log.Printf("Voice classification failed, escalating: user=%s err=%v", conn.UserID(), err)
		m.escalate(ctx, conn, types.CategoryAdultVoiceDetected, types.SeverityHigh, "voice classifier unavailable")
		return
	}

	if !result.IsChildVoice || result.Confidence < m.confidenceThreshold {
		m.escalate(ctx, conn, types.CategoryAdultVoiceDetected, types.SeverityHigh, "adult voice detected on child connection")
	}
}

// inspectText screens free-form interaction and gesture payloads against the
// blocked-term list.
func (m *Monitor) inspectText(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	text := strings.ToLower(env.DataString("text"))
	if text == "" {
		return
	}

	for _, term := range blockedTerms {
		if strings.Contains(text, term) {
			m.escalate(ctx, conn, types.CategoryInappropriateContent, types.SeverityMedium, "blocked term in interaction content")
			return
		}
	}
}

// escalate records the incident and applies the fixed escalation policy.
// The incident is appended to the classroom log regardless of whether any
// live notification target exists.
func (m *Monitor) escalate(ctx context.Context, conn interfaces.Connection, category types.IncidentCategory, severity types.Severity, detail string) {
	classroomID := conn.RoomID()

	incident := types.SafetyIncident{
		ID:          uuid.New().String(),
		ClassroomID: classroomID,
		UserID:      conn.UserID(),
		Category:    category,
		Severity:    severity,
		Detail:      detail,
		Timestamp:   m.now(),
	}

	if classroomID != "" {
		if err := m.sessions.AppendIncident(ctx, incident); err != nil {
			log.Printf("Failed to append incident: user=%s err=%v", conn.UserID(), err)
		}
	}

	conn.AddSafetyFlag()

	event := map[string]interface{}{
		"category":     string(category),
		"severity":     string(severity),
		"user_id":      conn.UserID(),
		"classroom_id": classroomID,
		"detail":       detail,
	}

	switch severity {
	case types.SeverityHigh:
		m.emergency.ForceDisconnect(ctx, conn, detail)
		m.relay.AlertModerators(event)
		if conn.Role() == types.RoleStudent && conn.ParentID() != "" {
			m.relay.AlertParent(conn.ParentID(), event)
		}
	case types.SeverityMedium:
		if conn.ParentID() != "" {
			m.relay.AlertParent(conn.ParentID(), event)
		}
	}
}
