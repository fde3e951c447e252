package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"classhub/internal/auth"
	"classhub/internal/notify"
	"classhub/internal/ratelimit"
	"classhub/internal/room"
	"classhub/internal/safety"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Registry is the connection-registry surface the hub needs.
type Registry interface {
	Deregister(conn interfaces.Connection)
	UserConnection(userID string) (interfaces.Connection, bool)
}

// Hub owns the message dispatch pipeline. Each attached connection gets one
// ordered inbound queue consumed by a dedicated goroutine, so messages from
// one connection are never processed out of order or concurrently while
// different connections proceed fully in parallel. There is no package-level
// state; multiple hubs can coexist in tests.
type Hub struct {
	registry   Registry
	gate       *auth.Gate
	limiter    *ratelimit.Limiter
	rooms      *room.Router
	sessions   *session.Manager
	monitor    *safety.Monitor
	relay      *notify.Relay
	emergency  *notify.EmergencyController
	translator interfaces.Translator // optional; nil means always fail-open

	queueSize int
	shutdown  chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	queues map[string]*connQueue // connection id -> queue
}

// connQueue is one connection's ordered inbound queue.
type connQueue struct {
	ch   chan []byte
	done chan struct{}
}

// NewHub creates a hub. The room router's delivery-failure hook is wired to
// hub cleanup so broken connections are detached.
func NewHub(registry Registry, gate *auth.Gate, limiter *ratelimit.Limiter, rooms *room.Router, sessions *session.Manager, monitor *safety.Monitor, relay *notify.Relay, emergency *notify.EmergencyController, translator interfaces.Translator, queueSize int) *Hub {
	h := &Hub{
		registry:   registry,
		gate:       gate,
		limiter:    limiter,
		rooms:      rooms,
		sessions:   sessions,
		monitor:    monitor,
		relay:      relay,
		emergency:  emergency,
		translator: translator,
		queueSize:  queueSize,
		shutdown:   make(chan struct{}),
		queues:     make(map[string]*connQueue),
	}

	rooms.OnDeliveryFailure(func(conn interfaces.Connection) {
		h.Detach(conn)
		h.registry.Deregister(conn)
		_ = conn.Close()
	})

	return h
}

// Attach starts the per-connection processing queue.
func (h *Hub) Attach(conn interfaces.Connection) {
	q := &connQueue{
		ch:   make(chan []byte, h.queueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if _, exists := h.queues[conn.ID()]; exists {
		h.mu.Unlock()
		return
	}
	h.queues[conn.ID()] = q
	h.mu.Unlock()

	go h.consume(conn, q)
}

// Enqueue hands a raw frame to the connection's ordered queue. Over-full
// queues reject rather than block the read pump.
func (h *Hub) Enqueue(conn interfaces.Connection, data []byte) error {
	h.mu.Lock()
	q, exists := h.queues[conn.ID()]
	h.mu.Unlock()

	if !exists {
		return ErrNotAttached
	}

	select {
	case q.ch <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Detach stops the connection's queue, discards pending messages, and cleans
// up all state tied to the connection: room membership, session record, and
// rate window. Idempotent.
func (h *Hub) Detach(conn interfaces.Connection) {
	h.mu.Lock()
	q, exists := h.queues[conn.ID()]
	if exists {
		delete(h.queues, conn.ID())
	}
	h.mu.Unlock()

	if exists {
		close(q.done)
	}

	if classroomID := conn.RoomID(); classroomID != "" {
		if err := h.sessions.LeaveClassroom(conn, classroomID); err != nil {
			// Record may already be gone (session ended); membership still
			// has to go.
			h.rooms.Leave(conn)
		}
	}

	h.limiter.Remove(conn.ID())
}

// Shutdown stops all queue consumers.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.shutdown)
	})
}

// consume is the per-connection processing loop. Pending messages are
// discarded on detach, never retried.
func (h *Hub) consume(conn interfaces.Connection, q *connQueue) {
	for {
		select {
		case data := <-q.ch:
			h.process(context.Background(), conn, data)
		case <-q.done:
			return
		case <-h.shutdown:
			return
		}
	}
}

// process runs one message through parse, auth, rate-limit, guard, and
// handler dispatch.
func (h *Hub) process(ctx context.Context, conn interfaces.Connection, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.sendError(conn, codeProtocolError, "malformed message envelope")
		return
	}
	if err := env.Validate(); err != nil {
		h.sendError(conn, codeProtocolError, err.Error())
		return
	}

	// Auth requests and heartbeats bypass the authenticated pipeline.
	switch env.Type {
	case types.MessageTypeAuthRequest:
		if err := h.gate.Authenticate(ctx, conn, &env); err != nil {
			log.Printf("Auth reply failed: conn=%s err=%v", conn.ID(), err)
		}
		return
	case types.MessageTypeHeartbeat:
		conn.TouchHeartbeat()
		return
	}

	if !conn.IsAuthenticated() {
		h.sendError(conn, codeNotAuthenticated, "authenticate before sending messages")
		return
	}

	if !h.limiter.Allow(conn.ID()) {
		h.sendError(conn, codeRateLimited, "message rate limit exceeded")
		return
	}

	if !clientSendable(env.Type) {
		h.sendError(conn, codeProtocolError, "message type cannot be sent by clients")
		return
	}
	if !roleAllowed(conn.Role(), env.Type) {
		h.sendError(conn, codeForbidden, "role may not send this message type")
		return
	}

	// The server controls attribution: sender id, message id, and timestamp
	// are always overwritten.
	env.SenderID = conn.UserID()
	env.MessageID = uuid.New().String()
	env.Timestamp = time.Now()

	h.dispatch(ctx, conn, &env)
}

// dispatch routes an authenticated, guarded message to its handler.
func (h *Hub) dispatch(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	switch env.Type {
	case types.MessageTypeJoinClassroom:
		h.handleJoin(ctx, conn, env)

	case types.MessageTypeLeaveClassroom:
		h.handleLeave(conn)

	case types.MessageTypeAvatarUpdate, types.MessageTypeLessonUpdate:
		h.handleBroadcast(conn, env)

	case types.MessageTypeVoiceData, types.MessageTypeGestureData, types.MessageTypeInteraction:
		h.handleBroadcast(conn, env)
		// Safety inspection runs after routing; a violation can still pull
		// the connection out of the room.
		h.monitor.Inspect(ctx, conn, env)

	case types.MessageTypeProgressUpdate:
		h.handleProgress(conn, env)

	case types.MessageTypeTranslationRequest:
		h.handleTranslation(ctx, conn, env)

	case types.MessageTypeEmergencyEnd:
		h.handleEmergencyEnd(ctx, conn, env)

	default:
		h.sendError(conn, codeProtocolError, "unhandled message type")
	}
}

func (h *Hub) handleJoin(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	classroomID := env.ClassroomID
	if classroomID == "" {
		classroomID = env.DataString("classroom_id")
	}
	if classroomID == "" {
		h.sendError(conn, codeProtocolError, "classroom_id is required")
		return
	}

	var record *types.UserSessionRecord
	var err error
	if conn.Role() == types.RoleParentObserver {
		record, err = h.sessions.AddParentObserver(ctx, conn, classroomID, env.DataString("child_id"))
	} else {
		record, err = h.sessions.JoinClassroom(ctx, conn, classroomID, env.DataString("parent_token"))
	}
	if err != nil {
		switch {
		case errors.Is(err, session.ErrClassroomFull), errors.Is(err, session.ErrClassroomEnded):
			h.sendError(conn, codeCapacity, err.Error())
		default:
			h.sendError(conn, codeJoinFailed, err.Error())
		}
		return
	}

	ack := types.NewEnvelope(types.MessageTypeNotification, types.SystemSender, map[string]interface{}{
		"event":        "joined",
		"classroom_id": classroomID,
		"display_name": record.DisplayName,
	})
	ack.ClassroomID = classroomID
	if err := conn.WriteJSON(ack); err != nil {
		log.Printf("Join ack delivery failed: user=%s err=%v", conn.UserID(), err)
	}
}

func (h *Hub) handleLeave(conn interfaces.Connection) {
	classroomID := conn.RoomID()
	if classroomID == "" {
		h.sendError(conn, codeNotInClassroom, "not in a classroom")
		return
	}
	if err := h.sessions.LeaveClassroom(conn, classroomID); err != nil {
		h.rooms.Leave(conn)
	}
}

// handleBroadcast fans a message out to the sender's room. Write-suppressed
// participants (shadow-mode observers) never have their messages broadcast;
// the guard already blocks observers from these types, this is the backstop.
func (h *Hub) handleBroadcast(conn interfaces.Connection, env *types.Envelope) {
	classroomID := conn.RoomID()
	if classroomID == "" {
		h.sendError(conn, codeNotInClassroom, "join a classroom before broadcasting")
		return
	}

	if record, exists := h.sessions.Record(classroomID, conn.UserID()); exists && record.WriteSuppressed {
		return
	}

	env.ClassroomID = classroomID
	h.sessions.TouchActivity(classroomID, conn.UserID())
	h.rooms.Broadcast(classroomID, env, conn.ID())
}

// handleProgress forwards a progress event to the sender's linked parent.
// Offline parents mean the event is dropped, by design.
func (h *Hub) handleProgress(conn interfaces.Connection, env *types.Envelope) {
	event := map[string]interface{}{
		"event":        "progress_update",
		"user_id":      conn.UserID(),
		"classroom_id": conn.RoomID(),
		"data":         env.Data,
	}
	h.relay.AlertParent(conn.ParentID(), event)
}

// handleTranslation calls the translation collaborator. Translation is
// fail-open: on any failure the original text is returned untranslated with
// a warning flag, the inverse of the fail-closed auth and safety paths.
func (h *Hub) handleTranslation(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	text := env.DataString("text")
	sourceLang := env.DataString("source_lang")
	targetLang := env.DataString("target_lang")

	data := map[string]interface{}{
		"request_id":  env.MessageID,
		"text":        text,
		"target_lang": targetLang,
		"translated":  false,
	}

	if h.translator != nil {
		translated, err := h.translator.Translate(ctx, text, sourceLang, targetLang)
		if err != nil {
			log.Printf("Translation failed, delivering untranslated: user=%s err=%v", conn.UserID(), err)
			data["warning"] = "translation unavailable"
		} else {
			data["text"] = translated
			data["translated"] = true
		}
	} else {
		data["warning"] = "translation unavailable"
	}

	if err := conn.WriteJSON(types.NewEnvelope(types.MessageTypeTranslationResponse, types.SystemSender, data)); err != nil {
		log.Printf("Translation response delivery failed: user=%s err=%v", conn.UserID(), err)
	}
}

func (h *Hub) handleEmergencyEnd(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	childID := env.DataString("child_id")
	reason := env.DataString("reason")
	if childID == "" {
		h.sendError(conn, codeProtocolError, "child_id is required")
		return
	}

	if err := h.emergency.EmergencyStop(ctx, conn, childID, reason); err != nil {
		h.sendError(conn, codeEmergencyDenied, err.Error())
		return
	}

	ack := types.NewEnvelope(types.MessageTypeNotification, types.SystemSender, map[string]interface{}{
		"event":    "emergency_stop_executed",
		"child_id": childID,
	})
	if err := conn.WriteJSON(ack); err != nil {
		log.Printf("Emergency ack delivery failed: user=%s err=%v", conn.UserID(), err)
	}
}

func (h *Hub) sendError(conn interfaces.Connection, code, message string) {
	if err := conn.WriteJSON(types.NewErrorEnvelope(code, message)); err != nil {
		log.Printf("Error reply delivery failed: conn=%s err=%v", conn.ID(), err)
	}
}
