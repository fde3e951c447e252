package websocket

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"classhub/internal/config"
	"classhub/pkg/interfaces"
)

// Dispatcher consumes raw inbound frames from connections. The hub implements
// it; per-connection ordering is its responsibility, not the handler's.
type Dispatcher interface {
	// Attach starts the per-connection processing queue.
	Attach(conn interfaces.Connection)
	// Enqueue hands one raw frame to the connection's ordered queue.
	Enqueue(conn interfaces.Connection, data []byte) error
	// Detach drains and discards the connection's queue and cleans up all
	// state tied to the connection.
	Detach(conn interfaces.Connection)
}

// Handler upgrades HTTP requests to WebSocket connections and runs the read
// pump. All message semantics live behind the Dispatcher.
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	cfg        config.WebSocketConfig
	upgrader   websocket.Upgrader
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, dispatcher Dispatcher, cfg config.WebSocketConfig) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Token verification, not origin, gates access.
				return true
			},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket accepts a transport connection. The connection starts
// unauthenticated; the first accepted message must be an AUTH_REQUEST.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	if platform == "" {
		platform = "unknown"
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(wsConn, platform, h.cfg.WriteTimeout, h.cfg.SendBufferSize)

	if err := h.registry.Register(conn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = conn.Close()
		return
	}

	h.dispatcher.Attach(conn)

	log.Printf("Connection opened: conn=%s platform=%s", conn.ID(), platform)

	go h.readPump(conn, wsConn)
}

// readPump reads frames until the transport closes, feeding the connection's
// ordered queue. Teardown runs exactly once on exit.
func (h *Handler) readPump(conn *Connection, wsConn *websocket.Conn) {
	defer func() {
		h.dispatcher.Detach(conn)
		h.registry.Deregister(conn)
		_ = conn.Close()
		log.Printf("Connection closed: conn=%s user=%s", conn.ID(), conn.UserID())
	}()

	if err := wsConn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	wsConn.SetPongHandler(func(string) error {
		conn.TouchHeartbeat()
		return wsConn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := wsConn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: conn=%s err=%v", conn.ID(), err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if err := wsConn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return
		}

		if err := h.dispatcher.Enqueue(conn, data); err != nil {
			log.Printf("Inbound queue full, dropping message: conn=%s err=%v", conn.ID(), err)
		}
	}
}
