package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"classhub/pkg/types"
)

// wire is the minimal transport surface the connection wrapper writes to.
// *gorilla/websocket.Conn satisfies it; tests substitute an in-memory fake.
type wire interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

const textMessage = 1 // gorilla/websocket.TextMessage

// Connection wraps one client transport. All writes funnel through a single
// writer goroutine so concurrent broadcasts never interleave frames.
// Identity fields are empty until the authentication gate populates them.
type Connection struct {
	id           string
	conn         wire
	writeCh      chan []byte
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu            sync.RWMutex
	userID        string
	role          types.Role
	parentID      string
	permissions   []string
	authenticated bool
	roomID        string
	platform      string
	connectedAt   time.Time
	lastHeartbeat time.Time
	safetyFlags   int
	blocked       bool
}

// NewConnection creates a connection wrapper and starts its writer goroutine.
func NewConnection(conn wire, platform string, writeTimeout time.Duration, sendBuffer int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	c := &Connection{
		id:            uuid.New().String(),
		conn:          conn,
		writeCh:       make(chan []byte, sendBuffer),
		writeTimeout:  writeTimeout,
		ctx:           ctx,
		cancel:        cancel,
		role:          types.RoleUnauthenticated,
		platform:      platform,
		connectedAt:   now,
		lastHeartbeat: now,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer goroutine. Messages queued for a closed
// connection are drained and dropped, never retried.
func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh
		}
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(textMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a JSON message for delivery. Safe for concurrent use.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the transport. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done exposes the connection's lifetime for read pumps and tests.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) ID() string {
	return c.id
}

// SetIdentity populates identity fields after successful token verification.
// A second successful authentication must not mutate identity, so repeated
// calls fail with ErrAlreadyIdentified.
func (c *Connection) SetIdentity(identity types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authenticated {
		return ErrAlreadyIdentified
	}

	c.userID = identity.UserID
	c.role = identity.Role
	c.parentID = identity.ParentID
	c.permissions = identity.Permissions
	c.authenticated = true

	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) Role() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) ParentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parentID
}

func (c *Connection) Platform() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.platform
}

func (c *Connection) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Connection) SetRoomID(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

func (c *Connection) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

func (c *Connection) TouchHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeartbeat = time.Now()
}

func (c *Connection) AddSafetyFlag() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.safetyFlags++
	return c.safetyFlags
}

func (c *Connection) Blocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocked
}

func (c *Connection) Block() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = true
}
