package websocket

import (
	"context"
	"log"
	"sync"
	"time"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Registry tracks every live connection. Connections register unauthenticated
// at transport open; Bind adds the user-id index once authentication succeeds.
type Registry struct {
	mu      sync.RWMutex
	byConn  map[string]interfaces.Connection // connection id -> Connection
	byUser  map[string]interfaces.Connection // user id -> Connection (post-auth)
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]interfaces.Connection),
		byUser: make(map[string]interfaces.Connection),
	}
}

// Register adds a connection at transport open, before authentication.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[conn.ID()] = conn
	return nil
}

// Bind indexes an authenticated connection by its user id. An existing
// connection for the same user is replaced and closed asynchronously.
func (r *Registry) Bind(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrNotRegistered
	}

	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[conn.ID()]; !exists {
		return ErrNotRegistered
	}

	if existing, exists := r.byUser[userID]; exists && existing.ID() != conn.ID() {
		// Close the superseded connection outside the lock to avoid deadlock.
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close superseded connection for user %s: %v", userID, err)
			}
		}()
		delete(r.byConn, existing.ID())
	}

	r.byUser[userID] = conn
	return nil
}

// Deregister removes a connection from all indexes. Idempotent; only removes
// the user binding when it still points at this connection instance.
func (r *Registry) Deregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byConn, conn.ID())

	if userID := conn.UserID(); userID != "" {
		if bound, exists := r.byUser[userID]; exists && bound.ID() == conn.ID() {
			delete(r.byUser, userID)
		}
	}
}

// Connection returns a connection by its ephemeral id.
func (r *Registry) Connection(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.byConn[connID]
	return conn, exists
}

// UserConnection returns the authenticated connection for a user id.
func (r *Registry) UserConnection(userID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.byUser[userID]
	return conn, exists
}

// ConnectionsByRole returns all authenticated connections with the given role.
func (r *Registry) ConnectionsByRole(role types.Role) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, conn := range r.byUser {
		if conn.Role() == role {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Stale returns connections whose last heartbeat exceeds the threshold.
func (r *Registry) Stale(threshold time.Duration) []interfaces.Connection {
	cutoff := time.Now().Add(-threshold)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []interfaces.Connection
	for _, conn := range r.byConn {
		if conn.LastHeartbeat().Before(cutoff) {
			stale = append(stale, conn)
		}
	}
	return stale
}

// Stats returns registry statistics for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections":         len(r.byConn),
		"authenticated_connections": len(r.byUser),
	}
}

// StartSweep runs the periodic heartbeat sweep until ctx is cancelled.
// Stale connections are handed to onStale for teardown, independent of any
// explicit client behavior.
func (r *Registry) StartSweep(ctx context.Context, interval, threshold time.Duration, onStale func(interfaces.Connection)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				for _, conn := range r.Stale(threshold) {
					log.Printf("Heartbeat sweep disconnecting stale connection: conn=%s user=%s", conn.ID(), conn.UserID())
					onStale(conn)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
