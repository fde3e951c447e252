package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// gateConn is a minimal Connection fake recording replies.
type gateConn struct {
	mu     sync.Mutex
	id     string
	userID string
	role   types.Role
	authed bool
	sent   []*types.Envelope
}

func newGateConn(id string) *gateConn {
	return &gateConn{id: id, role: types.RoleUnauthenticated}
}

func (c *gateConn) ID() string { return c.id }

func (c *gateConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if env, ok := v.(*types.Envelope); ok {
		c.sent = append(c.sent, env)
	}
	return nil
}

func (c *gateConn) Close() error { return nil }

func (c *gateConn) UserID() string { return c.userID }

func (c *gateConn) Role() types.Role { return c.role }

func (c *gateConn) ParentID() string { return "" }

func (c *gateConn) Platform() string { return "test" }

func (c *gateConn) RoomID() string { return "" }

func (c *gateConn) SetRoomID(string) {}

func (c *gateConn) IsAuthenticated() bool { return c.authed }

func (c *gateConn) LastHeartbeat() time.Time { return time.Time{} }

func (c *gateConn) TouchHeartbeat() {}

func (c *gateConn) AddSafetyFlag() int { return 0 }

func (c *gateConn) Blocked() bool { return false }

func (c *gateConn) Block() {}

func (c *gateConn) SetIdentity(identity types.Identity) error {
	if c.authed {
		return errors.New("already identified")
	}
	c.userID = identity.UserID
	c.role = identity.Role
	c.authed = true
	return nil
}

func (c *gateConn) lastReply() *types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// stubVerifier returns a fixed identity or error for any token.
type stubVerifier struct {
	identity types.Identity
	err      error
}

func (s *stubVerifier) VerifyToken(_ context.Context, _ string) (types.Identity, error) {
	return s.identity, s.err
}

func (s *stubVerifier) VerifyParentLink(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

// recordingBinder records bound connections and optionally fails.
type recordingBinder struct {
	bound []string
	err   error
}

func (b *recordingBinder) Bind(conn interfaces.Connection) error {
	if b.err != nil {
		return b.err
	}
	b.bound = append(b.bound, conn.UserID())
	return nil
}

func authEnvelope(token string) *types.Envelope {
	data := map[string]interface{}{}
	if token != "" {
		data["token"] = token
	}
	return types.NewEnvelope(types.MessageTypeAuthRequest, "", data)
}

func TestAuthenticateSuccess(t *testing.T) {
	verifier := &stubVerifier{identity: types.Identity{UserID: "student1", Role: types.RoleStudent}}
	binder := &recordingBinder{}
	gate := NewGate(verifier, binder)
	conn := newGateConn("c1")

	if err := gate.Authenticate(context.Background(), conn, authEnvelope("valid-token")); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if !conn.IsAuthenticated() {
		t.Error("Expected connection authenticated")
	}
	if conn.UserID() != "student1" || conn.Role() != types.RoleStudent {
		t.Error("Identity not populated from verifier")
	}
	if len(binder.bound) != 1 || binder.bound[0] != "student1" {
		t.Error("Expected connection bound in the registry")
	}

	reply := conn.lastReply()
	if reply == nil || reply.Type != types.MessageTypeAuthSuccess {
		t.Fatalf("Expected AUTH_SUCCESS reply, got %v", reply)
	}
	if reply.Data["user_id"] != "student1" {
		t.Errorf("Expected user id in reply, got %v", reply.Data["user_id"])
	}
}

func TestAuthenticateFailures(t *testing.T) {
	testCases := []struct {
		name     string
		verifier *stubVerifier
		token    string
	}{
		{"missing token", &stubVerifier{}, ""},
		{"verifier rejects", &stubVerifier{err: ErrInvalidToken}, "bad-token"},
		{"verifier outage", &stubVerifier{err: errors.New("service unavailable")}, "any-token"},
		{"invalid role", &stubVerifier{identity: types.Identity{UserID: "u1", Role: "admin"}}, "token"},
		{"unauthenticated role", &stubVerifier{identity: types.Identity{UserID: "u1", Role: types.RoleUnauthenticated}}, "token"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			binder := &recordingBinder{}
			gate := NewGate(tc.verifier, binder)
			conn := newGateConn("c1")

			if err := gate.Authenticate(context.Background(), conn, authEnvelope(tc.token)); err != nil {
				t.Fatalf("Authenticate returned transport error: %v", err)
			}

			if conn.IsAuthenticated() {
				t.Error("Connection must stay unauthenticated on failure")
			}
			if len(binder.bound) != 0 {
				t.Error("Failed auth must not bind the connection")
			}

			reply := conn.lastReply()
			if reply == nil || reply.Type != types.MessageTypeAuthFailed {
				t.Fatalf("Expected AUTH_FAILED reply, got %v", reply)
			}
			if reply.Data["reason"] == "" {
				t.Error("Expected failure reason in reply")
			}
		})
	}
}

func TestReauthenticationIsAcknowledgedNoOp(t *testing.T) {
	verifier := &stubVerifier{identity: types.Identity{UserID: "student1", Role: types.RoleStudent}}
	binder := &recordingBinder{}
	gate := NewGate(verifier, binder)
	conn := newGateConn("c1")
	ctx := context.Background()

	if err := gate.Authenticate(ctx, conn, authEnvelope("token")); err != nil {
		t.Fatalf("First authenticate failed: %v", err)
	}

	// A second AUTH_REQUEST with a different identity must not mutate
	// anything, and must still be acknowledged.
	verifier.identity = types.Identity{UserID: "intruder", Role: types.RoleTeacher}
	if err := gate.Authenticate(ctx, conn, authEnvelope("other-token")); err != nil {
		t.Fatalf("Re-authenticate failed: %v", err)
	}

	if conn.UserID() != "student1" || conn.Role() != types.RoleStudent {
		t.Error("Re-authentication mutated identity")
	}
	if len(binder.bound) != 1 {
		t.Errorf("Re-authentication must not bind again, bound %d times", len(binder.bound))
	}

	reply := conn.lastReply()
	if reply == nil || reply.Type != types.MessageTypeAuthSuccess {
		t.Fatalf("Expected acknowledging AUTH_SUCCESS, got %v", reply)
	}
	if reply.Data["user_id"] != "student1" {
		t.Error("Acknowledgement must carry the original identity")
	}
}

func TestAuthenticateBindFailure(t *testing.T) {
	verifier := &stubVerifier{identity: types.Identity{UserID: "student1", Role: types.RoleStudent}}
	binder := &recordingBinder{err: errors.New("registry unavailable")}
	gate := NewGate(verifier, binder)
	conn := newGateConn("c1")

	if err := gate.Authenticate(context.Background(), conn, authEnvelope("token")); err != nil {
		t.Fatalf("Authenticate returned transport error: %v", err)
	}

	reply := conn.lastReply()
	if reply == nil || reply.Type != types.MessageTypeAuthFailed {
		t.Fatalf("Expected AUTH_FAILED when binding fails, got %v", reply)
	}
}
