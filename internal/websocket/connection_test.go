package websocket

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"classhub/pkg/types"
)

// fakeWire is an in-memory transport capturing written frames.
type fakeWire struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeWire) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeWire) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeWire) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWire) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newTestConnection(w wire) *Connection {
	return NewConnection(w, "test", time.Second, 16)
}

func TestWriteJSONDeliversFrame(t *testing.T) {
	w := &fakeWire{}
	conn := newTestConnection(w)
	defer conn.Close()

	env := types.NewEnvelope(types.MessageTypeNotification, types.SystemSender, map[string]interface{}{"event": "test"})
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for w.frameCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Frame never written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.mu.Lock()
	frame := w.frames[0]
	w.mu.Unlock()

	var decoded types.Envelope
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("Frame is not valid JSON: %v", err)
	}
	if decoded.Type != types.MessageTypeNotification {
		t.Errorf("Expected NOTIFICATION frame, got %s", decoded.Type)
	}
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	w := &fakeWire{}
	conn := newTestConnection(w)
	defer conn.Close()

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			env := types.NewEnvelope(types.MessageTypeInteraction, "sender", map[string]interface{}{"n": n})
			_ = conn.WriteJSON(env)
		}(i)
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for w.frameCount() < writers {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d frames, got %d", writers, w.frameCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Every frame must decode on its own: no partial or merged frames.
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, frame := range w.frames {
		var decoded types.Envelope
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Errorf("Frame %d corrupted: %v", i, err)
		}
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	w := &fakeWire{}
	conn := newTestConnection(w)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := conn.WriteJSON(types.NewEnvelope(types.MessageTypeNotification, types.SystemSender, nil))
	if err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w := &fakeWire{}
	conn := newTestConnection(w)

	if err := conn.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Expected Done channel closed after Close")
	}
}

func TestSetIdentityOnce(t *testing.T) {
	conn := newTestConnection(&fakeWire{})
	defer conn.Close()

	if conn.IsAuthenticated() {
		t.Fatal("New connection must start unauthenticated")
	}
	if conn.Role() != types.RoleUnauthenticated {
		t.Fatalf("Expected unauthenticated role, got %s", conn.Role())
	}

	identity := types.Identity{UserID: "student1", Role: types.RoleStudent, ParentID: "parent1"}
	if err := conn.SetIdentity(identity); err != nil {
		t.Fatalf("SetIdentity failed: %v", err)
	}

	if !conn.IsAuthenticated() || conn.UserID() != "student1" || conn.Role() != types.RoleStudent {
		t.Error("Identity fields not populated")
	}
	if conn.ParentID() != "parent1" {
		t.Errorf("Expected parent link recorded, got %q", conn.ParentID())
	}

	// Identity never mutates once set.
	err := conn.SetIdentity(types.Identity{UserID: "other", Role: types.RoleTeacher})
	if err != ErrAlreadyIdentified {
		t.Fatalf("Expected ErrAlreadyIdentified, got %v", err)
	}
	if conn.UserID() != "student1" || conn.Role() != types.RoleStudent {
		t.Error("Identity mutated by repeated SetIdentity")
	}
}

func TestHeartbeatAndSafetyFlags(t *testing.T) {
	conn := newTestConnection(&fakeWire{})
	defer conn.Close()

	before := conn.LastHeartbeat()
	time.Sleep(5 * time.Millisecond)
	conn.TouchHeartbeat()
	if !conn.LastHeartbeat().After(before) {
		t.Error("TouchHeartbeat should advance the heartbeat time")
	}

	if got := conn.AddSafetyFlag(); got != 1 {
		t.Errorf("Expected first safety flag count 1, got %d", got)
	}
	if got := conn.AddSafetyFlag(); got != 2 {
		t.Errorf("Expected second safety flag count 2, got %d", got)
	}

	if conn.Blocked() {
		t.Error("New connection must not be blocked")
	}
	conn.Block()
	if !conn.Blocked() {
		t.Error("Block should mark the connection")
	}
}
