package room

import (
	"errors"
	"sync"
	"testing"
	"time"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// fakeConn implements interfaces.Connection and records delivered envelopes.
type fakeConn struct {
	id     string
	userID string
	role   types.Role

	mu        sync.Mutex
	roomID    string
	sent      []*types.Envelope
	failWrite bool
	closed    bool
	blocked   bool
	flags     int
	heartbeat time.Time
	authed    bool
}

func newFakeConn(id, userID string, role types.Role) *fakeConn {
	return &fakeConn{id: id, userID: userID, role: role, authed: true}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errors.New("write failed")
	}
	if env, ok := v.(*types.Envelope); ok {
		f.sent = append(f.sent, env)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Role() types.Role { return f.role }

func (f *fakeConn) ParentID() string { return "" }

func (f *fakeConn) Platform() string { return "test" }

func (f *fakeConn) RoomID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomID
}

func (f *fakeConn) SetRoomID(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomID = roomID
}

func (f *fakeConn) IsAuthenticated() bool { return f.authed }

func (f *fakeConn) SetIdentity(identity types.Identity) error {
	f.userID = identity.UserID
	f.role = identity.Role
	f.authed = true
	return nil
}

func (f *fakeConn) LastHeartbeat() time.Time { return f.heartbeat }

func (f *fakeConn) TouchHeartbeat() { f.heartbeat = time.Now() }

func (f *fakeConn) AddSafetyFlag() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags++
	return f.flags
}

func (f *fakeConn) Blocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

func (f *fakeConn) Block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = true
}

func (f *fakeConn) sentOfType(msgType types.MessageType) []*types.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*types.Envelope
	for _, env := range f.sent {
		if env.Type == msgType {
			matched = append(matched, env)
		}
	}
	return matched
}

func TestJoinAndLeave(t *testing.T) {
	router := NewRouter()
	conn := newFakeConn("c1", "student1", types.RoleStudent)

	if err := router.Join(conn, "room-a"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if router.RoomOf("c1") != "room-a" {
		t.Error("Expected routing table to map c1 to room-a")
	}
	if conn.RoomID() != "room-a" {
		t.Error("Expected connection room id to match routing table")
	}

	router.Leave(conn)

	if router.RoomOf("c1") != "" {
		t.Error("Expected routing table entry cleared after leave")
	}
	if conn.RoomID() != "" {
		t.Error("Expected connection room id cleared after leave")
	}
}

func TestJoinValidation(t *testing.T) {
	router := NewRouter()

	if err := router.Join(nil, "room-a"); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if err := router.Join(newFakeConn("c1", "u1", types.RoleStudent), ""); err != ErrEmptyRoomID {
		t.Errorf("Expected ErrEmptyRoomID, got %v", err)
	}
}

func TestRejoinSameRoomIsNoOp(t *testing.T) {
	router := NewRouter()
	conn := newFakeConn("c1", "student1", types.RoleStudent)
	peer := newFakeConn("c2", "student2", types.RoleStudent)

	router.Join(conn, "room-a")
	router.Join(peer, "room-a")

	before := len(peer.sentOfType(types.MessageTypeUserJoined))
	if err := router.Join(conn, "room-a"); err != nil {
		t.Fatalf("Re-join failed: %v", err)
	}
	after := len(peer.sentOfType(types.MessageTypeUserJoined))

	if before != after {
		t.Error("Re-joining the current room must not announce again")
	}
}

func TestJoinSwitchesRooms(t *testing.T) {
	router := NewRouter()
	conn := newFakeConn("c1", "student1", types.RoleStudent)
	oldPeer := newFakeConn("c2", "student2", types.RoleStudent)
	newPeer := newFakeConn("c3", "student3", types.RoleStudent)

	router.Join(oldPeer, "room-a")
	router.Join(newPeer, "room-b")
	router.Join(conn, "room-a")
	router.Join(conn, "room-b")

	if router.RoomOf("c1") != "room-b" {
		t.Error("Expected connection moved to room-b")
	}
	if len(router.Members("room-a")) != 1 {
		t.Error("Expected room-a to contain only the old peer")
	}

	if got := len(oldPeer.sentOfType(types.MessageTypeUserLeft)); got != 1 {
		t.Errorf("Expected old room notified of departure once, got %d", got)
	}
	if got := len(newPeer.sentOfType(types.MessageTypeUserJoined)); got != 1 {
		t.Errorf("Expected new room notified of arrival once, got %d", got)
	}
}

func TestLeaveNotInRoomIsNoOp(t *testing.T) {
	router := NewRouter()
	conn := newFakeConn("c1", "student1", types.RoleStudent)

	router.Leave(conn)
	router.Leave(nil)

	if stats := router.Stats(); stats["active_rooms"] != 0 || stats["room_members"] != 0 {
		t.Error("Expected empty router after no-op leaves")
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	router := NewRouter()
	sender := newFakeConn("c1", "student1", types.RoleStudent)
	peerB := newFakeConn("c2", "student2", types.RoleStudent)
	peerC := newFakeConn("c3", "teacher1", types.RoleTeacher)

	router.Join(sender, "room-a")
	router.Join(peerB, "room-a")
	router.Join(peerC, "room-a")

	env := types.NewEnvelope(types.MessageTypeInteraction, "student1", map[string]interface{}{"action": "wave"})
	env.ClassroomID = "room-a"

	delivered := router.Broadcast("room-a", env, sender.ID())

	if delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}
	if len(sender.sentOfType(types.MessageTypeInteraction)) != 0 {
		t.Error("Sender must not receive its own broadcast")
	}
	if len(peerB.sentOfType(types.MessageTypeInteraction)) != 1 {
		t.Error("Expected peer B to receive the broadcast once")
	}
	if len(peerC.sentOfType(types.MessageTypeInteraction)) != 1 {
		t.Error("Expected peer C to receive the broadcast once")
	}
}

func TestBroadcastContinuesPastFailedDelivery(t *testing.T) {
	router := NewRouter()

	var failedMu sync.Mutex
	var failed []string
	cleanupDone := make(chan struct{}, 1)
	router.OnDeliveryFailure(func(conn interfaces.Connection) {
		failedMu.Lock()
		failed = append(failed, conn.ID())
		failedMu.Unlock()
		cleanupDone <- struct{}{}
	})

	broken := newFakeConn("c1", "student1", types.RoleStudent)
	broken.failWrite = true
	healthy := newFakeConn("c2", "student2", types.RoleStudent)

	router.Join(broken, "room-a")
	router.Join(healthy, "room-a")

	env := types.NewEnvelope(types.MessageTypeInteraction, "teacher1", nil)
	delivered := router.Broadcast("room-a", env, "")

	if delivered != 1 {
		t.Errorf("Expected 1 successful delivery, got %d", delivered)
	}

	select {
	case <-cleanupDone:
	case <-time.After(time.Second):
		t.Fatal("Cleanup hook not invoked for failed delivery")
	}

	failedMu.Lock()
	defer failedMu.Unlock()
	if len(failed) != 1 || failed[0] != "c1" {
		t.Errorf("Expected cleanup for c1, got %v", failed)
	}
}

func TestRoomEmptiedIsRemoved(t *testing.T) {
	router := NewRouter()
	conn := newFakeConn("c1", "student1", types.RoleStudent)

	router.Join(conn, "room-a")
	router.Leave(conn)

	if stats := router.Stats(); stats["active_rooms"] != 0 {
		t.Errorf("Expected empty room removed, stats=%v", stats)
	}
}
