package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn implements wsConn with an in-memory frame queue so readPump and
// writePump can be exercised without a real socket.
type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	outbound [][]byte
	closed   bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 || f.closed {
		// Block forever once drained; tests close via the hub's disconnect path.
		f.mu.Unlock()
		<-make(chan struct{})
		f.mu.Lock()
	}
	msg := f.inbound[0]
	f.inbound = f.inbound[1:]
	return 1, msg, nil // websocket.TextMessage == 1
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetPongHandler(func(string) error) {}

type recordingDispatcher struct {
	mu        sync.Mutex
	connected []*Connection
	frames    []string
}

func (d *recordingDispatcher) HandleConnect(conn *Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, conn)
}

func (d *recordingDispatcher) HandleDisconnect(conn *Connection) {}

func (d *recordingDispatcher) HandleFrame(ctx context.Context, conn *Connection, event string, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, event)
}

func TestSendToRoomFansOutToGroupMembers(t *testing.T) {
	h := New(&recordingDispatcher{}, nil, nil)

	connA := newConnection("a", &fakeConn{}, h)
	connB := newConnection("b", &fakeConn{}, h)
	h.JoinGroup("ROOMCD", connA)
	h.JoinGroup("ROOMCD", connB)

	h.SendToRoomImmediate("ROOMCD", "state:update", map[string]int{"x": 1})

	requireEventuallyLen(t, connA.send, 1)
	requireEventuallyLen(t, connB.send, 1)
}

func TestSendToConnectionDoesNotReachOtherMembers(t *testing.T) {
	h := New(&recordingDispatcher{}, nil, nil)

	connA := newConnection("a", &fakeConn{}, h)
	connB := newConnection("b", &fakeConn{}, h)
	h.mu.Lock()
	h.connections["a"], h.connections["b"] = connA, connB
	h.mu.Unlock()
	h.JoinGroup("ROOMCD", connA)
	h.JoinGroup("ROOMCD", connB)

	h.SendToConnection("a", "room:joined", map[string]string{"ok": "true"})

	requireEventuallyLen(t, connA.send, 1)
	require.Len(t, connB.send, 0)
}

func TestLeaveGroupEvictsThrottleWhenEmpty(t *testing.T) {
	h := New(&recordingDispatcher{}, nil, nil)
	connA := newConnection("a", &fakeConn{}, h)
	h.JoinGroup("ROOMCD", connA)
	h.SendToRoom("ROOMCD", "s", 1)

	h.LeaveGroup("ROOMCD", "a")

	h.mu.RLock()
	_, exists := h.throttles["ROOMCD"]
	h.mu.RUnlock()
	require.False(t, exists)
}

type panickingDispatcher struct{}

func (panickingDispatcher) HandleConnect(conn *Connection)    {}
func (panickingDispatcher) HandleDisconnect(conn *Connection) {}
func (panickingDispatcher) HandleFrame(ctx context.Context, conn *Connection, event string, payload []byte) {
	panic("boom")
}

func TestDispatchRecoversPanicFromDispatcher(t *testing.T) {
	h := New(panickingDispatcher{}, nil, nil)
	conn := newConnection("a", &fakeConn{}, h)

	require.NotPanics(t, func() {
		h.dispatch(context.Background(), conn, Frame{Event: "boom:event"})
	})
}

func requireEventuallyLen(t *testing.T, ch chan []byte, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(ch) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("channel did not reach length %d, got %d", n, len(ch))
}
