package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphan267/pulse-relay/pkg/relay"
)

var errSocketClosed = errors.New("socket closed")

type frame struct {
	typ  int
	data []byte
}

// fakeSocket feeds inbound frames from a channel and honours read deadlines.
type fakeSocket struct {
	inbound chan frame

	mu           sync.Mutex
	written      []frame
	readDeadline time.Time
	readLimit    int64
	pongHandler  func(string) error
	closed       chan struct{}
	closeOnce    sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan frame, 64),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	s.mu.Lock()
	deadline := s.readDeadline
	s.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case f := <-s.inbound:
		return f.typ, f.data, nil
	case <-s.closed:
		return 0, nil, errSocketClosed
	case <-timeout:
		return 0, nil, errors.New("i/o timeout")
	}
}

func (s *fakeSocket) WriteMessage(typ int, data []byte) error {
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, frame{typ: typ, data: data})
	return nil
}

func (s *fakeSocket) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readDeadline = t
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) SetReadLimit(limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readLimit = limit
}

func (s *fakeSocket) SetPongHandler(h func(string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pongHandler = h
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) frames(typ int) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, f := range s.written {
		if f.typ == typ {
			out = append(out, f.data)
		}
	}
	return out
}

type fakeRelay struct {
	mu           sync.Mutex
	connected    []relay.Identity
	dispatched   []string
	disconnected int
	onDispatch   func(relay.Conn, []byte)
}

func (r *fakeRelay) Connect(_ relay.Conn, id relay.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, id)
	return nil
}

func (r *fakeRelay) Dispatch(c relay.Conn, data []byte) error {
	r.mu.Lock()
	r.dispatched = append(r.dispatched, string(data))
	fn := r.onDispatch
	r.mu.Unlock()
	if fn != nil {
		fn(c, data)
	}
	return nil
}

func (r *fakeRelay) Disconnect(relay.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
	return nil
}

func (r *fakeRelay) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dispatched...), r.disconnected
}

func serve(t *testing.T, c *Conn, id relay.Identity) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		assert.NoError(t, c.Serve(id))
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestConn_DispatchesInOrder(t *testing.T) {
	ws := newFakeSocket()
	fr := &fakeRelay{}
	c := NewConn(ws, "127.0.0.1:1", fr, Options{MaxMessageSize: 512}, nil)
	done := serve(t, c, relay.Identity{UserID: 7})

	for _, m := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		ws.inbound <- frame{typ: websocket.TextMessage, data: []byte(m)}
	}
	ws.inbound <- frame{typ: websocket.BinaryMessage, data: []byte{0x1}}

	require.Eventually(t, func() bool {
		got, _ := fr.snapshot()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	_ = ws.Close()
	waitDone(t, done)

	got, disconnected := fr.snapshot()
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, got)
	assert.Equal(t, 1, disconnected)
	assert.Equal(t, relay.UserID(7), fr.connected[0].UserID)

	ws.mu.Lock()
	assert.Equal(t, int64(512), ws.readLimit)
	assert.NotNil(t, ws.pongHandler)
	ws.mu.Unlock()
}

func TestConn_SendWritesTextFrames(t *testing.T) {
	ws := newFakeSocket()
	fr := &fakeRelay{
		onDispatch: func(c relay.Conn, data []byte) {
			c.Send([]byte(`{"echo":` + string(data) + `}`))
		},
	}
	c := NewConn(ws, "", fr, Options{}, nil)
	done := serve(t, c, relay.Identity{})

	ws.inbound <- frame{typ: websocket.TextMessage, data: []byte(`1`)}
	require.Eventually(t, func() bool {
		return len(ws.frames(websocket.TextMessage)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"echo":1}`, string(ws.frames(websocket.TextMessage)[0]))

	// relay side close: close frame, then the pumps stop
	require.NoError(t, c.Close())
	waitDone(t, done)
	assert.Len(t, ws.frames(websocket.CloseMessage), 1)
	assert.False(t, c.Send([]byte("late")))
}

func TestConn_SendNeverBlocks(t *testing.T) {
	c := NewConn(newFakeSocket(), "", &fakeRelay{}, Options{SendQueueSize: 2}, nil)

	assert.True(t, c.Send([]byte("a")))
	assert.True(t, c.Send([]byte("b")))
	assert.False(t, c.Send([]byte("c")), "full queue drops")
}

func TestConn_IdleTimeout(t *testing.T) {
	ws := newFakeSocket()
	fr := &fakeRelay{}
	c := NewConn(ws, "", fr, Options{IdleTimeout: 50 * time.Millisecond}, nil)
	done := serve(t, c, relay.Identity{UserID: 1})

	waitDone(t, done)
	_, disconnected := fr.snapshot()
	assert.Equal(t, 1, disconnected)
}

func TestConn_PongExtendsDeadline(t *testing.T) {
	ws := newFakeSocket()
	c := NewConn(ws, "", &fakeRelay{}, Options{IdleTimeout: time.Minute}, nil)
	done := serve(t, c, relay.Identity{})

	require.Eventually(t, func() bool {
		ws.mu.Lock()
		defer ws.mu.Unlock()
		return ws.pongHandler != nil
	}, time.Second, 5*time.Millisecond)

	ws.mu.Lock()
	ws.readDeadline = time.Time{}
	handler := ws.pongHandler
	ws.mu.Unlock()

	require.NoError(t, handler(""))
	ws.mu.Lock()
	assert.WithinDuration(t, time.Now().Add(time.Minute), ws.readDeadline, time.Second)
	ws.mu.Unlock()

	_ = ws.Close()
	waitDone(t, done)
}

func TestConn_PingsPeriodically(t *testing.T) {
	ws := newFakeSocket()
	c := NewConn(ws, "", &fakeRelay{}, Options{IdleTimeout: time.Second, PingInterval: 10 * time.Millisecond}, nil)
	done := serve(t, c, relay.Identity{})

	require.Eventually(t, func() bool {
		return len(ws.frames(websocket.PingMessage)) >= 2
	}, time.Second, 5*time.Millisecond)

	_ = ws.Close()
	waitDone(t, done)
}

func TestConn_RateLimit(t *testing.T) {
	ws := newFakeSocket()
	fr := &fakeRelay{}
	c := NewConn(ws, "", fr, Options{RateLimit: 0.001, RateBurst: 2}, nil)
	done := serve(t, c, relay.Identity{})

	for i := 0; i < 5; i++ {
		ws.inbound <- frame{typ: websocket.TextMessage, data: []byte(`{}`)}
	}
	require.Eventually(t, func() bool {
		return c.RateLimited() == 3
	}, time.Second, 5*time.Millisecond)

	_ = ws.Close()
	waitDone(t, done)
	got, _ := fr.snapshot()
	assert.Len(t, got, 2)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{IdleTimeout: 30 * time.Second, PingInterval: time.Minute, RateLimit: 5}.withDefaults()
	assert.Equal(t, 27*time.Second, o.PingInterval)
	assert.Equal(t, 10, o.RateBurst)
	assert.Equal(t, 256, o.SendQueueSize)
	assert.Equal(t, int64(1<<20), o.MaxMessageSize)
}
