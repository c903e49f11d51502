package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tphan267/pulse-relay/pkg/logger"
)

type mockConn struct {
	id       string
	received [][]byte
	closed   bool
	full     bool
	mu       sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.full {
		return false
	}
	m.received = append(m.received, append([]byte(nil), data...))
	return true
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.received...)
}

func (m *mockConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.received))
	for _, data := range m.received {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		out = append(out, msg)
	}
	return out
}

func (m *mockConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, msg := range m.messages(t) {
		out = append(out, msg["type"].(string))
	}
	return out
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = nil
}

func startRelay(t *testing.T, opts Options) *Relay {
	t.Helper()
	r := New(opts, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

// flush waits until every queued command has run.
func flush(t *testing.T, r *Relay) {
	t.Helper()
	require.NoError(t, r.exec(context.Background(), func() {}))
}

func connect(t *testing.T, r *Relay, id string, user UserID, username string) *mockConn {
	t.Helper()
	c := &mockConn{id: id}
	require.NoError(t, r.Connect(c, Identity{UserID: user, Username: username, CanHost: true}))
	return c
}

func send(t *testing.T, r *Relay, c *mockConn, msg any) {
	t.Helper()
	var data []byte
	switch v := msg.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	require.NoError(t, r.Dispatch(c, data))
}
