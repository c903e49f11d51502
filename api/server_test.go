package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tphan267/pulse-relay/pkg/api"
	"github.com/tphan267/pulse-relay/pkg/config"
	"github.com/tphan267/pulse-relay/pkg/logger"
	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/providers/acl"
	"github.com/tphan267/pulse-relay/pkg/providers/analytics"
	"github.com/tphan267/pulse-relay/pkg/providers/auth"
	"github.com/tphan267/pulse-relay/pkg/providers/signaling"
	"github.com/tphan267/pulse-relay/pkg/relay"
	"github.com/tphan267/pulse-relay/pkg/relayclient"
	"github.com/tphan267/pulse-relay/pkg/storage"
)

func setupServer(t *testing.T, mode string) *ApiServer {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:", logger.Discard())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		WSPath:              "/ws",
		AuthMode:            mode,
		DuplicateHostPolicy: config.HostPolicyReject,
		IdleTimeout:         5 * time.Second,
		SessionTTL:          time.Hour,
		Users: []config.SeedUser{
			{Username: "admin", Password: "admin-pass", Role: "admin"},
			{Username: "alice", Password: "alice-pass", Role: "user", DisplayName: "Alice"},
			{Username: "bob", Password: "bob-pass", Role: "user", DisplayName: "Bob"},
		},
	}

	registry := providers.NewRegistry(store, logger.Discard(), cfg)
	registry.MustRegister(auth.NewService())
	registry.MustRegister(acl.NewService())
	registry.MustRegister(analytics.NewService())
	registry.MustRegister(signaling.NewService())

	ctx, cancel := context.WithCancel(context.Background())
	if err := registry.InitializeAll(ctx); err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	if err := registry.StartRunnable(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}

	srv := New(registry)
	if err := registry.RegisterAllRoutes(srv.App()); err != nil {
		t.Fatalf("Failed to register routes: %v", err)
	}

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
		_ = registry.Shutdown(shutdownCtx)
	})
	return srv
}

// listen serves srv on a random local port and returns its address
func listen(t *testing.T, srv *ApiServer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	return ln.Addr().String()
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *api.ApiResponseMeta `json:"meta"`
}

func call(t *testing.T, srv *ApiServer, method, path, token string, body any) (int, response) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: failed to decode body: %v", method, path, err)
	}
	return resp.StatusCode, out
}

type loginResult struct {
	Token string `json:"token"`
	User  struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

func login(t *testing.T, srv *ApiServer, username, password string) loginResult {
	t.Helper()
	status, resp := call(t, srv, "POST", "/api/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if status != http.StatusOK {
		t.Fatalf("Expected login of %s to succeed, got %d", username, status)
	}
	var out loginResult
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatalf("Failed to decode login: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv := setupServer(t, config.AuthModeSession)
	status, resp := call(t, srv, "GET", "/health", "", nil)
	if status != http.StatusOK || !resp.Success {
		t.Errorf("Expected healthy response, got %d %+v", status, resp)
	}
}

func TestLoginFlow(t *testing.T) {
	srv := setupServer(t, config.AuthModeSession)

	status, resp := call(t, srv, "POST", "/api/login", "", map[string]string{"username": "alice", "password": "wrong"})
	if status != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad password, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != "unauthorized" {
		t.Errorf("Expected unauthorized error code, got %+v", resp.Error)
	}

	status, _ = call(t, srv, "POST", "/api/login", "", map[string]string{"username": "alice"})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing password, got %d", status)
	}

	alice := login(t, srv, "alice", "alice-pass")

	status, resp = call(t, srv, "GET", "/api/me", alice.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected /api/me to succeed, got %d", status)
	}
	var me struct {
		User struct {
			Username    string `json:"username"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	}
	_ = json.Unmarshal(resp.Data, &me)
	if me.User.Username != "alice" || me.User.DisplayName != "Alice" {
		t.Errorf("Unexpected /api/me: %s", resp.Data)
	}

	status, _ = call(t, srv, "GET", "/api/me", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", status)
	}

	status, _ = call(t, srv, "POST", "/api/logout", alice.Token, nil)
	if status != http.StatusOK {
		t.Errorf("Expected logout to succeed, got %d", status)
	}
	status, _ = call(t, srv, "GET", "/api/me", alice.Token, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("Expected 401 after logout, got %d", status)
	}
}

func TestAdminRoutes(t *testing.T) {
	srv := setupServer(t, config.AuthModeSession)
	alice := login(t, srv, "alice", "alice-pass")
	admin := login(t, srv, "admin", "admin-pass")

	status, _ := call(t, srv, "GET", "/api/stats", alice.Token, nil)
	if status != http.StatusForbidden {
		t.Errorf("Expected 403 for alice stats, got %d", status)
	}

	status, resp := call(t, srv, "GET", "/api/stats", admin.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected admin stats, got %d", status)
	}
	var stats struct {
		Rooms int `json:"rooms"`
	}
	_ = json.Unmarshal(resp.Data, &stats)
	if stats.Rooms != 0 {
		t.Errorf("Expected no rooms, got %d", stats.Rooms)
	}

	status, resp = call(t, srv, "POST", "/api/metrics", admin.Token, map[string]any{"eventTypes": []string{"login"}})
	if status != http.StatusOK {
		t.Fatalf("Expected admin metrics, got %d", status)
	}
	var metrics struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(resp.Data, &metrics)
	if metrics.Count != 2 {
		t.Errorf("Expected 2 logins, got %d", metrics.Count)
	}

	status, _ = call(t, srv, "DELETE", "/api/streams/99", alice.Token, nil)
	if status != http.StatusForbidden {
		t.Errorf("Expected 403 for alice force end, got %d", status)
	}
	status, _ = call(t, srv, "DELETE", "/api/streams/99", admin.Token, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown stream, got %d", status)
	}

	status, resp = call(t, srv, "GET", "/api/check-access?resource=streams&action=host", alice.Token, nil)
	if status != http.StatusOK || !bytes.Contains(resp.Data, []byte(`"has_access":true`)) {
		t.Errorf("Expected alice to have streams:host, got %d %s", status, resp.Data)
	}
}

func dial(t *testing.T, addr, token string) *websocket.Conn {
	t.Helper()
	url := "ws://" + addr + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Failed to dial %s (status %d): %v", url, status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to write %v: %v", msg["type"], err)
	}
}

// expect reads frames until one of type typ arrives
func expect(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Waiting for %s: %v", typ, err)
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	srv := setupServer(t, config.AuthModeSession)
	addr := listen(t, srv)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err == nil {
		t.Fatal("Expected handshake without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 handshake response, got %+v", resp)
	}
}

func TestWebSocketLiveStream(t *testing.T) {
	srv := setupServer(t, config.AuthModeSession)
	addr := listen(t, srv)

	alice := login(t, srv, "alice", "alice-pass")
	bob := login(t, srv, "bob", "bob-pass")
	admin := login(t, srv, "admin", "admin-pass")

	hostConn := dial(t, addr, alice.Token)
	viewerConn := dial(t, addr, bob.Token)

	write(t, hostConn, map[string]any{"type": "join_stream_as_host", "streamId": "42"})
	write(t, hostConn, map[string]any{"type": "ping"})
	expect(t, hostConn, "pong")

	write(t, viewerConn, map[string]any{"type": "join_stream", "streamId": 42})

	joined := expect(t, hostConn, "user_joined")
	if joined["userId"] != float64(bob.User.ID) || joined["username"] != "Bob" {
		t.Errorf("Unexpected user_joined: %v", joined)
	}
	count := expect(t, hostConn, "viewer_count_update")
	if count["viewerCount"] != float64(1) {
		t.Errorf("Expected viewer count 1, got %v", count["viewerCount"])
	}

	write(t, viewerConn, map[string]any{"type": "offer", "targetId": alice.User.ID, "sdp": "v=0"})
	offer := expect(t, hostConn, "offer")
	if offer["senderId"] != float64(bob.User.ID) || offer["sdp"] != "v=0" {
		t.Errorf("Unexpected offer: %v", offer)
	}

	write(t, viewerConn, map[string]any{"type": "send_chat_message", "streamId": 42, "message": "hello"})
	chat := expect(t, hostConn, "chat_message")
	if chat["message"] != "hello" || chat["username"] != "Bob" {
		t.Errorf("Unexpected chat: %v", chat)
	}
	expect(t, viewerConn, "chat_message")

	status, resp := call(t, srv, "GET", "/api/streams/42", "", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected stream 42 to be listed, got %d", status)
	}
	if !bytes.Contains(resp.Data, []byte(fmt.Sprintf(`"hostId":%d`, alice.User.ID))) {
		t.Errorf("Unexpected stream info: %s", resp.Data)
	}

	status, _ = call(t, srv, "GET", "/api/connections", alice.Token, nil)
	if status != http.StatusForbidden {
		t.Errorf("Expected 403 for alice connections, got %d", status)
	}
	status, resp = call(t, srv, "GET", "/api/connections?perPage=1", admin.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected admin connections, got %d", status)
	}
	var conns []relay.ConnectionInfo
	_ = json.Unmarshal(resp.Data, &conns)
	if len(conns) != 1 || int64(conns[0].UserID) != alice.User.ID {
		t.Errorf("Expected alice on the first page, got %s", resp.Data)
	}
	if resp.Meta == nil || resp.Meta.Pagination == nil || resp.Meta.Pagination.Total != 2 {
		t.Errorf("Expected 2 connections in total, got %+v", resp.Meta)
	}
	if resp.Meta == nil || resp.Meta.RequestID == "" {
		t.Error("Expected a request id in meta")
	}

	status, _ = call(t, srv, "DELETE", "/api/streams/42", admin.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected force end to succeed, got %d", status)
	}
	for _, conn := range []*websocket.Conn{hostConn, viewerConn} {
		ended := expect(t, conn, "stream_ended")
		if ended["reason"] != "force_ended" {
			t.Errorf("Expected force_ended, got %v", ended["reason"])
		}
	}
}

func TestWebSocketTrustMode(t *testing.T) {
	srv := setupServer(t, config.AuthModeTrust)
	addr := listen(t, srv)

	host := dial(t, addr, "")
	viewer := dial(t, addr, "")

	write(t, host, map[string]any{"type": "join_stream_as_host", "streamId": 7, "senderId": 100})
	write(t, host, map[string]any{"type": "ping"})
	expect(t, host, "pong")

	write(t, viewer, map[string]any{"type": "join_stream", "streamId": "7", "senderId": 200, "username": "v"})
	joined := expect(t, host, "user_joined")
	if joined["userId"] != float64(200) {
		t.Errorf("Expected viewer 200, got %v", joined["userId"])
	}

	// the host drops, the viewer learns the stream is gone
	host.Close()
	ended := expect(t, viewer, "stream_ended")
	if ended["reason"] != "host_disconnected" {
		t.Errorf("Expected host_disconnected, got %v", ended["reason"])
	}
}

func TestRelayClientTrustMode(t *testing.T) {
	srv := setupServer(t, config.AuthModeTrust)
	addr := listen(t, srv)

	hosting := make(chan struct{}, 1)
	joined := make(chan *relayclient.Message, 1)

	host := relayclient.NewClient("http://"+addr, "", logger.Discard())
	host.SetUserID(300)
	host.SetMessageHandler("pong", func(context.Context, *relayclient.Message) error {
		select {
		case hosting <- struct{}{}:
		default:
		}
		return nil
	})
	host.SetMessageHandler("user_joined", func(_ context.Context, msg *relayclient.Message) error {
		joined <- msg
		return nil
	})
	host.AddOnConnectHandler(func(context.Context) error {
		if err := host.HostStream("9"); err != nil {
			return err
		}
		return host.Ping()
	})
	if err := host.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer host.Close()

	select {
	case <-hosting:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a pong from the relay")
	}

	status, resp := call(t, srv, "GET", "/api/streams/9", "", nil)
	if status != http.StatusOK || !bytes.Contains(resp.Data, []byte(`"hostId":300`)) {
		t.Fatalf("Expected stream 9 hosted by 300, got %d %s", status, resp.Data)
	}

	viewer := dial(t, addr, "")
	write(t, viewer, map[string]any{"type": "join_stream", "streamId": 9, "senderId": 400})

	select {
	case msg := <-joined:
		if msg.Field("userId") != "400" {
			t.Errorf("Expected viewer 400, got %s", msg.Field("userId"))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected user_joined for the viewer")
	}
}
