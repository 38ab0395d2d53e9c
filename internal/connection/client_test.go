package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(server *httptest.Server) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	cfg.BufferSize = 4
	return cfg
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
}

func TestClient_ConnectSendsHeaders(t *testing.T) {
	gotHeader := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		drain(conn)
	}))
	defer server.Close()

	cfg := testClientConfig(server)
	cfg.Header = http.Header{}
	cfg.Header.Set("Authorization", "Bearer secret")
	cfg.Header.Set("User-Agent", "flowstream/test")

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	h := <-gotHeader
	if h.Get("Authorization") != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", h.Get("Authorization"), "Bearer secret")
	}
	if h.Get("User-Agent") != "flowstream/test" {
		t.Errorf("User-Agent = %q, want %q", h.Get("User-Agent"), "flowstream/test")
	}
}

func TestClient_Send(t *testing.T) {
	received := make(chan []byte, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	testMsg := []byte(`{"type":"ping"}`)
	if err := client.Send(testMsg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(testMsg) {
			t.Errorf("received %q, want %q", got, testMsg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for server to receive message")
	}
}

func TestClient_ReceiveInOrder(t *testing.T) {
	testMessages := []string{
		`{"type":"execution_log","message":"1"}`,
		`{"type":"execution_log","message":"2"}`,
		`{"type":"execution_log","message":"3"}`,
		`{"type":"execution_log","message":"4"}`,
		`{"type":"execution_log","message":"5"}`,
		`{"type":"execution_log","message":"6"}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		drain(conn)
	})
	defer server.Close()

	// Buffer smaller than the burst: the queue must grow, not drop.
	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	for i, want := range testMessages {
		msg, ok := client.Receive()
		if !ok {
			t.Fatalf("Receive ended after %d messages", i)
		}
		if string(msg.Data) != want {
			t.Errorf("message %d: got %q, want %q", i, msg.Data, want)
		}
		if msg.ReceivedAt.IsZero() {
			t.Error("ReceivedAt should not be zero")
		}
	}
}

func TestClient_ServerNormalClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// Buffered frames are still delivered before the end is reported.
	if _, ok := client.Receive(); !ok {
		t.Fatal("expected buffered frame before close")
	}
	if _, ok := client.Receive(); ok {
		t.Fatal("expected Receive to report end of connection")
	}

	err := client.Err()
	if err == nil {
		t.Fatal("expected read error after server close")
	}
	if IsAbnormalClose(err) {
		t.Errorf("IsAbnormalClose(%v) = true, want false", err)
	}
}

func TestClient_ServerDrop(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Return without a close frame.
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if _, ok := client.Receive(); ok {
		t.Fatal("expected Receive to report end of connection")
	}
	if !IsAbnormalClose(client.Err()) {
		t.Errorf("IsAbnormalClose(%v) = false, want true", client.Err())
	}
}

func TestClient_LocalCloseNoError(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.Close()

	if _, ok := client.Receive(); ok {
		t.Fatal("expected Receive to end after Close")
	}
	if err := client.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after local close", err)
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.URL = "ws://localhost:12345"

	client := NewClient(cfg, nil)

	if err := client.Send([]byte("test")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_ConnectAfterClose(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	client.Close()

	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClient_ConcurrentSend(t *testing.T) {
	const senders = 8
	var (
		mu    sync.Mutex
		count int
	)
	done := make(chan struct{})

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			mu.Lock()
			count++
			if count == senders {
				close(done)
			}
			mu.Unlock()
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Send([]byte(`{"type":"ping"}`)); err != nil {
				t.Errorf("Send failed: %v", err)
			}
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for concurrent sends")
	}
}

func TestIsAbnormalClose(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"normal", &websocket.CloseError{Code: websocket.CloseNormalClosure}, false},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"abnormal", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, true},
		{"transport", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAbnormalClose(tt.err); got != tt.want {
				t.Errorf("IsAbnormalClose(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	if clientCfg.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %v, want 5s", clientCfg.WriteTimeout)
	}
	if clientCfg.BufferSize != 256 {
		t.Errorf("BufferSize = %d, want 256", clientCfg.BufferSize)
	}

	mgrCfg := DefaultManagerConfig()
	if mgrCfg.Path != "/ws" {
		t.Errorf("Path = %q, want /ws", mgrCfg.Path)
	}
	if mgrCfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", mgrCfg.MaxRetries)
	}
	if mgrCfg.ReconnectBaseWait != time.Second {
		t.Errorf("ReconnectBaseWait = %v, want 1s", mgrCfg.ReconnectBaseWait)
	}
}
