package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"studygroup-server/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		Port:                3000,
		GroupCapacity:       5,
		GroupStartThreshold: 2,
		OutboxSize:          64,
		WriteTimeout:        5 * time.Second,
		IdleTimeout:         time.Minute,
		RateLimit:           10,
		RateLimitWindow:     time.Second,
		ArchiveInterval:     30 * time.Second,
		ArchiveRetention:    24 * time.Hour,
		BcryptCost:          bcrypt.MinCost,
	}
}

// setupTestServer starts the full route table on an httptest server and returns the
// websocket URL.
func setupTestServer() (*Server, string, func()) {
	s := newServer(testConfig(), nil)

	server := httptest.NewServer(s.RegisterRoutes())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/websocket"

	cleanup := func() {
		server.Close()
	}

	return s, url, cleanup
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	msg := ClientMessage{Type: msgType}
	if payload != nil {
		msg.Payload = mustMarshal(payload)
	}
	err := conn.Write(context.Background(), websocket.MessageText, mustMarshal(msg))
	require.NoError(t, err)
}

// readMessage reads the next envelope, failing the test if none arrives within two seconds.
func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func decodePayload(t *testing.T, msg ServerMessage, v interface{}) {
	t.Helper()
	payloadBytes, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payloadBytes, v))
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestIndexHandler(t *testing.T) {
	s := newServer(testConfig(), nil)
	rec := httptest.NewRecorder()

	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "studygroup-server", resp.Service)
	assert.Equal(t, 4, resp.ApprovedQuestions)
	assert.Equal(t, 0, resp.RegisteredUsers)
}

func TestHealthHandler_InMemory(t *testing.T) {
	s := newServer(testConfig(), nil)
	rec := httptest.NewRecorder()

	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"up","storage":"in-memory"}`, rec.Body.String())
}

func TestCorsPreflight(t *testing.T) {
	s := newServer(testConfig(), nil)
	rec := httptest.NewRecorder()

	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/join-group", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketPingPong(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()
	conn := dial(t, url)

	send(t, conn, TypePing, nil)

	assert.Equal(t, TypePong, readMessage(t, conn).Type)
}

func TestWebSocketInvalidJSON(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()
	conn := dial(t, url)

	err := conn.Write(context.Background(), websocket.MessageText, []byte("{not json"))
	require.NoError(t, err)

	response := readMessage(t, conn)
	assert.Equal(t, TypeError, response.Type)
	var payload ErrorMessage
	decodePayload(t, response, &payload)
	assert.Equal(t, "Invalid JSON", payload.Message)
}

func TestWebSocketUnknownType(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()
	conn := dial(t, url)

	send(t, conn, "create_game", nil)

	response := readMessage(t, conn)
	assert.Equal(t, TypeError, response.Type)
	var payload ErrorMessage
	decodePayload(t, response, &payload)
	assert.Equal(t, "INVALID_PAYLOAD", payload.Code)
	assert.Contains(t, payload.Message, "create_game")
}

// TestWebsocketConnectionRegistration tests connections are tracked and forgotten on close
func TestWebsocketConnectionRegistration(t *testing.T) {
	s, url, cleanup := setupTestServer()
	defer cleanup()

	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	send(t, conn, TypePing, nil)
	readMessage(t, conn)

	assert.Equal(t, 1, s.connectionManager.Count())

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return s.connectionManager.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestWebSocketRateLimiting tests that the 11th message in a second is refused
func TestWebSocketRateLimiting(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()
	conn := dial(t, url)

	for i := 0; i < 11; i++ {
		send(t, conn, TypePing, nil)
	}

	for i := 0; i < 10; i++ {
		assert.Equal(t, TypePong, readMessage(t, conn).Type, "message %d", i+1)
	}
	response := readMessage(t, conn)
	assert.Equal(t, TypeError, response.Type)
	var payload ErrorMessage
	decodePayload(t, response, &payload)
	assert.Equal(t, "RATE_LIMITED", payload.Code)
}

// TestIdleSweep tests that silent connections are unbound and closed
func TestIdleSweep(t *testing.T) {
	s, url, cleanup := setupTestServer()
	defer cleanup()
	conn := dial(t, url)
	send(t, conn, TypePing, nil)
	readMessage(t, conn)

	s.connectionHealth.mu.Lock()
	s.connectionHealth.now = func() time.Time { return time.Now().Add(time.Hour) }
	s.connectionHealth.mu.Unlock()

	// The close handshake needs the client to read, so sweep in the background.
	swept := make(chan int, 1)
	go func() { swept <- s.sweepIdle() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Equal(t, 1, <-swept)
}
