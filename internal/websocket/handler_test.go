package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpconv/internal/protocol"
)

func startServer(t *testing.T, h *harness, opts Options) (*httptest.Server, *Registry) {
	t.Helper()
	reg := NewRegistry()
	handler := NewHandler(reg, h.container, h.sessions, h.metrics, zerolog.Nop(), opts)
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(func() {
		reg.CloseAll()
		server.Close()
	})
	return server, reg
}

func dial(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readPush reads one push and returns its key and body.
func readPush(t *testing.T, ws *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]json.RawMessage
	require.NoError(t, ws.ReadJSON(&m))
	require.Len(t, m, 1)
	for k, v := range m {
		return k, v
	}
	return "", nil
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestHandler_SessionAndPostOverWebSocket(t *testing.T) {
	h := newHarness(t)
	server, reg := startServer(t, h, DefaultOptions())

	tutor := dial(t, server, nil)
	send(t, tutor, "Session:tutor-token")
	key, body := readPush(t, tutor)
	assert.Equal(t, protocol.KeyAllConvLists, key)
	assert.JSONEq(t, `[]`, string(body))

	other := dial(t, server, nil)
	send(t, other, "Session:tutor-token")
	key, _ = readPush(t, other)
	assert.Equal(t, protocol.KeyAllConvLists, key)

	send(t, tutor, postFrame(t, newStudentPost("S1", "Need help", "please")))
	for _, want := range []string{protocol.KeyAddStuConvList, protocol.KeyConvAdded, protocol.KeyMsgAdded} {
		key, _ = readPush(t, tutor)
		assert.Equal(t, want, key)
	}
	for _, want := range []string{protocol.KeyAddStuConvList, protocol.KeyStuConvListUpdated} {
		key, _ = readPush(t, other)
		assert.Equal(t, want, key)
	}

	send(t, other, "GetMessage:S1.1:1")
	key, body = readPush(t, other)
	require.Equal(t, protocol.KeyConvMsg, key)
	var msg protocol.MessageEntry
	require.NoError(t, json.Unmarshal(body, &msg))
	require.NotNil(t, msg.Content)
	assert.Equal(t, "please", *msg.Content)

	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, 2, reg.GetStats()["authenticated_connections"])
}

func TestHandler_InvalidSessionGetsError(t *testing.T) {
	h := newHarness(t)
	server, _ := startServer(t, h, DefaultOptions())

	ws := dial(t, server, nil)
	send(t, ws, "Session:bogus")
	key, body := readPush(t, ws)
	assert.Equal(t, protocol.KeySessionError, key)
	assert.JSONEq(t, `{"error":"Invalid session ID"}`, string(body))
}

func TestHandler_DisconnectDetachesClient(t *testing.T) {
	h := newHarness(t)
	server, reg := startServer(t, h, DefaultOptions())

	ws := dial(t, server, nil)
	send(t, ws, "Session:tutor-token")
	readPush(t, ws)
	require.Equal(t, 1, h.container.Stats().Listeners)

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	assert.Eventually(t, func() bool {
		return reg.Count() == 0 && h.container.Stats().Listeners == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	h := newHarness(t)
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"help.example.edu"}
	server, reg := startServer(t, h, opts)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, reg.Count())

	ws := dial(t, server, http.Header{"Origin": {"https://help.example.edu"}})
	send(t, ws, "Session:tutor-token")
	key, _ := readPush(t, ws)
	assert.Equal(t, protocol.KeyAllConvLists, key)
}

func TestHandler_OversizedFrameDropsConnection(t *testing.T) {
	h := newHarness(t)
	server, reg := startServer(t, h, DefaultOptions())

	ws := dial(t, server, nil)
	send(t, ws, "Session:"+strings.Repeat("x", protocol.MaxFrameBytes+1))

	assert.Eventually(t, func() bool { return reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
