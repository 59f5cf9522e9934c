package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"helpconv/internal/api"
	"helpconv/internal/app"
	"helpconv/internal/config"
	"helpconv/internal/protocol"
	"helpconv/pkg/types"
)

const adminKey = "integration-admin"

// push is one decoded server push.
type push struct {
	Key  string
	Body json.RawMessage
}

// testClient is a websocket client that collects pushes in the background.
type testClient struct {
	conn   *websocket.Conn
	pushes chan push
	errors chan error
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func dialClient(ctx context.Context, t *testing.T, baseURL string) *testClient {
	t.Helper()
	u, err := url.Parse(baseURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws/helpconversations"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	require.NoError(t, err)

	tc := &testClient{
		conn:   conn,
		pushes: make(chan push, 100),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(tc.Close)
	return tc
}

func (tc *testClient) readLoop() {
	defer close(tc.done)
	for {
		var m map[string]json.RawMessage
		if err := tc.conn.ReadJSON(&m); err != nil {
			tc.mu.Lock()
			closed := tc.closed
			tc.mu.Unlock()
			if !closed {
				select {
				case tc.errors <- fmt.Errorf("read error: %w", err):
				default:
				}
			}
			return
		}
		for k, v := range m {
			select {
			case tc.pushes <- push{Key: k, Body: v}:
			default:
				select {
				case tc.errors <- fmt.Errorf("push channel full, dropping %s", k):
				default:
				}
			}
		}
	}
}

func (tc *testClient) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, tc.conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, tc.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (tc *testClient) post(t *testing.T, req types.PostMessageRequest) {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	tc.send(t, "PostMessage:"+string(raw))
}

// receive waits for the next push.
func (tc *testClient) receive(t *testing.T, timeout time.Duration) push {
	t.Helper()
	select {
	case p := <-tc.pushes:
		return p
	case err := <-tc.errors:
		t.Fatalf("client error: %v", err)
	case <-tc.done:
		t.Fatal("client disconnected")
	case <-time.After(timeout):
		t.Fatal("timeout waiting for push")
	}
	return push{}
}

// expect reads pushes in order and checks their keys.
func (tc *testClient) expect(t *testing.T, keys ...string) []push {
	t.Helper()
	got := make([]push, 0, len(keys))
	for _, want := range keys {
		p := tc.receive(t, 3*time.Second)
		require.Equal(t, want, p.Key, "after %d pushes", len(got))
		got = append(got, p)
	}
	return got
}

// expectQuiet checks that nothing arrives within the window.
func (tc *testClient) expectQuiet(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case p := <-tc.pushes:
		t.Fatalf("unexpected push %s: %s", p.Key, p.Body)
	case <-time.After(window):
	}
}

func (tc *testClient) Close() {
	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return
	}
	tc.closed = true
	tc.mu.Unlock()
	_ = tc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = tc.conn.Close()
}

// testServer runs a full application on an ephemeral port.
type testServer struct {
	cfg *config.Config
	app *app.Application
	url string
}

func newConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Backend = backend
	cfg.Store.Path = filepath.Join(dir, "store")
	cfg.Database.Path = filepath.Join(dir, "helpconv.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.AdminKey = adminKey
	cfg.Timezone = "UTC"
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))

	s := &testServer{cfg: cfg, app: application, url: "http://" + application.Addr()}
	t.Cleanup(func() { s.stop(t) })
	return s
}

func (s *testServer) stop(t *testing.T) {
	t.Helper()
	if s.app == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.app.Stop(ctx))
	s.app = nil
}

// createSession issues a login session through the admin API.
func (s *testServer) createSession(t *testing.T, userID string, role types.Role) string {
	t.Helper()
	body, err := json.Marshal(types.CreateLoginSessionRequest{UserID: userID, Role: role})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.url+"/api/sessions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(api.AdminKeyHeader, adminKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out api.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Session)
	return out.Session.Token
}

func (s *testServer) endSession(t *testing.T, token string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, s.url+"/api/sessions/"+token, nil)
	require.NoError(t, err)
	req.Header.Set(api.AdminKeyHeader, adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// login dials and completes the session handshake.
func (s *testServer) login(t *testing.T, token string) (*testClient, json.RawMessage) {
	t.Helper()
	tc := dialClient(context.Background(), t, s.url)
	tc.send(t, "Session:"+token)
	roster := tc.expect(t, protocol.KeyAllConvLists)[0]
	return tc, roster.Body
}

func studentPost(studentID, subject, content string) types.PostMessageRequest {
	return types.PostMessageRequest{
		StudentID:   studentID,
		FirstName:   "Sam",
		LastName:    "Student",
		Subject:     subject,
		AuthorID:    studentID,
		AuthorFirst: "Sam",
		AuthorLast:  "Student",
		State:       "u",
		Content:     content,
	}
}

func staffReply(studentID string, convNbr int, staffID, content string) types.PostMessageRequest {
	return types.PostMessageRequest{
		StudentID:   studentID,
		FirstName:   "Sam",
		LastName:    "Student",
		ConvNbr:     convNbr,
		AuthorID:    staffID,
		AuthorFirst: "Tess",
		AuthorLast:  "Tutor",
		State:       "U",
		Content:     content,
	}
}
