package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"helpconv/internal/conversation"
	"helpconv/internal/store/flatfile"
	"helpconv/pkg/interfaces"
	"helpconv/pkg/types"
)

// fakeConn records every push as decoded JSON.
type fakeConn struct {
	id string

	mu     sync.Mutex
	pushes []map[string]json.RawMessage
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	if f.full {
		return ErrSendBufferFull
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	f.pushes = append(f.pushes, m)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) setFull(full bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = full
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// keys returns the top-level key of each push since the last reset.
func (f *fakeConn) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pushes))
	for _, p := range f.pushes {
		for k := range p {
			out = append(out, k)
		}
	}
	return out
}

// body decodes the body of the last push with the given key.
func (f *fakeConn) body(t *testing.T, key string, v interface{}) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.pushes) - 1; i >= 0; i-- {
		if raw, ok := f.pushes[i][key]; ok {
			require.NoError(t, json.Unmarshal(raw, v))
			return
		}
	}
	t.Fatalf("no %s push recorded", key)
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = nil
}

var _ interfaces.Connection = (*fakeConn)(nil)

// fakeSessions maps tokens to principals and requires the tutor role.
type fakeSessions struct {
	principals map[string]types.Principal
}

func (s *fakeSessions) Create(ctx context.Context, req types.CreateLoginSessionRequest) (*types.LoginSession, error) {
	return nil, interfaces.ErrUnauthorized
}

func (s *fakeSessions) Validate(ctx context.Context, token string) (types.Principal, error) {
	p, ok := s.principals[token]
	if !ok {
		return types.Principal{}, interfaces.ErrSessionNotFound
	}
	return p, nil
}

func (s *fakeSessions) Authorize(p types.Principal) error {
	if !p.Role.CanActAs(types.RoleTutor) {
		return interfaces.ErrUnauthorized
	}
	return nil
}

func (s *fakeSessions) End(ctx context.Context, token string) error { return nil }

func (s *fakeSessions) ActiveCount() int { return len(s.principals) }

func newFakeSessions() *fakeSessions {
	return &fakeSessions{principals: map[string]types.Principal{
		"tutor-token":   {UserID: "tutor1", ScreenName: "Tutor One", Role: types.RoleTutor},
		"student-token": {UserID: "stu9", ScreenName: "Stu Nine", Role: types.RoleStudent},
	}}
}

func newTestContainer(t *testing.T) *conversation.Container {
	t.Helper()
	store, err := flatfile.New(afero.NewMemMapFs(), "/data", zerolog.Nop())
	require.NoError(t, err)
	c := conversation.NewContainer(store, zerolog.Nop())
	require.NoError(t, c.Load(context.Background()))
	return c
}
