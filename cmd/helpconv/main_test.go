package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpconv/internal/conversation"
	"helpconv/internal/store/flatfile"
)

// setupEnv points every store at a temp dir and returns it.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HELPCONV_STORE_BACKEND", "flatfile")
	t.Setenv("HELPCONV_STORE_PATH", filepath.Join(dir, "conversations"))
	t.Setenv("HELPCONV_DATABASE_PATH", filepath.Join(dir, "helpconv.db"))
	t.Setenv("HELPCONV_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedConversation(t *testing.T, dir string) {
	t.Helper()
	backend, err := flatfile.Open(filepath.Join(dir, "conversations"), zerolog.Nop())
	require.NoError(t, err)
	defer backend.Close()
	c := conversation.NewContainer(backend, zerolog.Nop())
	require.NoError(t, c.Load(context.Background()))
	student := conversation.NewStudentKey("S1", "Sam", "One", "")
	_, err = c.Post(context.Background(), conversation.Post{
		Student: student,
		Subject: "loops",
		Author:  student,
		State:   conversation.StateUnreadByStaff,
		Content: "help with loops",
	})
	require.NoError(t, err)
}

func TestSplitAddr(t *testing.T) {
	tests := []struct {
		addr     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{":9000", "0.0.0.0", 9000, false},
		{"127.0.0.1:8080", "127.0.0.1", 8080, false},
		{"localhost:0", "localhost", 0, false},
		{"nohost", "", 0, true},
		{"host:port", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			host, port, err := splitAddr(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestInspectRoster(t *testing.T) {
	dir := setupEnv(t)
	seedConversation(t, dir)

	out, err := run(t, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "STUDENT")
	assert.Contains(t, out, "S1")
	assert.Contains(t, out, "Sam One")
}

func TestInspectStudentJSON(t *testing.T) {
	dir := setupEnv(t)
	seedConversation(t, dir)

	out, err := run(t, "inspect", "--student", "S1", "--json")
	require.NoError(t, err)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Contains(t, body, "stuConvList")
	assert.Contains(t, string(body["stuConvList"]), "loops")
}

func TestInspectUnknownStudent(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "inspect", "--student", "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nobody")
}

func TestSessionCreateListEnd(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "session", "create", "--user", "tutor1", "--name", "Tess", "--role", "tutor")
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.GreaterOrEqual(t, len(fields), 3)
	token := fields[0]
	assert.NotEmpty(t, token)
	assert.Equal(t, "tutor1", fields[1])

	out, err = run(t, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, token)

	_, err = run(t, "session", "end", token)
	require.NoError(t, err)

	out, err = run(t, "session", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, token)
}

func TestSessionCreateRejectsBadRole(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "session", "create", "--user", "tutor1", "--role", "janitor")
	assert.Error(t, err)
}

func TestSessionCreateRequiresUser(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "session", "create")
	assert.Error(t, err)
}
