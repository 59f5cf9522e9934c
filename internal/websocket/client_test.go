package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpconv/internal/conversation"
	"helpconv/internal/metrics"
	"helpconv/internal/protocol"
	"helpconv/internal/store/flatfile"
	"helpconv/pkg/types"
)

type harness struct {
	t         *testing.T
	container *conversation.Container
	sessions  *fakeSessions
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:         t,
		container: newTestContainer(t),
		sessions:  newFakeSessions(),
		metrics:   metrics.New(),
	}
}

func (h *harness) client(id string, opts ClientOptions) (*Client, *fakeConn) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	conn := newFakeConn(id)
	return NewClient(conn, h.container, h.sessions, opts, zerolog.Nop(), h.metrics, nil), conn
}

// tutor returns an authenticated client with its push log cleared.
func (h *harness) tutor(id string) (*Client, *fakeConn) {
	c, conn := h.client(id, ClientOptions{})
	c.HandleFrame(context.Background(), "Session:tutor-token")
	_, ok := c.Principal()
	require.True(h.t, ok)
	conn.reset()
	return c, conn
}

func postFrame(t *testing.T, req types.PostMessageRequest) string {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	return "PostMessage:" + string(raw)
}

func newStudentPost(studentID, subject, content string) types.PostMessageRequest {
	return types.PostMessageRequest{
		StudentID: studentID, FirstName: "Sam", LastName: "Student",
		Subject:  subject,
		AuthorID: studentID, AuthorFirst: "Sam", AuthorLast: "Student",
		State:   "u",
		Content: content,
	}
}

func (h *harness) seed(studentID, subject string) {
	h.t.Helper()
	p, err := protocol.ToPost(ptr(newStudentPost(studentID, subject, "hello")))
	require.NoError(h.t, err)
	_, err = h.container.Post(context.Background(), p)
	require.NoError(h.t, err)
}

func ptr[T any](v T) *T { return &v }

func TestHandshakeRejectsUnknownToken(t *testing.T) {
	h := newHarness(t)
	c, conn := h.client("c1", ClientOptions{})

	c.HandleFrame(context.Background(), "Session:nope")

	assert.Equal(t, []string{protocol.KeySessionError}, conn.keys())
	var body protocol.SessionErrorBody
	conn.body(t, protocol.KeySessionError, &body)
	assert.Equal(t, ReasonInvalidSession, body.Error)
	_, ok := c.Principal()
	assert.False(t, ok)
	assert.Zero(t, h.container.Stats().Listeners)
}

func TestHandshakeRejectsInsufficientRole(t *testing.T) {
	h := newHarness(t)
	c, conn := h.client("c1", ClientOptions{})

	c.HandleFrame(context.Background(), "Session:student-token")

	var body protocol.SessionErrorBody
	conn.body(t, protocol.KeySessionError, &body)
	assert.Equal(t, ReasonNotAuthorized, body.Error)
	assert.Zero(t, h.container.Stats().Listeners)
}

func TestHandshakeSendsRosterAndRegisters(t *testing.T) {
	h := newHarness(t)
	h.seed("S2", "later")
	h.seed("S1", "first")
	c, conn := h.client("c1", ClientOptions{})

	c.HandleFrame(context.Background(), "Session:tutor-token")

	require.Equal(t, []string{protocol.KeyAllConvLists}, conn.keys())
	var roster []protocol.RosterEntry
	conn.body(t, protocol.KeyAllConvLists, &roster)
	require.Len(t, roster, 2)
	assert.Equal(t, "S1", roster[0].StudentID)
	assert.Equal(t, "S2", roster[1].StudentID)
	assert.Equal(t, 1, roster[0].NumUnread)
	assert.Equal(t, 1, h.container.Stats().Listeners)

	p, ok := c.Principal()
	require.True(t, ok)
	assert.Equal(t, "tutor1", p.UserID)

	// A second handshake is ignored.
	conn.reset()
	c.HandleFrame(context.Background(), "Session:tutor-token")
	assert.Empty(t, conn.keys())
	assert.Equal(t, 1, h.container.Stats().Listeners)
}

func TestFramesBeforeHandshakeAreDropped(t *testing.T) {
	h := newHarness(t)
	h.seed("S1", "first")
	c, conn := h.client("c1", ClientOptions{})

	c.HandleFrame(context.Background(), "OpenStudent:S1")
	c.HandleFrame(context.Background(), postFrame(t, newStudentPost("S3", "sneaky", "x")))

	assert.Empty(t, conn.keys())
	_, known := h.container.StudentKey("S3")
	assert.False(t, known)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := newHarness(t)
	c, conn := h.tutor("c1")

	for _, frame := range []string{
		"garbage",
		"Bogus:1",
		"OpenConv:S1",
		"PostMessage:{not json",
		"UpdConv:{}",
	} {
		c.HandleFrame(context.Background(), frame)
	}
	assert.Empty(t, conn.keys())
	assert.False(t, conn.isClosed())
}

func TestPostForNewStudentFansOut(t *testing.T) {
	h := newHarness(t)
	poster, posterConn := h.tutor("poster")
	watcher, watcherConn := h.tutor("watcher")
	_ = watcher

	poster.HandleFrame(context.Background(), postFrame(t, newStudentPost("S1", "Help with loops", "I am stuck")))

	assert.Equal(t, []string{
		protocol.KeyAddStuConvList,
		protocol.KeyConvAdded,
		protocol.KeyMsgAdded,
	}, posterConn.keys())
	assert.Equal(t, []string{
		protocol.KeyAddStuConvList,
		protocol.KeyStuConvListUpdated,
	}, watcherConn.keys())

	var added protocol.MsgAdded
	posterConn.body(t, protocol.KeyMsgAdded, &added)
	assert.Equal(t, 1, added.MsgNbr)
	assert.Equal(t, "u", added.State)
	assert.Equal(t, 1, added.Conv.NbrUnreadByStaff)
	assert.Equal(t, 1, added.List.NumConv)
	assert.Nil(t, added.Content)

	var line protocol.RosterEntry
	watcherConn.body(t, protocol.KeyStuConvListUpdated, &line)
	assert.Equal(t, protocol.RosterEntry{
		StudentID: "S1", FirstName: "Sam", LastName: "Student", ScreenName: "Sam Student",
		NumConv: 1, NumUndeleted: 1, NumUnread: 1,
	}, line)

	students, _ := poster.Subscriptions()
	assert.Equal(t, 1, students)
}

type failingListBackend struct {
	conversation.Backend
}

func (failingListBackend) WriteStudentList(context.Context, conversation.ListRecord) error {
	return errors.New("disk full")
}

func TestFailedPostUndoesAutoSubscribe(t *testing.T) {
	h := newHarness(t)
	store, err := flatfile.New(afero.NewMemMapFs(), "/data", zerolog.Nop())
	require.NoError(t, err)
	h.container = conversation.NewContainer(failingListBackend{store}, zerolog.Nop())
	c, conn := h.tutor("c1")

	c.HandleFrame(context.Background(), postFrame(t, newStudentPost("S1", "subject", "body")))

	_, known := h.container.StudentKey("S1")
	assert.False(t, known)
	students, _ := c.Subscriptions()
	assert.Zero(t, students)
	assert.Empty(t, conn.keys())
}

func TestMessageUpdateRouting(t *testing.T) {
	h := newHarness(t)
	h.seed("S1", "first")

	byStudent, studentConn := h.tutor("student-sub")
	byStudent.HandleFrame(context.Background(), "OpenStudent:S1")
	byConv, convConn := h.tutor("conv-sub")
	byConv.HandleFrame(context.Background(), "OpenConv:S1.1")
	_, idleConn := h.tutor("idle")

	assert.Equal(t, []string{protocol.KeyStuConvList}, studentConn.keys())
	assert.Equal(t, []string{protocol.KeyConvMsgList}, convConn.keys())
	studentConn.reset()
	convConn.reset()

	upd := `UpdMessage:{"studentId":"S1","convNbr":1,"msgNbr":1,"state":"r","whenRead":"2024-03-01T12:00:00"}`
	byStudent.HandleFrame(context.Background(), upd)

	assert.Equal(t, []string{
		protocol.KeyConvUpdated,
		protocol.KeyMsgStateUpdated,
		protocol.KeyMsgWhenReadUpdated,
	}, studentConn.keys())
	assert.Equal(t, []string{
		protocol.KeyStuConvListUpdated,
		protocol.KeyMsgStateUpdated,
		protocol.KeyMsgWhenReadUpdated,
	}, convConn.keys())
	assert.Equal(t, []string{protocol.KeyStuConvListUpdated}, idleConn.keys())

	var read protocol.MessageEntry
	convConn.body(t, protocol.KeyMsgWhenReadUpdated, &read)
	assert.Equal(t, "2024-03-01T12:00:00", read.Read)

	var line protocol.RosterEntry
	idleConn.body(t, protocol.KeyStuConvListUpdated, &line)
	assert.Zero(t, line.NumUnread)
}

func TestReplyInOpenConversation(t *testing.T) {
	h := newHarness(t)
	h.seed("S1", "first")
	c, conn := h.tutor("c1")
	c.HandleFrame(context.Background(), "OpenConv:S1.1")
	conn.reset()

	reply := types.PostMessageRequest{
		StudentID: "S1", FirstName: "Sam", LastName: "Student",
		ConvNbr:  1,
		AuthorID: "tutor1", AuthorFirst: "Tina", AuthorLast: "Tutor",
		State:   "U",
		Content: "try a range loop",
	}
	c.HandleFrame(context.Background(), postFrame(t, reply))

	require.Equal(t, []string{protocol.KeyMsgAdded}, conn.keys())
	var added protocol.MsgAdded
	conn.body(t, protocol.KeyMsgAdded, &added)
	assert.Equal(t, 2, added.MsgNbr)
	assert.Equal(t, "Tina Tutor", added.AuthorName)
	assert.Equal(t, 1, added.Conv.NbrUnreadByStu)
	students, convs := c.Subscriptions()
	assert.Zero(t, students)
	assert.Equal(t, 1, convs)
}

func TestOpenAndCloseSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.seed("S1", "first")
	c, conn := h.tutor("c1")

	c.HandleFrame(context.Background(), "OpenStudent:S1")
	c.HandleFrame(context.Background(), "OpenStudent:S1")
	c.HandleFrame(context.Background(), "OpenStudent:nobody")
	c.HandleFrame(context.Background(), "OpenConv:S1.1")
	c.HandleFrame(context.Background(), "OpenConv:S1.9")

	assert.Equal(t, []string{protocol.KeyStuConvList, protocol.KeyConvMsgList}, conn.keys())
	var list protocol.StudentConvList
	conn.body(t, protocol.KeyStuConvList, &list)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "first", list.Conversations[0].Subject)

	students, convs := c.Subscriptions()
	assert.Equal(t, 1, students)
	assert.Equal(t, 1, convs)

	c.HandleFrame(context.Background(), "CloseStudent:S1")
	c.HandleFrame(context.Background(), "CloseConv:S1.1")
	c.HandleFrame(context.Background(), "CloseConv:S1.1")
	students, convs = c.Subscriptions()
	assert.Zero(t, students)
	assert.Zero(t, convs)
}

func TestGetMessageReturnsContent(t *testing.T) {
	h := newHarness(t)
	h.seed("S1", "first")
	c, conn := h.tutor("c1")

	c.HandleFrame(context.Background(), "GetMessage:S1.1:1")
	c.HandleFrame(context.Background(), "GetMessage:S1.1:5")

	require.Equal(t, []string{protocol.KeyConvMsg}, conn.keys())
	var msg protocol.MessageEntry
	conn.body(t, protocol.KeyConvMsg, &msg)
	require.NotNil(t, msg.Content)
	assert.Equal(t, "hello", *msg.Content)
	assert.Equal(t, "S1", msg.StudentID)
}

func TestSubjectUpdateReachesStudentSubscribersOnly(t *testing.T) {
	h := newHarness(t)
	h.seed("S1", "first")
	sub, subConn := h.tutor("sub")
	sub.HandleFrame(context.Background(), "OpenStudent:S1")
	subConn.reset()
	other, otherConn := h.tutor("other")

	other.HandleFrame(context.Background(), `UpdConv:{"studentId":"S1","convNbr":1,"subject":"renamed"}`)

	require.Equal(t, []string{protocol.KeyConvUpdated}, subConn.keys())
	var upd protocol.ConvUpdate
	subConn.body(t, protocol.KeyConvUpdated, &upd)
	assert.Equal(t, "renamed", upd.Subject)
	assert.Nil(t, upd.List)
	assert.Empty(t, otherConn.keys())
}

func TestSlowClientIsClosedAndDetached(t *testing.T) {
	h := newHarness(t)
	_, slowConn := h.tutor("slow")
	poster, _ := h.tutor("poster")
	require.Equal(t, 2, h.container.Stats().Listeners)

	slowConn.setFull(true)
	poster.HandleFrame(context.Background(), postFrame(t, newStudentPost("S1", "hi", "x")))

	assert.Eventually(t, func() bool {
		return slowConn.isClosed() && h.container.Stats().Listeners == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCloseRunsHookOnce(t *testing.T) {
	h := newHarness(t)
	calls := 0
	conn := newFakeConn("c1")
	c := NewClient(conn, h.container, h.sessions, ClientOptions{}, zerolog.Nop(), nil, func(*Client) { calls++ })
	c.HandleFrame(context.Background(), "Session:tutor-token")
	require.Equal(t, 1, h.container.Stats().Listeners)

	c.Close()
	c.Close()

	assert.Equal(t, 1, calls)
	assert.True(t, conn.isClosed())
	assert.Zero(t, h.container.Stats().Listeners)

	// A handshake racing with close does not re-register.
	c.HandleFrame(context.Background(), "Session:tutor-token")
	assert.Zero(t, h.container.Stats().Listeners)
}

func TestRateLimitDropsExcessFrames(t *testing.T) {
	h := newHarness(t)
	h.seed("S1", "first")
	c, conn := h.client("c1", ClientOptions{RateLimit: 0.001, Burst: 2})

	c.HandleFrame(context.Background(), "Session:tutor-token")
	c.HandleFrame(context.Background(), "GetMessage:S1.1:1")
	c.HandleFrame(context.Background(), "GetMessage:S1.1:1")

	assert.Equal(t, []string{protocol.KeyAllConvLists, protocol.KeyConvMsg}, conn.keys())
}

func TestHandshakeRacingTeardownAndEvents(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	conns := make([]*fakeConn, 0, 8)
	for i := 0; i < 8; i++ {
		c, conn := h.client(fmt.Sprintf("c%d", i), ClientOptions{})
		if i%2 == 0 {
			conn.setFull(true)
		}
		conns = append(conns, conn)
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.HandleFrame(context.Background(), "Session:tutor-token")
		}()
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 4; i++ {
			p, err := protocol.ToPost(ptr(newStudentPost(fmt.Sprintf("S%d", i), "race", "hello")))
			assert.NoError(t, err)
			_, err = h.container.Post(context.Background(), p)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	for _, conn := range conns {
		assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	}
	assert.Eventually(t, func() bool { return h.container.Stats().Listeners == 0 }, time.Second, 5*time.Millisecond)
}
