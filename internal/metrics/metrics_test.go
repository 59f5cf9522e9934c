package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpconv/internal/conversation"
)

// stubBackend fails every write when fail is set.
type stubBackend struct {
	fail bool
}

var errStub = errors.New("stub failure")

func (b *stubBackend) err() error {
	if b.fail {
		return errStub
	}
	return nil
}

func (b *stubBackend) Load(context.Context) ([]conversation.ListSnapshot, error) { return nil, nil }
func (b *stubBackend) WriteStudentList(context.Context, conversation.ListRecord) error {
	return b.err()
}
func (b *stubBackend) WriteConversation(context.Context, conversation.ConversationRecord) error {
	return b.err()
}
func (b *stubBackend) WriteConversationMetadata(context.Context, conversation.ConversationRecord) error {
	return b.err()
}
func (b *stubBackend) WriteMessage(context.Context, conversation.MessageRecord) error {
	return b.err()
}
func (b *stubBackend) WriteMessageMetadata(context.Context, conversation.MessageRecord) error {
	return b.err()
}
func (b *stubBackend) LoadMessageContent(context.Context, conversation.MessageRef) (string, error) {
	return "", conversation.ErrContentNotFound
}
func (b *stubBackend) Close() error { return nil }

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Handshake("ok")
	m.Frame("Session")
	m.FrameDropped("malformed")
	m.Push("msgAdded")
	m.SlowClient()
	m.RecordBackendOp("load", nil, 0)
	m.ObserveContainer(nil)

	b := &stubBackend{}
	assert.Same(t, b, m.InstrumentBackend(b))
}

func TestInstrumentedBackendRecordsStatus(t *testing.T) {
	m := New()
	stub := &stubBackend{}
	b := m.InstrumentBackend(stub)
	ctx := context.Background()

	require.NoError(t, b.WriteStudentList(ctx, conversation.ListRecord{}))
	stub.fail = true
	require.ErrorIs(t, b.WriteStudentList(ctx, conversation.ListRecord{}), errStub)
	_, err := b.LoadMessageContent(ctx, conversation.MessageRef{})
	require.ErrorIs(t, err, conversation.ErrContentNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendOpsTotal.WithLabelValues("write_student_list", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendOpsTotal.WithLabelValues("write_student_list", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendOpsTotal.WithLabelValues("load_message_content", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContentLoadsTotal))
}

func TestConnectionGauge(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsTotal))
}

func TestHandlerExposesContainerGauges(t *testing.T) {
	m := New()
	c := conversation.NewContainer(&stubBackend{}, zerolog.Nop())
	m.ObserveContainer(c)
	_, err := c.Post(context.Background(), conversation.Post{
		Student: conversation.NewStudentKey("S1", "", "", ""),
		Subject: "s",
		Author:  conversation.NewStudentKey("staffA", "", "", ""),
		State:   conversation.StateUnreadByStudent,
	})
	require.NoError(t, err)
	m.Push("msgAdded")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "helpconv_students 1")
	assert.Contains(t, body, "helpconv_messages 1")
	assert.True(t, strings.Contains(body, `helpconv_ws_pushes_total{key="msgAdded"} 1`), body)
}
