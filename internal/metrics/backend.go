package metrics

import (
	"context"
	"time"

	"helpconv/internal/conversation"
)

// instrumented times every call of a wrapped backend.
type instrumented struct {
	next conversation.Backend
	m    *Metrics
}

// InstrumentBackend wraps b so each call is counted and timed. With a nil
// receiver b is returned unchanged.
func (m *Metrics) InstrumentBackend(b conversation.Backend) conversation.Backend {
	if m == nil {
		return b
	}
	return &instrumented{next: b, m: m}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.m.RecordBackendOp(op, err, time.Since(start))
}

func (i *instrumented) Load(ctx context.Context) (lists []conversation.ListSnapshot, err error) {
	start := time.Now()
	defer func() { i.observe("load", start, err) }()
	return i.next.Load(ctx)
}

func (i *instrumented) WriteStudentList(ctx context.Context, rec conversation.ListRecord) (err error) {
	start := time.Now()
	defer func() { i.observe("write_student_list", start, err) }()
	return i.next.WriteStudentList(ctx, rec)
}

func (i *instrumented) WriteConversation(ctx context.Context, rec conversation.ConversationRecord) (err error) {
	start := time.Now()
	defer func() { i.observe("write_conversation", start, err) }()
	return i.next.WriteConversation(ctx, rec)
}

func (i *instrumented) WriteConversationMetadata(ctx context.Context, rec conversation.ConversationRecord) (err error) {
	start := time.Now()
	defer func() { i.observe("write_conversation_metadata", start, err) }()
	return i.next.WriteConversationMetadata(ctx, rec)
}

func (i *instrumented) WriteMessage(ctx context.Context, rec conversation.MessageRecord) (err error) {
	start := time.Now()
	defer func() { i.observe("write_message", start, err) }()
	return i.next.WriteMessage(ctx, rec)
}

func (i *instrumented) WriteMessageMetadata(ctx context.Context, rec conversation.MessageRecord) (err error) {
	start := time.Now()
	defer func() { i.observe("write_message_metadata", start, err) }()
	return i.next.WriteMessageMetadata(ctx, rec)
}

func (i *instrumented) LoadMessageContent(ctx context.Context, ref conversation.MessageRef) (content string, err error) {
	i.m.ContentLoadsTotal.Inc()
	start := time.Now()
	defer func() { i.observe("load_message_content", start, err) }()
	return i.next.LoadMessageContent(ctx, ref)
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
