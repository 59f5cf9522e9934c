package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errInjected = errors.New("injected write failure")

// memBackend is an in-memory Backend that can be told to fail specific
// operations.
type memBackend struct {
	mu        sync.Mutex
	snapshots []ListSnapshot
	lists     []ListRecord
	convs     []ConversationRecord
	convMeta  []ConversationRecord
	messages  []MessageRecord
	metadata  []MessageRecord
	contents  map[MessageRef]string
	loads     int
	fail      map[string]bool
}

func newMemBackend() *memBackend {
	return &memBackend{
		contents: make(map[MessageRef]string),
		fail:     make(map[string]bool),
	}
}

func (b *memBackend) failOn(op string, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[op] = fail
}

func (b *memBackend) check(op string) error {
	if b.fail[op] {
		return fmt.Errorf("%s: %w", op, errInjected)
	}
	return nil
}

func (b *memBackend) Load(ctx context.Context) ([]ListSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("Load"); err != nil {
		return nil, err
	}
	return b.snapshots, nil
}

func (b *memBackend) WriteStudentList(ctx context.Context, rec ListRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("WriteStudentList"); err != nil {
		return err
	}
	b.lists = append(b.lists, rec)
	return nil
}

func (b *memBackend) WriteConversation(ctx context.Context, rec ConversationRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("WriteConversation"); err != nil {
		return err
	}
	b.convs = append(b.convs, rec)
	return nil
}

func (b *memBackend) WriteConversationMetadata(ctx context.Context, rec ConversationRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("WriteConversationMetadata"); err != nil {
		return err
	}
	b.convMeta = append(b.convMeta, rec)
	return nil
}

func (b *memBackend) WriteMessage(ctx context.Context, rec MessageRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("WriteMessage"); err != nil {
		return err
	}
	b.messages = append(b.messages, rec)
	b.contents[rec.MessageRef] = rec.Content
	return nil
}

func (b *memBackend) WriteMessageMetadata(ctx context.Context, rec MessageRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("WriteMessageMetadata"); err != nil {
		return err
	}
	b.metadata = append(b.metadata, rec)
	return nil
}

func (b *memBackend) LoadMessageContent(ctx context.Context, ref MessageRef) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	if err := b.check("LoadMessageContent"); err != nil {
		return "", err
	}
	body, ok := b.contents[ref]
	if !ok {
		return "", ErrContentNotFound
	}
	return body, nil
}

func (b *memBackend) Close() error { return nil }

// event is one recorded listener callback.
type event struct {
	kind string
	list ListSummary
	conv ConversationSummary
	msg  MessageInfo
}

type recorder struct {
	events []event
}

func (r *recorder) kinds() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

func (r *recorder) StudentListAdded(list ListSummary) {
	r.events = append(r.events, event{kind: "listAdded", list: list})
}

func (r *recorder) ConversationAdded(conv ConversationSummary) {
	r.events = append(r.events, event{kind: "convAdded", conv: conv})
}

func (r *recorder) ConversationChanged(list ListSummary, conv ConversationSummary) {
	r.events = append(r.events, event{kind: "convChanged", list: list, conv: conv})
}

func (r *recorder) SubjectChanged(conv ConversationSummary) {
	r.events = append(r.events, event{kind: "subjectChanged", conv: conv})
}

func (r *recorder) MessageAdded(list ListSummary, conv ConversationSummary, msg MessageInfo) {
	r.events = append(r.events, event{kind: "msgAdded", list: list, conv: conv, msg: msg})
}

func (r *recorder) MessageStateUpdated(msg MessageInfo) {
	r.events = append(r.events, event{kind: "msgState", msg: msg})
}

func (r *recorder) MessageWhenReadUpdated(msg MessageInfo) {
	r.events = append(r.events, event{kind: "msgWhenRead", msg: msg})
}

var fixedNow = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

var (
	staffA   = NewStudentKey("staffA", "Ada", "Staff", "")
	student1 = NewStudentKey("S1", "Sam", "One", "")
	student2 = NewStudentKey("S2", "Pat", "Two", "")
)
