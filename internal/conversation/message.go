package conversation

import (
	"context"
	"errors"
	"time"
)

// Message is one entry in a conversation. It is owned by its conversation and
// never removed; deletion is the StateDeleted state.
type Message struct {
	conv     *Conversation
	number   int
	created  time.Time
	author   StudentKey
	state    MessageState
	whenRead *time.Time
	content  *string // nil until loaded
}

func newMessage(conv *Conversation, number int, created time.Time, author StudentKey, state MessageState, whenRead *time.Time) *Message {
	return &Message{
		conv:     conv,
		number:   number,
		created:  created,
		author:   author,
		state:    state,
		whenRead: copyTime(whenRead),
	}
}

func (m *Message) container() *Container {
	return m.conv.owner.c
}

// Number is unique within the conversation and assigned from 1.
func (m *Message) Number() int {
	return m.number
}

// Conversation returns the owning conversation.
func (m *Message) Conversation() *Conversation {
	return m.conv
}

// Created returns the creation time.
func (m *Message) Created() time.Time {
	return m.created
}

// Author returns the author key.
func (m *Message) Author() StudentKey {
	return m.author
}

// Ref returns the address of the message.
func (m *Message) Ref() MessageRef {
	return MessageRef{
		StudentID:          m.conv.owner.key.StudentID,
		ConversationNumber: m.conv.number,
		MessageNumber:      m.number,
	}
}

// State returns the current state.
func (m *Message) State() MessageState {
	c := m.container()
	c.mu.Lock()
	defer c.mu.Unlock()
	return m.state
}

// SetState changes the state, persists it and updates the conversation
// counters. When the write fails the previous state is restored.
func (m *Message) SetState(ctx context.Context, next MessageState) error {
	c := m.container()
	c.mu.Lock()
	defer c.mu.Unlock()
	return m.setStateLocked(ctx, next)
}

func (m *Message) setStateLocked(ctx context.Context, next MessageState) error {
	if !next.Valid() {
		return ErrInvalidState
	}
	old := m.state
	return commit(&m.state, next, func() error {
		return m.conv.updateStateLocked(ctx, m, old)
	})
}

// WhenRead returns when the message was read, or nil.
func (m *Message) WhenRead() *time.Time {
	c := m.container()
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyTime(m.whenRead)
}

// SetWhenRead changes the read timestamp (nil clears it) and persists it.
// When the write fails the previous value is restored.
func (m *Message) SetWhenRead(ctx context.Context, when *time.Time) error {
	c := m.container()
	c.mu.Lock()
	defer c.mu.Unlock()
	return m.setWhenReadLocked(ctx, when)
}

func (m *Message) setWhenReadLocked(ctx context.Context, when *time.Time) error {
	return commit(&m.whenRead, copyTime(when), func() error {
		return m.conv.updateWhenReadLocked(ctx, m)
	})
}

// Content returns the message body, loading it from the backend the first
// time. A missing body is logged and reported as "".
func (m *Message) Content(ctx context.Context) string {
	c := m.container()
	c.mu.Lock()
	defer c.mu.Unlock()
	return m.contentLocked(ctx)
}

func (m *Message) contentLocked(ctx context.Context) string {
	if m.content != nil {
		return *m.content
	}

	c := m.container()
	ref := m.Ref()
	body, err := c.backend.LoadMessageContent(ctx, ref)
	if err != nil {
		ev := c.log.Warn()
		if !errors.Is(err, ErrContentNotFound) {
			ev = c.log.Error()
		}
		ev.Err(err).
			Str("student_id", ref.StudentID).
			Int("conv", ref.ConversationNumber).
			Int("msg", ref.MessageNumber).
			Msg("Unable to load message content")
		return ""
	}
	m.content = &body
	return body
}

// Compare orders messages by number.
func (m *Message) Compare(other *Message) int {
	switch {
	case m.number < other.number:
		return -1
	case m.number > other.number:
		return 1
	}
	return 0
}

// Info returns a metadata snapshot.
func (m *Message) Info() MessageInfo {
	c := m.container()
	c.mu.Lock()
	defer c.mu.Unlock()
	return m.infoLocked()
}

func (m *Message) infoLocked() MessageInfo {
	return MessageInfo{
		MessageRef: m.Ref(),
		Created:    m.created,
		Author:     m.author,
		State:      m.state,
		WhenRead:   copyTime(m.whenRead),
	}
}

func (m *Message) recordLocked(withContent bool) MessageRecord {
	rec := MessageRecord{
		MessageRef: m.Ref(),
		Created:    m.created,
		Author:     m.author,
		State:      m.state,
		WhenRead:   copyTime(m.whenRead),
	}
	if withContent && m.content != nil {
		rec.Content = *m.content
	}
	return rec
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
