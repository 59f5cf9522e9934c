package conversation

import (
	"context"
	"fmt"
	"sort"
)

// Conversation is one subject thread in a student's list. Messages are kept
// in number order and the three counters always equal what a scan of the
// messages would give.
type Conversation struct {
	owner    *StudentList
	number   int
	subject  string
	attached bool

	messages []*Message
	greatest int // greatest message number allocated

	numUndeleted       int
	numUnreadByStudent int
	numUnreadByStaff   int
}

func newConversation(owner *StudentList, number int, subject string) *Conversation {
	return &Conversation{
		owner:   owner,
		number:  number,
		subject: subject,
	}
}

func (c *Conversation) container() *Container {
	return c.owner.c
}

// Number is unique within the owning list and assigned from 1.
func (c *Conversation) Number() int {
	return c.number
}

// Owner returns the owning student list.
func (c *Conversation) Owner() *StudentList {
	return c.owner
}

// Subject returns the subject line.
func (c *Conversation) Subject() string {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.subject
}

// SetSubject changes the subject line and persists it. When the write fails
// the previous subject is restored.
func (c *Conversation) SetSubject(ctx context.Context, subject string) error {
	if subject == "" {
		return ErrEmptySubject
	}
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.setSubjectLocked(ctx, subject)
}

func (c *Conversation) setSubjectLocked(ctx context.Context, subject string) error {
	ct := c.container()
	err := commit(&c.subject, subject, func() error {
		if err := ct.backend.WriteConversationMetadata(ctx, c.recordLocked()); err != nil {
			return fmt.Errorf("%w: write conversation metadata: %w", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if c.attached {
		summary := c.summaryLocked()
		ct.notify(func(l Listener) { l.SubjectChanged(summary) })
	}
	return nil
}

// TotalMessages counts every message including deleted ones.
func (c *Conversation) TotalMessages() int {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(c.messages)
}

// Message returns the message at index i, or nil when out of range.
func (c *Conversation) Message(i int) *Message {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if i < 0 || i >= len(c.messages) {
		return nil
	}
	return c.messages[i]
}

// MessageByNumber returns the message with the given number, or nil.
func (c *Conversation) MessageByNumber(number int) *Message {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.messageByNumberLocked(number)
}

func (c *Conversation) messageByNumberLocked(number int) *Message {
	for _, m := range c.messages {
		if m.number == number {
			return m
		}
	}
	return nil
}

// NumUndeleted counts messages not in StateDeleted.
func (c *Conversation) NumUndeleted() int {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.numUndeleted
}

// NumUnreadByStudent counts messages in StateUnreadByStudent.
func (c *Conversation) NumUnreadByStudent() int {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.numUnreadByStudent
}

// NumUnreadByStaff counts messages in StateUnreadByStaff.
func (c *Conversation) NumUnreadByStaff() int {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.numUnreadByStaff
}

// loadMessage appends a message read from storage. No listener exists yet.
func (c *Conversation) loadMessage(m *Message) {
	c.messages = append(c.messages, m)
	if m.number > c.greatest {
		c.greatest = m.number
	}
	c.apply(m.state.weight())
}

// AddMessage allocates the next message number, persists the new message and
// only then appends it and notifies listeners. When the write fails the
// number is given back and nothing is retained.
func (c *Conversation) AddMessage(ctx context.Context, author StudentKey, state MessageState, content string) (*Message, error) {
	if !state.Valid() {
		return nil, ErrInvalidState
	}
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()

	m, err := c.persistMessageLocked(ctx, author, state, content)
	if err != nil {
		return nil, err
	}
	c.attachMessageLocked(m)
	return m, nil
}

func (c *Conversation) persistMessageLocked(ctx context.Context, author StudentKey, state MessageState, content string) (*Message, error) {
	ct := c.container()
	var m *Message
	err := commit(&c.greatest, c.greatest+1, func() error {
		m = newMessage(c, c.greatest, ct.now(), author, state, nil)
		m.content = &content
		if err := ct.backend.WriteMessage(ctx, m.recordLocked(true)); err != nil {
			return fmt.Errorf("%w: write message: %w", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Conversation) attachMessageLocked(m *Message) {
	c.messages = append(c.messages, m)
	c.apply(m.state.weight())
	if c.attached {
		c.notifyMessageAddedLocked(m)
	}
}

func (c *Conversation) notifyMessageAddedLocked(m *Message) {
	list := c.owner.summaryLocked()
	conv := c.summaryLocked()
	info := m.infoLocked()
	c.container().notify(func(l Listener) { l.MessageAdded(list, conv, info) })
}

// UpdateState persists the metadata of m, whose state the caller has already
// changed from old, and moves the counters accordingly. Listeners get
// ConversationChanged when a counter moved and MessageStateUpdated always.
// On failure nothing is changed here; the caller restores the message.
func (c *Conversation) UpdateState(ctx context.Context, m *Message, old MessageState) error {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.updateStateLocked(ctx, m, old)
}

func (c *Conversation) updateStateLocked(ctx context.Context, m *Message, old MessageState) error {
	if m.conv != c {
		return ErrForeignMessage
	}
	ct := c.container()
	if err := ct.backend.WriteMessageMetadata(ctx, m.recordLocked(false)); err != nil {
		return fmt.Errorf("%w: write message metadata: %w", ErrPersistence, err)
	}

	delta := m.state.weight().minus(old.weight())
	c.apply(delta)

	if !c.attached {
		return nil
	}
	if !delta.zero() {
		list := c.owner.summaryLocked()
		conv := c.summaryLocked()
		ct.notify(func(l Listener) { l.ConversationChanged(list, conv) })
	}
	info := m.infoLocked()
	ct.notify(func(l Listener) { l.MessageStateUpdated(info) })
	return nil
}

// UpdateWhenRead persists the metadata of m after its read timestamp changed.
func (c *Conversation) UpdateWhenRead(ctx context.Context, m *Message) error {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.updateWhenReadLocked(ctx, m)
}

func (c *Conversation) updateWhenReadLocked(ctx context.Context, m *Message) error {
	if m.conv != c {
		return ErrForeignMessage
	}
	ct := c.container()
	if err := ct.backend.WriteMessageMetadata(ctx, m.recordLocked(false)); err != nil {
		return fmt.Errorf("%w: write message metadata: %w", ErrPersistence, err)
	}
	if c.attached {
		info := m.infoLocked()
		ct.notify(func(l Listener) { l.MessageWhenReadUpdated(info) })
	}
	return nil
}

func (c *Conversation) apply(w weight) {
	c.numUndeleted += w.undeleted
	c.numUnreadByStudent += w.unreadByStudent
	c.numUnreadByStaff += w.unreadByStaff
}

// Compare orders conversations by owning student ID, then by number.
func (c *Conversation) Compare(other *Conversation) int {
	if r := c.owner.key.Compare(other.owner.key); r != 0 {
		return r
	}
	switch {
	case c.number < other.number:
		return -1
	case c.number > other.number:
		return 1
	}
	return 0
}

// SortConversations sorts in Compare order.
func SortConversations(convs []*Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].Compare(convs[j]) < 0
	})
}

// Summary returns a snapshot without messages.
func (c *Conversation) Summary() ConversationSummary {
	ct := c.container()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return c.summaryLocked()
}

func (c *Conversation) summaryLocked() ConversationSummary {
	return ConversationSummary{
		Student:            c.owner.key,
		Number:             c.number,
		Subject:            c.subject,
		NumMessages:        len(c.messages),
		NumUndeleted:       c.numUndeleted,
		NumUnreadByStudent: c.numUnreadByStudent,
		NumUnreadByStaff:   c.numUnreadByStaff,
	}
}

func (c *Conversation) messagesLocked() []MessageInfo {
	out := make([]MessageInfo, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.infoLocked())
	}
	return out
}

func (c *Conversation) recordLocked() ConversationRecord {
	return ConversationRecord{
		StudentID: c.owner.key.StudentID,
		Number:    c.number,
		Subject:   c.subject,
	}
}
