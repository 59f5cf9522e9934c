package conversation

import (
	"context"
	"fmt"
	"sort"
)

// StudentList holds every conversation of one student, in number order.
type StudentList struct {
	c        *Container
	key      StudentKey
	attached bool

	conversations []*Conversation
	greatest      int // greatest conversation number allocated
}

func newStudentList(c *Container, key StudentKey) *StudentList {
	return &StudentList{c: c, key: key}
}

// Key returns the owning student.
func (l *StudentList) Key() StudentKey {
	return l.key
}

// NumConversations counts the attached conversations.
func (l *StudentList) NumConversations() int {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return len(l.conversations)
}

// Conversation returns the conversation at index i, or nil when out of range.
func (l *StudentList) Conversation(i int) *Conversation {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	if i < 0 || i >= len(l.conversations) {
		return nil
	}
	return l.conversations[i]
}

// ConversationByNumber returns the conversation with the given number, or nil.
func (l *StudentList) ConversationByNumber(number int) *Conversation {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.conversationByNumberLocked(number)
}

func (l *StudentList) conversationByNumberLocked(number int) *Conversation {
	for _, conv := range l.conversations {
		if conv.number == number {
			return conv
		}
	}
	return nil
}

// CreateConversation allocates the next conversation number and returns a
// conversation that is neither persisted nor attached. Pass it to
// AddConversation to make it durable and visible. The number is not given
// back if that never happens.
func (l *StudentList) CreateConversation(subject string) *Conversation {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.createConversationLocked(subject)
}

func (l *StudentList) createConversationLocked(subject string) *Conversation {
	l.greatest++
	return newConversation(l, l.greatest, subject)
}

// AddConversation persists a conversation from CreateConversation, attaches
// it and notifies listeners.
func (l *StudentList) AddConversation(ctx context.Context, conv *Conversation) error {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()

	if conv.owner != l {
		return fmt.Errorf("conversation %d: %w", conv.number, ErrConversationNotFound)
	}
	if conv.attached {
		return ErrAlreadyAttached
	}
	if conv.subject == "" {
		return ErrEmptySubject
	}
	if err := l.persistConversationLocked(ctx, conv); err != nil {
		return err
	}
	l.attachConversationLocked(conv)
	return nil
}

func (l *StudentList) persistConversationLocked(ctx context.Context, conv *Conversation) error {
	if err := l.c.backend.WriteConversation(ctx, conv.recordLocked()); err != nil {
		return fmt.Errorf("%w: write conversation: %w", ErrPersistence, err)
	}
	return nil
}

func (l *StudentList) attachConversationLocked(conv *Conversation) {
	l.insertLocked(conv)
	conv.attached = true
	if l.attached {
		summary := conv.summaryLocked()
		l.c.notify(func(lis Listener) { lis.ConversationAdded(summary) })
	}
}

// loadConversation attaches a conversation read from storage without
// notifying anyone.
func (l *StudentList) loadConversation(conv *Conversation) {
	l.insertLocked(conv)
	conv.attached = true
}

// reserveLocked marks number as used so it is never allocated again.
func (l *StudentList) reserveLocked(number int) {
	if number > l.greatest {
		l.greatest = number
	}
}

func (l *StudentList) insertLocked(conv *Conversation) {
	if conv.number > l.greatest {
		l.greatest = conv.number
	}
	i := sort.Search(len(l.conversations), func(i int) bool {
		return l.conversations[i].number >= conv.number
	})
	l.conversations = append(l.conversations, nil)
	copy(l.conversations[i+1:], l.conversations[i:])
	l.conversations[i] = conv
}

// Summary returns the roster line for this student.
func (l *StudentList) Summary() ListSummary {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.summaryLocked()
}

func (l *StudentList) summaryLocked() ListSummary {
	s := ListSummary{
		Student:          l.key,
		NumConversations: len(l.conversations),
	}
	for _, conv := range l.conversations {
		s.NumUndeleted += conv.numUndeleted
		s.NumUnreadByStaff += conv.numUnreadByStaff
	}
	return s
}

func (l *StudentList) conversationsLocked() []ConversationSummary {
	out := make([]ConversationSummary, 0, len(l.conversations))
	for _, conv := range l.conversations {
		out = append(out, conv.summaryLocked())
	}
	return out
}
