package conversation

import "context"

// Reader is a view of a locked Container, valid only inside the callback
// given to Container.Atomically.
type Reader struct {
	c *Container
}

// AddListener registers l so it sees every mutation after this snapshot.
func (r *Reader) AddListener(l Listener) {
	r.c.addListenerLocked(l)
}

// StudentKey finds the key for a student ID.
func (r *Reader) StudentKey(studentID string) (StudentKey, bool) {
	return r.c.studentKeyLocked(studentID)
}

// Roster returns one summary per student in ID order.
func (r *Reader) Roster() []ListSummary {
	return r.c.rosterLocked()
}

// StudentConversations returns the conversation summaries of one student.
func (r *Reader) StudentConversations(studentID string) ([]ConversationSummary, error) {
	list := r.c.lists[studentID]
	if list == nil {
		return nil, ErrStudentNotFound
	}
	return list.conversationsLocked(), nil
}

// Conversation returns the summary of one conversation.
func (r *Reader) Conversation(studentID string, convNumber int) (ConversationSummary, error) {
	conv, err := r.c.conversationLocked(studentID, convNumber)
	if err != nil {
		return ConversationSummary{}, err
	}
	return conv.summaryLocked(), nil
}

// ConversationMessages returns message metadata, without content, for one
// conversation.
func (r *Reader) ConversationMessages(studentID string, convNumber int) ([]MessageInfo, error) {
	conv, err := r.c.conversationLocked(studentID, convNumber)
	if err != nil {
		return nil, err
	}
	return conv.messagesLocked(), nil
}

// Message returns one message with its content, loading the content from
// the backend on first use.
func (r *Reader) Message(ctx context.Context, ref MessageRef) (MessageInfo, error) {
	m, err := r.c.messageLocked(ref)
	if err != nil {
		return MessageInfo{}, err
	}
	info := m.infoLocked()
	info.Content = m.contentLocked(ctx)
	info.HasContent = true
	return info, nil
}
