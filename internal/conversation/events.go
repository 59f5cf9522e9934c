package conversation

import "time"

// Listener observes every change to a Container. Callbacks run while the
// container lock is held, in the single global order mutations happen.
// They must return quickly and must not call back into the container;
// everything they need is in the snapshot arguments.
type Listener interface {
	StudentListAdded(list ListSummary)
	ConversationAdded(conv ConversationSummary)
	ConversationChanged(list ListSummary, conv ConversationSummary)
	SubjectChanged(conv ConversationSummary)
	MessageAdded(list ListSummary, conv ConversationSummary, msg MessageInfo)
	MessageStateUpdated(msg MessageInfo)
	MessageWhenReadUpdated(msg MessageInfo)
}

// ListSummary is the roster line for one student.
type ListSummary struct {
	Student          StudentKey
	NumConversations int
	NumUndeleted     int
	NumUnreadByStaff int
}

// ConversationSummary describes one conversation without its messages.
type ConversationSummary struct {
	Student            StudentKey
	Number             int
	Subject            string
	NumMessages        int
	NumUndeleted       int
	NumUnreadByStudent int
	NumUnreadByStaff   int
}

// MessageInfo describes one message. Content is only filled in when it was
// explicitly requested.
type MessageInfo struct {
	MessageRef
	Created    time.Time
	Author     StudentKey
	State      MessageState
	WhenRead   *time.Time
	Content    string
	HasContent bool
}

// Stats counts the objects held by a container.
type Stats struct {
	Students      int `json:"students"`
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Listeners     int `json:"listeners"`
}
