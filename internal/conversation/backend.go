package conversation

import (
	"context"
	"time"
)

// Backend is the durable store behind a Container. Every mutation of the
// model calls it synchronously while the container lock is held, so an
// implementation must never call back into the model. All arguments are
// plain values for that reason.
//
// A non-nil error from any write means the write did not happen; the model
// rolls back whatever it had speculatively changed.
type Backend interface {
	// Load returns every student list with its conversations and message
	// metadata (no content). Units that cannot be parsed are logged and
	// skipped by the backend; only a failure to read the store at all is
	// returned as an error.
	Load(ctx context.Context) ([]ListSnapshot, error)

	// WriteStudentList stores the metadata of a student list.
	WriteStudentList(ctx context.Context, rec ListRecord) error

	// WriteConversation creates a conversation and stores its metadata.
	WriteConversation(ctx context.Context, rec ConversationRecord) error

	// WriteConversationMetadata rewrites the metadata of an existing conversation.
	WriteConversationMetadata(ctx context.Context, rec ConversationRecord) error

	// WriteMessage stores metadata and content of a new message. A failure
	// must leave no partially written message readable.
	WriteMessage(ctx context.Context, rec MessageRecord) error

	// WriteMessageMetadata rewrites state and when-read of an existing message.
	WriteMessageMetadata(ctx context.Context, rec MessageRecord) error

	// LoadMessageContent fetches the content of one message, returning
	// ErrContentNotFound when it does not exist.
	LoadMessageContent(ctx context.Context, ref MessageRef) (string, error)

	Close() error
}

// ListRecord is the stored form of a student list.
type ListRecord struct {
	Student StudentKey
}

// ConversationRecord is the stored form of a conversation.
type ConversationRecord struct {
	StudentID string
	Number    int
	Subject   string
}

// MessageRef addresses one message.
type MessageRef struct {
	StudentID          string `json:"studentId"`
	ConversationNumber int    `json:"convNbr"`
	MessageNumber      int    `json:"msgNbr"`
}

// MessageRecord is the stored form of a message. Content is empty in
// records returned by Load.
type MessageRecord struct {
	MessageRef
	Created  time.Time
	Author   StudentKey
	State    MessageState
	WhenRead *time.Time
	Content  string
}

// ConversationSnapshot is a loaded conversation with its message metadata.
type ConversationSnapshot struct {
	ConversationRecord
	Messages []MessageRecord
}

// ListSnapshot is a loaded student list with its conversations.
type ListSnapshot struct {
	Student       StudentKey
	Conversations []ConversationSnapshot
}
