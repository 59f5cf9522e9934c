// Package storetest checks that a conversation.Backend honors the storage
// contract the model relies on.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpconv/internal/conversation"
)

// Opener opens a backend rooted in dir. Opening the same dir again after
// Close must see everything written before.
type Opener func(t *testing.T, dir string) conversation.Backend

var (
	created = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	read    = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	student = conversation.NewStudentKey("S1", "Sam", "One", "Sammy")
	staff   = conversation.NewStudentKey("staffA", "Ada", "Staff", "")
)

func ref(conv, msg int) conversation.MessageRef {
	return conversation.MessageRef{StudentID: student.StudentID, ConversationNumber: conv, MessageNumber: msg}
}

// Run executes the whole suite.
func Run(t *testing.T, open Opener) {
	t.Run("EmptyLoad", func(t *testing.T) { testEmptyLoad(t, open) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, open) })
	t.Run("MissingContent", func(t *testing.T) { testMissingContent(t, open) })
	t.Run("UpdatesOfUnknownRecordsFail", func(t *testing.T) { testUnknownUpdates(t, open) })
	t.Run("FeedsContainer", func(t *testing.T) { testFeedsContainer(t, open) })
	t.Run("PostAfterFailedMessageWrite", func(t *testing.T) { testPostAfterFailedMessageWrite(t, open) })
}

var errDiskFull = errors.New("disk full")

// flakyMessages fails the next failures calls to WriteMessage.
type flakyMessages struct {
	conversation.Backend
	failures int
}

func (b *flakyMessages) WriteMessage(ctx context.Context, rec conversation.MessageRecord) error {
	if b.failures > 0 {
		b.failures--
		return errDiskFull
	}
	return b.Backend.WriteMessage(ctx, rec)
}

func testEmptyLoad(t *testing.T, open Opener) {
	b := open(t, t.TempDir())
	defer func() { _ = b.Close() }()

	lists, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lists)
}

func seed(t *testing.T, b conversation.Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.WriteStudentList(ctx, conversation.ListRecord{Student: student}))
	require.NoError(t, b.WriteConversation(ctx, conversation.ConversationRecord{StudentID: "S1", Number: 1, Subject: "Help with limits"}))
	require.NoError(t, b.WriteConversation(ctx, conversation.ConversationRecord{StudentID: "S1", Number: 2, Subject: "Second"}))
	require.NoError(t, b.WriteMessage(ctx, conversation.MessageRecord{
		MessageRef: ref(1, 1),
		Created:    created,
		Author:     staff,
		State:      conversation.StateUnreadByStudent,
		Content:    "Try L'Hopital",
	}))
	require.NoError(t, b.WriteMessage(ctx, conversation.MessageRecord{
		MessageRef: ref(1, 2),
		Created:    created.Add(time.Minute),
		Author:     student,
		State:      conversation.StateUnreadByStaff,
		Content:    "Thanks!\nIt worked.",
	}))
}

func testRoundTrip(t *testing.T, open Opener) {
	dir := t.TempDir()
	ctx := context.Background()

	b := open(t, dir)
	seed(t, b)
	require.NoError(t, b.WriteMessageMetadata(ctx, conversation.MessageRecord{
		MessageRef: ref(1, 1),
		Created:    created,
		Author:     staff,
		State:      conversation.StateReadByStudent,
		WhenRead:   &read,
	}))
	require.NoError(t, b.WriteConversationMetadata(ctx, conversation.ConversationRecord{StudentID: "S1", Number: 2, Subject: "Renamed"}))
	require.NoError(t, b.Close())

	b = open(t, dir)
	defer func() { _ = b.Close() }()

	lists, err := b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	list := lists[0]
	assert.Equal(t, student, list.Student)
	require.Len(t, list.Conversations, 2)

	byNumber := map[int]conversation.ConversationSnapshot{}
	for _, c := range list.Conversations {
		byNumber[c.Number] = c
	}
	assert.Equal(t, "Help with limits", byNumber[1].Subject)
	assert.Equal(t, "Renamed", byNumber[2].Subject)
	assert.Empty(t, byNumber[2].Messages)

	msgs := byNumber[1].Messages
	require.Len(t, msgs, 2)
	if msgs[0].MessageNumber > msgs[1].MessageNumber {
		msgs[0], msgs[1] = msgs[1], msgs[0]
	}
	first := msgs[0]
	assert.Equal(t, ref(1, 1), first.MessageRef)
	assert.True(t, created.Equal(first.Created), "created %v", first.Created)
	assert.Equal(t, staff, first.Author)
	assert.Equal(t, conversation.StateReadByStudent, first.State)
	require.NotNil(t, first.WhenRead)
	assert.True(t, read.Equal(*first.WhenRead))
	assert.Empty(t, first.Content, "Load must not return content")

	second := msgs[1]
	assert.Equal(t, conversation.StateUnreadByStaff, second.State)
	assert.Nil(t, second.WhenRead)

	body, err := b.LoadMessageContent(ctx, ref(1, 2))
	require.NoError(t, err)
	assert.Equal(t, "Thanks!\nIt worked.", body)
}

func testMissingContent(t *testing.T, open Opener) {
	b := open(t, t.TempDir())
	defer func() { _ = b.Close() }()
	seed(t, b)

	_, err := b.LoadMessageContent(context.Background(), ref(1, 9))
	assert.ErrorIs(t, err, conversation.ErrContentNotFound)
}

func testUnknownUpdates(t *testing.T, open Opener) {
	b := open(t, t.TempDir())
	defer func() { _ = b.Close() }()
	seed(t, b)
	ctx := context.Background()

	err := b.WriteMessageMetadata(ctx, conversation.MessageRecord{
		MessageRef: ref(1, 42),
		Created:    created,
		Author:     staff,
		State:      conversation.StateDeleted,
	})
	assert.Error(t, err)

	err = b.WriteConversationMetadata(ctx, conversation.ConversationRecord{StudentID: "S1", Number: 42, Subject: "x"})
	assert.Error(t, err)
}

func testFeedsContainer(t *testing.T, open Opener) {
	dir := t.TempDir()
	ctx := context.Background()

	b := open(t, dir)
	c := conversation.NewContainer(b, zerolog.Nop())
	require.NoError(t, c.Load(ctx))
	m, err := c.Post(ctx, conversation.Post{
		Student: student,
		Subject: "Help with limits",
		Author:  staff,
		State:   conversation.StateUnreadByStudent,
		Content: "Try L'Hopital",
	})
	require.NoError(t, err)
	require.NoError(t, c.UpdateMessage(ctx, m.Ref(), conversation.StateReadByStaff, &read))
	_, err = c.Post(ctx, conversation.Post{
		Student:            student,
		ConversationNumber: 1,
		Author:             student,
		State:              conversation.StateUnreadByStaff,
		Content:            "follow-up",
	})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b = open(t, dir)
	defer func() { _ = b.Close() }()
	reloaded := conversation.NewContainer(b, zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))

	roster := reloaded.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, 1, roster[0].NumConversations)
	assert.Equal(t, 2, roster[0].NumUndeleted)
	assert.Equal(t, 1, roster[0].NumUnreadByStaff)

	conv := reloaded.StudentList(student).ConversationByNumber(1)
	require.NotNil(t, conv)
	assert.Equal(t, 0, conv.NumUnreadByStudent())
	assert.Equal(t, "follow-up", conv.MessageByNumber(2).Content(ctx))
	assert.Equal(t, "Try L'Hopital", conv.MessageByNumber(1).Content(ctx))
}

func testPostAfterFailedMessageWrite(t *testing.T, open Opener) {
	dir := t.TempDir()
	ctx := context.Background()
	other := conversation.NewStudentKey("S2", "Pat", "Two", "")
	post := func(key conversation.StudentKey) conversation.Post {
		return conversation.Post{
			Student: key,
			Subject: "Help with limits",
			Author:  key,
			State:   conversation.StateUnreadByStaff,
			Content: "stuck",
		}
	}

	b := &flakyMessages{Backend: open(t, dir), failures: 1}
	c := conversation.NewContainer(b, zerolog.Nop())
	require.NoError(t, c.Load(ctx))

	_, err := c.Post(ctx, post(student))
	require.ErrorIs(t, err, errDiskFull)
	for i := 0; i < 3; i++ {
		m, err := c.Post(ctx, post(student))
		require.NoError(t, err, "retry %d", i)
		assert.Equal(t, i+2, m.Ref().ConversationNumber)
	}

	b.failures = 1
	_, err = c.Post(ctx, post(student))
	require.ErrorIs(t, err, errDiskFull)
	m, err := c.Post(ctx, post(student))
	require.NoError(t, err)
	assert.Equal(t, 6, m.Ref().ConversationNumber)

	b.failures = 1
	_, err = c.Post(ctx, post(other))
	require.ErrorIs(t, err, errDiskFull)
	require.NoError(t, b.Close())

	reopened := open(t, dir)
	defer func() { _ = reopened.Close() }()
	reloaded := conversation.NewContainer(reopened, zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))

	roster := reloaded.Roster()
	require.Len(t, roster, 1, "students whose only post failed stay hidden")
	assert.Equal(t, student.StudentID, roster[0].Student.StudentID)
	assert.Equal(t, 4, roster[0].NumConversations)
	assert.Nil(t, reloaded.StudentList(student).ConversationByNumber(1))
	assert.Nil(t, reloaded.StudentList(student).ConversationByNumber(5))

	m, err = reloaded.Post(ctx, post(student))
	require.NoError(t, err)
	assert.Equal(t, 7, m.Ref().ConversationNumber)
	m, err = reloaded.Post(ctx, post(other))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Ref().ConversationNumber)
	assert.Len(t, reloaded.Roster(), 2)
}
