package protocol

import (
	"fmt"
	"time"

	"helpconv/internal/conversation"
	"helpconv/pkg/types"
)

// ToPost converts a validated PostMessage payload into a model request.
func ToPost(r *types.PostMessageRequest) (conversation.Post, error) {
	state, err := conversation.ParseMessageState(r.State)
	if err != nil {
		return conversation.Post{}, err
	}
	return conversation.Post{
		Student:            conversation.NewStudentKey(r.StudentID, r.FirstName, r.LastName, r.ScreenName),
		ConversationNumber: r.ConvNbr,
		Subject:            r.Subject,
		Author:             conversation.NewStudentKey(r.AuthorID, r.AuthorFirst, r.AuthorLast, r.AuthorScreen),
		State:              state,
		Content:            r.Content,
	}, nil
}

// MessageUpdate is a decoded UpdMessage payload.
type MessageUpdate struct {
	Ref      conversation.MessageRef
	State    conversation.MessageState
	WhenRead *time.Time
}

// ToMessageUpdate converts a validated UpdMessage payload, reading a zoneless
// timestamp in loc.
func ToMessageUpdate(r *types.UpdMessageRequest, loc *time.Location) (MessageUpdate, error) {
	state, err := conversation.ParseMessageState(r.State)
	if err != nil {
		return MessageUpdate{}, err
	}
	u := MessageUpdate{
		Ref: conversation.MessageRef{
			StudentID:          r.StudentID,
			ConversationNumber: r.ConvNbr,
			MessageNumber:      r.MsgNbr,
		},
		State: state,
	}
	if r.WhenRead != "" {
		t, err := types.ParseTimestamp(r.WhenRead, loc)
		if err != nil {
			return MessageUpdate{}, fmt.Errorf("whenRead: %w", err)
		}
		u.WhenRead = &t
	}
	return u, nil
}
