package pebble

import (
	"errors"
	"fmt"
	"time"

	"helpconv/internal/conversation"
)

const timeLayout = time.RFC3339Nano

type listValue struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	ScreenName string `json:"screenName"`
}

func newListValue(k conversation.StudentKey) listValue {
	return listValue{FirstName: k.FirstName, LastName: k.LastName, ScreenName: k.ScreenName}
}

func (v listValue) key(sid string) conversation.StudentKey {
	return conversation.NewStudentKey(sid, v.FirstName, v.LastName, v.ScreenName)
}

type convValue struct {
	Subject string `json:"subject"`
}

type messageValue struct {
	Created  string    `json:"created"`
	Author   listValue `json:"author"`
	AuthorID string    `json:"authorId"`
	State    string    `json:"state"`
	WhenRead string    `json:"whenRead,omitempty"`
}

func newMessageValue(rec conversation.MessageRecord) messageValue {
	v := messageValue{
		Created:  rec.Created.UTC().Format(timeLayout),
		Author:   newListValue(rec.Author),
		AuthorID: rec.Author.StudentID,
		State:    rec.State.Code(),
	}
	if rec.WhenRead != nil {
		v.WhenRead = rec.WhenRead.UTC().Format(timeLayout)
	}
	return v
}

func (v messageValue) record(ref conversation.MessageRef) (conversation.MessageRecord, error) {
	rec := conversation.MessageRecord{MessageRef: ref, Author: v.Author.key(v.AuthorID)}
	if v.AuthorID == "" {
		return rec, errors.New("missing author")
	}
	var err error
	if rec.Created, err = time.Parse(timeLayout, v.Created); err != nil {
		return rec, fmt.Errorf("created: %w", err)
	}
	if rec.State, err = conversation.ParseMessageState(v.State); err != nil {
		return rec, err
	}
	if v.WhenRead != "" {
		t, err := time.Parse(timeLayout, v.WhenRead)
		if err != nil {
			return rec, fmt.Errorf("whenRead: %w", err)
		}
		rec.WhenRead = &t
	}
	return rec, nil
}
