package flatfile

import (
	"errors"
	"fmt"
	"time"

	"helpconv/internal/conversation"
)

const timeLayout = time.RFC3339Nano

type listMeta struct {
	StudentID  string `json:"studentId"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	ScreenName string `json:"screenName,omitempty"`
}

type convMeta struct {
	Subject string `json:"subject"`
}

type messageMeta struct {
	WhenCreated    string `json:"whenCreated"`
	ByStudentID    string `json:"byStudentId"`
	ByStudentFirst string `json:"byStudentFirst,omitempty"`
	ByStudentLast  string `json:"byStudentLast,omitempty"`
	ByStudentName  string `json:"byStudentName"`
	State          string `json:"state"`
	WhenRead       string `json:"whenRead,omitempty"`
}

func newMessageMeta(rec conversation.MessageRecord) messageMeta {
	m := messageMeta{
		WhenCreated:    rec.Created.UTC().Format(timeLayout),
		ByStudentID:    rec.Author.StudentID,
		ByStudentFirst: rec.Author.FirstName,
		ByStudentLast:  rec.Author.LastName,
		ByStudentName:  rec.Author.ScreenName,
		State:          rec.State.Code(),
	}
	if rec.WhenRead != nil {
		m.WhenRead = rec.WhenRead.UTC().Format(timeLayout)
	}
	return m
}

func (m messageMeta) record(ref conversation.MessageRef) (conversation.MessageRecord, error) {
	rec := conversation.MessageRecord{
		MessageRef: ref,
		Author:     conversation.NewStudentKey(m.ByStudentID, m.ByStudentFirst, m.ByStudentLast, m.ByStudentName),
	}
	if m.ByStudentID == "" {
		return rec, errors.New("missing byStudentId")
	}
	var err error
	if rec.Created, err = time.Parse(timeLayout, m.WhenCreated); err != nil {
		return rec, fmt.Errorf("whenCreated: %w", err)
	}
	if rec.State, err = conversation.ParseMessageState(m.State); err != nil {
		return rec, err
	}
	if m.WhenRead != "" {
		t, err := time.Parse(timeLayout, m.WhenRead)
		if err != nil {
			return rec, fmt.Errorf("whenRead: %w", err)
		}
		rec.WhenRead = &t
	}
	return rec, nil
}
