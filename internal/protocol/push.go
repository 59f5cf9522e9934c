package protocol

import (
	"encoding/json"
	"time"

	"helpconv/internal/conversation"
	"helpconv/pkg/types"
)

// Push keys, one per outbound message kind.
const (
	KeySessionError       = "sessionError"
	KeyAllConvLists       = "allConvLists"
	KeyStuConvList        = "stuConvList"
	KeyConvMsgList        = "convMsgList"
	KeyConvMsg            = "convMsg"
	KeyAddStuConvList     = "addStuConvList"
	KeyConvAdded          = "convAdded"
	KeyStuConvListUpdated = "stuConvListUpdated"
	KeyConvUpdated        = "convUpdated"
	KeyMsgAdded           = "msgAdded"
	KeyMsgStateUpdated    = "msgStateUpdated"
	KeyMsgWhenReadUpdated = "msgWhenReadUpdated"
)

// Push is one outbound message. It marshals as {Key: Body}.
type Push struct {
	Key  string
	Body interface{}
}

// MarshalJSON implements json.Marshaler.
func (p Push) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{p.Key: p.Body})
}

// RosterEntry is one student line of allConvLists and the roster pushes.
type RosterEntry struct {
	StudentID    string `json:"studentId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	ScreenName   string `json:"screenName"`
	NumConv      int    `json:"numConv"`
	NumUndeleted int    `json:"numUndeleted"`
	NumUnread    int    `json:"numUnread"`
}

// ConvEntry describes one conversation.
type ConvEntry struct {
	StudentID        string `json:"studentId,omitempty"`
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	ConvNbr          int    `json:"convNbr"`
	Subject          string `json:"subject"`
	MsgCount         int    `json:"msgCount"`
	NbrUnreadByStaff int    `json:"nbrUnreadByStaff"`
	NbrUnreadByStu   int    `json:"nbrUnreadByStu"`
}

// MessageEntry describes one message. Content is present only in convMsg.
type MessageEntry struct {
	StudentID  string  `json:"studentId,omitempty"`
	ConvNbr    int     `json:"convNbr,omitempty"`
	MsgNbr     int     `json:"msgNbr"`
	Created    string  `json:"created,omitempty"`
	AuthorID   string  `json:"authorId,omitempty"`
	AuthorName string  `json:"authorName,omitempty"`
	State      string  `json:"state,omitempty"`
	Read       string  `json:"read,omitempty"`
	Content    *string `json:"content,omitempty"`
}

// StudentConvList is the body of stuConvList.
type StudentConvList struct {
	StudentID     string      `json:"studentId"`
	Conversations []ConvEntry `json:"conversations"`
}

// ConvMsgList is the body of convMsgList.
type ConvMsgList struct {
	StudentID string         `json:"studentId"`
	ConvNbr   int            `json:"convNbr"`
	Messages  []MessageEntry `json:"messages"`
}

// ConvUpdate is the body of convUpdated: the conversation and, when its
// counters moved, the student's new roster line.
type ConvUpdate struct {
	ConvEntry
	List *RosterEntry `json:"list,omitempty"`
}

// MsgAdded is the body of msgAdded: the message metadata with the
// counters of its conversation and student after the add.
type MsgAdded struct {
	MessageEntry
	Conv ConvEntry   `json:"conv"`
	List RosterEntry `json:"list"`
}

// SessionErrorBody is the body of sessionError.
type SessionErrorBody struct {
	Error string `json:"error"`
}

// Encoder builds pushes, formatting timestamps in one location.
type Encoder struct {
	Loc *time.Location
}

// NewEncoder returns an encoder for loc, or time.Local when loc is nil.
func NewEncoder(loc *time.Location) Encoder {
	if loc == nil {
		loc = time.Local
	}
	return Encoder{Loc: loc}
}

// SessionError reports a failed handshake.
func (e Encoder) SessionError(reason string) Push {
	return Push{Key: KeySessionError, Body: SessionErrorBody{Error: reason}}
}

// AllConvLists is the roster snapshot sent after a successful handshake.
func (e Encoder) AllConvLists(roster []conversation.ListSummary) Push {
	entries := make([]RosterEntry, 0, len(roster))
	for _, s := range roster {
		entries = append(entries, rosterEntry(s))
	}
	return Push{Key: KeyAllConvLists, Body: entries}
}

// StuConvList is the per-student snapshot sent on OpenStudent.
func (e Encoder) StuConvList(studentID string, convs []conversation.ConversationSummary) Push {
	entries := make([]ConvEntry, 0, len(convs))
	for _, c := range convs {
		entry := convEntry(c)
		entry.StudentID, entry.FirstName, entry.LastName = "", "", ""
		entries = append(entries, entry)
	}
	return Push{Key: KeyStuConvList, Body: StudentConvList{StudentID: studentID, Conversations: entries}}
}

// ConvMsgList is the per-conversation snapshot sent on OpenConv.
func (e Encoder) ConvMsgList(studentID string, convNbr int, msgs []conversation.MessageInfo) Push {
	entries := make([]MessageEntry, 0, len(msgs))
	for _, m := range msgs {
		entry := e.messageEntry(m)
		entry.StudentID, entry.ConvNbr = "", 0
		entries = append(entries, entry)
	}
	return Push{Key: KeyConvMsgList, Body: ConvMsgList{StudentID: studentID, ConvNbr: convNbr, Messages: entries}}
}

// ConvMsg carries one message with its content.
func (e Encoder) ConvMsg(m conversation.MessageInfo) Push {
	return Push{Key: KeyConvMsg, Body: e.messageEntry(m)}
}

// AddStuConvList announces a new student list.
func (e Encoder) AddStuConvList(s conversation.ListSummary) Push {
	return Push{Key: KeyAddStuConvList, Body: rosterEntry(s)}
}

// ConvAdded announces a new conversation.
func (e Encoder) ConvAdded(c conversation.ConversationSummary) Push {
	return Push{Key: KeyConvAdded, Body: convEntry(c)}
}

// StuConvListUpdated carries a student's new roster line.
func (e Encoder) StuConvListUpdated(s conversation.ListSummary) Push {
	return Push{Key: KeyStuConvListUpdated, Body: rosterEntry(s)}
}

// ConvUpdated carries a conversation whose counters or subject changed.
func (e Encoder) ConvUpdated(list conversation.ListSummary, c conversation.ConversationSummary) Push {
	entry := rosterEntry(list)
	return Push{Key: KeyConvUpdated, Body: ConvUpdate{ConvEntry: convEntry(c), List: &entry}}
}

// SubjectUpdated carries a renamed conversation. Counters are unchanged so
// no roster line is attached.
func (e Encoder) SubjectUpdated(c conversation.ConversationSummary) Push {
	return Push{Key: KeyConvUpdated, Body: ConvUpdate{ConvEntry: convEntry(c)}}
}

// MsgAdded announces a new message.
func (e Encoder) MsgAdded(list conversation.ListSummary, c conversation.ConversationSummary, m conversation.MessageInfo) Push {
	return Push{Key: KeyMsgAdded, Body: MsgAdded{
		MessageEntry: e.messageEntry(m),
		Conv:         convEntry(c),
		List:         rosterEntry(list),
	}}
}

// MsgStateUpdated announces a state change.
func (e Encoder) MsgStateUpdated(m conversation.MessageInfo) Push {
	return Push{Key: KeyMsgStateUpdated, Body: MessageEntry{
		StudentID: m.StudentID,
		ConvNbr:   m.ConversationNumber,
		MsgNbr:    m.MessageNumber,
		State:     m.State.Code(),
	}}
}

// MsgWhenReadUpdated announces a read-time change. An absent "read" means
// the time was cleared.
func (e Encoder) MsgWhenReadUpdated(m conversation.MessageInfo) Push {
	entry := MessageEntry{
		StudentID: m.StudentID,
		ConvNbr:   m.ConversationNumber,
		MsgNbr:    m.MessageNumber,
	}
	if m.WhenRead != nil {
		entry.Read = types.FormatTimestamp(*m.WhenRead, e.Loc)
	}
	return Push{Key: KeyMsgWhenReadUpdated, Body: entry}
}

func rosterEntry(s conversation.ListSummary) RosterEntry {
	return RosterEntry{
		StudentID:    s.Student.StudentID,
		FirstName:    s.Student.FirstName,
		LastName:     s.Student.LastName,
		ScreenName:   s.Student.ScreenName,
		NumConv:      s.NumConversations,
		NumUndeleted: s.NumUndeleted,
		NumUnread:    s.NumUnreadByStaff,
	}
}

func convEntry(c conversation.ConversationSummary) ConvEntry {
	return ConvEntry{
		StudentID:        c.Student.StudentID,
		FirstName:        c.Student.FirstName,
		LastName:         c.Student.LastName,
		ConvNbr:          c.Number,
		Subject:          c.Subject,
		MsgCount:         c.NumUndeleted,
		NbrUnreadByStaff: c.NumUnreadByStaff,
		NbrUnreadByStu:   c.NumUnreadByStudent,
	}
}

func (e Encoder) messageEntry(m conversation.MessageInfo) MessageEntry {
	entry := MessageEntry{
		StudentID:  m.StudentID,
		ConvNbr:    m.ConversationNumber,
		MsgNbr:     m.MessageNumber,
		Created:    types.FormatTimestamp(m.Created, e.Loc),
		AuthorID:   m.Author.StudentID,
		AuthorName: m.Author.ScreenName,
		State:      m.State.Code(),
	}
	if m.WhenRead != nil {
		entry.Read = types.FormatTimestamp(*m.WhenRead, e.Loc)
	}
	if m.HasContent {
		content := m.Content
		entry.Content = &content
	}
	return entry
}
