package conversation

import "fmt"

// MessageState is the lifecycle state of a message. The string value is the
// stable wire and storage code.
type MessageState string

const (
	StateDeleted         MessageState = "D"
	StateUnreadByStudent MessageState = "U"
	StateUnreadByStaff   MessageState = "u"
	StateReadByStudent   MessageState = "R"
	StateReadByStaff     MessageState = "r"
)

// AllStates lists every state in declaration order.
var AllStates = []MessageState{
	StateDeleted,
	StateUnreadByStudent,
	StateUnreadByStaff,
	StateReadByStudent,
	StateReadByStaff,
}

// ParseMessageState converts a wire code into a state.
func ParseMessageState(code string) (MessageState, error) {
	switch s := MessageState(code); s {
	case StateDeleted, StateUnreadByStudent, StateUnreadByStaff, StateReadByStudent, StateReadByStaff:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, code)
}

// Code returns the wire code.
func (s MessageState) Code() string {
	return string(s)
}

// Valid reports whether s is one of the five known states.
func (s MessageState) Valid() bool {
	_, err := ParseMessageState(string(s))
	return err == nil
}

func (s MessageState) String() string {
	switch s {
	case StateDeleted:
		return "deleted"
	case StateUnreadByStudent:
		return "unread-by-student"
	case StateUnreadByStaff:
		return "unread-by-staff"
	case StateReadByStudent:
		return "read-by-student"
	case StateReadByStaff:
		return "read-by-staff"
	}
	return fmt.Sprintf("unknown(%q)", string(s))
}

// weight is what one message in a given state contributes to the
// aggregate counters of its conversation.
type weight struct {
	undeleted       int
	unreadByStudent int
	unreadByStaff   int
}

func (s MessageState) weight() weight {
	var w weight
	if s != StateDeleted {
		w.undeleted = 1
	}
	switch s {
	case StateUnreadByStudent:
		w.unreadByStudent = 1
	case StateUnreadByStaff:
		w.unreadByStaff = 1
	}
	return w
}

func (w weight) minus(o weight) weight {
	return weight{
		undeleted:       w.undeleted - o.undeleted,
		unreadByStudent: w.unreadByStudent - o.unreadByStudent,
		unreadByStaff:   w.unreadByStaff - o.unreadByStaff,
	}
}

func (w weight) zero() bool {
	return w == weight{}
}
