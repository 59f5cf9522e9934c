package types

import (
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the wire format of message timestamps: local wall time
// to the second, no zone.
const TimestampLayout = "2006-01-02T15:04:05"

// MaxContentBytes bounds the content of one message.
const MaxContentBytes = 65536

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_@.-]+$`)

// IsValidUserID checks the format shared by staff user IDs and student IDs.
func IsValidUserID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidStateCode checks a message state wire code.
func IsValidStateCode(code string) bool {
	switch code {
	case "D", "U", "u", "R", "r":
		return true
	}
	return false
}

// ParseRole converts a role name, ignoring case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.rank() == 0 {
		return "", ErrInvalidRole
	}
	return r, nil
}

// ParseTimestamp accepts TimestampLayout, read in loc, or RFC 3339.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(TimestampLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, ErrInvalidTimestamp
}

// FormatTimestamp renders t in loc using TimestampLayout.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimestampLayout)
}

// Normalize folds the legacy screen-name key into ScreenName.
func (r *PostMessageRequest) Normalize() {
	if r.ScreenName == "" {
		r.ScreenName = r.LegacyScreen
	}
	r.LegacyScreen = ""
}

// Validate checks a post-message payload.
// FUNCTIONAL DISCOVERY: the target check runs before the content check so a
// client that forgot both convNbr and subject hears about that first.
func (r *PostMessageRequest) Validate() error {
	r.Normalize()
	if !IsValidUserID(r.StudentID) {
		return ErrInvalidStudentID
	}
	if !IsValidUserID(r.AuthorID) {
		return ErrInvalidUserID
	}
	if (r.ConvNbr != 0) == (r.Subject != "") {
		return ErrConversationTarget
	}
	if r.ConvNbr < 0 {
		return ErrInvalidNumber
	}
	if len(r.Subject) > 200 {
		return ErrInvalidSubject
	}
	if len(r.ScreenName) > 100 || len(r.AuthorScreen) > 100 {
		return ErrInvalidScreenName
	}
	if !IsValidStateCode(r.State) {
		return ErrInvalidState
	}
	if len(r.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// Validate checks an update-message payload.
func (r *UpdMessageRequest) Validate() error {
	if !IsValidUserID(r.StudentID) {
		return ErrInvalidStudentID
	}
	if r.ConvNbr <= 0 || r.MsgNbr <= 0 {
		return ErrInvalidNumber
	}
	if !IsValidStateCode(r.State) {
		return ErrInvalidState
	}
	if r.WhenRead != "" {
		if _, err := ParseTimestamp(r.WhenRead, time.Local); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks an update-conversation payload.
func (r *UpdConvRequest) Validate() error {
	if !IsValidUserID(r.StudentID) {
		return ErrInvalidStudentID
	}
	if r.ConvNbr <= 0 {
		return ErrInvalidNumber
	}
	if len(r.Subject) < 1 || len(r.Subject) > 200 {
		return ErrInvalidSubject
	}
	return nil
}

// Validate checks an admin request to issue a login session.
func (r *CreateLoginSessionRequest) Validate() error {
	if !IsValidUserID(r.UserID) {
		return ErrInvalidUserID
	}
	if r.Role.rank() == 0 {
		return ErrInvalidRole
	}
	if len(r.ScreenName) > 100 {
		return ErrInvalidScreenName
	}
	if r.TTLSeconds < 0 {
		return ErrInvalidSessionTTL
	}
	return nil
}
