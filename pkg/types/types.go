package types

import (
	"time"
)

// Role is a staff capability level. Roles form a ladder; a higher role may
// do everything a lower one may.
type Role string

const (
	RoleStudent    Role = "student"
	RoleTutor      Role = "tutor"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// DefaultRequiredRole is the capability needed to open a help-conversation
// connection.
const DefaultRequiredRole = RoleTutor

// Login session statuses.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// rank orders the ladder; unknown roles rank below student.
func (r Role) rank() int {
	switch r {
	case RoleStudent:
		return 1
	case RoleTutor:
		return 2
	case RoleInstructor:
		return 3
	case RoleAdmin:
		return 4
	}
	return 0
}

// CanActAs reports whether r is at least required on the ladder.
func (r Role) CanActAs(required Role) bool {
	return r.rank() > 0 && r.rank() >= required.rank()
}

// Principal is the identity a login session token resolves to.
type Principal struct {
	UserID     string `json:"user_id"`
	ScreenName string `json:"screen_name"`
	Role       Role   `json:"role"`
}

// LoginSession binds a token to a principal until it expires or is ended.
// FUNCTIONAL DISCOVERY: sessions are immutable after creation except for
// Status, so cached copies never go stale on anything but termination.
type LoginSession struct {
	Token      string    `json:"token" db:"token"`
	UserID     string    `json:"user_id" db:"user_id"`
	ScreenName string    `json:"screen_name" db:"screen_name"`
	Role       Role      `json:"role" db:"role"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	Status     string    `json:"status" db:"status"`
}

// Principal returns the identity carried by the session.
func (s *LoginSession) Principal() Principal {
	return Principal{UserID: s.UserID, ScreenName: s.ScreenName, Role: s.Role}
}

// Expired reports whether the session is past its expiry at now.
func (s *LoginSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// PostMessageRequest is the payload of a PostMessage frame. Exactly one of
// ConvNbr and Subject is set.
type PostMessageRequest struct {
	StudentID    string `json:"studentId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	ScreenName   string `json:"screenName,omitempty"`
	LegacyScreen string `json:"screnName,omitempty"` // older clients misspell the key
	ConvNbr      int    `json:"convNbr,omitempty"`
	Subject      string `json:"subject,omitempty"`
	AuthorID     string `json:"authorId"`
	AuthorFirst  string `json:"authorFirst"`
	AuthorLast   string `json:"authorLast"`
	AuthorScreen string `json:"authorScreen"`
	State        string `json:"state"`
	Content      string `json:"content"`
}

// UpdMessageRequest is the payload of an UpdMessage frame. An empty
// WhenRead clears the read time.
type UpdMessageRequest struct {
	StudentID string `json:"studentId"`
	ConvNbr   int    `json:"convNbr"`
	MsgNbr    int    `json:"msgNbr"`
	State     string `json:"state"`
	WhenRead  string `json:"whenRead,omitempty"`
}

// UpdConvRequest is the payload of an UpdConv frame.
type UpdConvRequest struct {
	StudentID string `json:"studentId"`
	ConvNbr   int    `json:"convNbr"`
	Subject   string `json:"subject"`
}

// CreateLoginSessionRequest is the admin API body for issuing a token.
type CreateLoginSessionRequest struct {
	UserID     string `json:"user_id"`
	ScreenName string `json:"screen_name"`
	Role       Role   `json:"role"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}
