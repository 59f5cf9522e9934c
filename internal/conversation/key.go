package conversation

import "strings"

// StudentKey identifies the student that owns a conversation list, and is
// also used to describe the author of a message. Two keys are equal when
// their student IDs are equal; the names are carried for display only.
type StudentKey struct {
	StudentID  string `json:"studentId"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	ScreenName string `json:"screenName"`
}

// NewStudentKey builds a key. The screen name defaults to "First Last".
func NewStudentKey(studentID, firstName, lastName, screenName string) StudentKey {
	if screenName == "" {
		screenName = strings.TrimSpace(firstName + " " + lastName)
	}
	return StudentKey{
		StudentID:  studentID,
		FirstName:  firstName,
		LastName:   lastName,
		ScreenName: screenName,
	}
}

// Compare orders keys lexicographically by student ID only.
func (k StudentKey) Compare(other StudentKey) int {
	return strings.Compare(k.StudentID, other.StudentID)
}

// Equal reports whether both keys name the same student.
func (k StudentKey) Equal(other StudentKey) bool {
	return k.StudentID == other.StudentID
}

func (k StudentKey) String() string {
	return k.StudentID
}
