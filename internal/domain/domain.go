package domain

import (
	"strings"
	"time"
	"unicode"
)

// Role is the closed set of account roles. Anything else is rejected at the
// boundary, so downstream code can switch on it exhaustively.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// CanAuthor reports whether the role may create or delete quizzes and mark
// attendance.
func (r Role) CanAuthor() bool {
	switch r {
	case RoleAdmin, RoleTeacher:
		return true
	default:
		return false
	}
}

// Identity is an authenticated principal as supplied by the identity provider.
type Identity struct {
	ID    string
	Email string
}

// Profile is the stored document describing a user, keyed by identity ID.
type Profile struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	Class     string
	CreatedAt time.Time
}

// ClassNumber extracts the trailing number of the profile's class label
// ("Class 7" -> 7). Labels without a trailing number in 1..10 fall into the
// unclassified bucket 0.
func (p Profile) ClassNumber() int {
	return ParseClassNumber(p.Class)
}

func ParseClassNumber(label string) int {
	label = strings.TrimSpace(label)
	i := len(label)
	for i > 0 && unicode.IsDigit(rune(label[i-1])) {
		i--
	}
	if i == len(label) {
		return 0
	}

	n := 0
	for _, c := range label[i:] {
		n = n*10 + int(c-'0')
	}
	if n < 1 || n > 10 {
		return 0
	}
	return n
}

// ClassScopeAll marks a quiz as visible to every class.
const ClassScopeAll = "all"

type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ClassScope  string     `json:"class_scope"`
	Questions   []Question `json:"questions"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

// VisibleTo reports whether a student in the given class may see the quiz.
func (q Quiz) VisibleTo(class string) bool {
	return q.ClassScope == ClassScopeAll || q.ClassScope == class
}

type Question struct {
	Text          string    `json:"text"`
	Options       [4]string `json:"options"`
	CorrectOption int       `json:"correct_option"`
}

// Attempt is one student's single graded submission for one quiz instance.
// Records are append-only. Dedup runs on the quiz creation timestamp, which
// is how the profile store identifies a quiz instance.
type Attempt struct {
	QuizCreatedAt time.Time `json:"quiz_created_at"`
	QuizName      string    `json:"quiz_name"`
	Score         int       `json:"score"`
	TakenAt       time.Time `json:"taken_at"`
}

// AttendanceStatus is the per-day roll-call status.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceAbsent  AttendanceStatus = "absent"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceLate, AttendanceAbsent:
		return true
	default:
		return false
	}
}

// AttendanceRecord maps ISO dates (2006-01-02) to a status. One status per
// date; a later mark for the same date replaces the earlier one.
type AttendanceRecord map[string]AttendanceStatus

// SessionStatus is the lifecycle of an authenticated session.
type SessionStatus string

const (
	SessionUnauthenticated SessionStatus = "unauthenticated"
	SessionResolving       SessionStatus = "resolving"
	SessionReady           SessionStatus = "ready"
	SessionFailed          SessionStatus = "failed"
)

// Session is the role-scoped view of a signed-in identity handed to the UI.
// Role is only set when Status is ready; there is no observable state with an
// identity but no role.
type Session struct {
	ID       string
	Identity *Identity
	Role     Role
	Status   SessionStatus
	Reason   string
}
