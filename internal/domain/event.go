package domain

const (
	EventNameIdentityRevoked  = "identity.revoked"
	EventNameSessionChanged   = "session.changed"
	EventNameQuizCreated      = "quiz.created"
	EventNameQuizDeleted      = "quiz.deleted"
	EventNameAttemptRecorded  = "attempt.recorded"
	EventNameAttendanceMarked = "attendance.marked"
)

// EventIdentityRevoked is the push notification for credential loss. Every
// session bound to the identity must drop back to unauthenticated.
type EventIdentityRevoked struct {
	IdentityID string
}

func (EventIdentityRevoked) Name() string { return EventNameIdentityRevoked }

type EventSessionChanged struct {
	Session Session
}

func (EventSessionChanged) Name() string { return EventNameSessionChanged }

type EventQuizCreated struct {
	Quiz Quiz
}

func (EventQuizCreated) Name() string { return EventNameQuizCreated }

type EventQuizDeleted struct {
	QuizID string
}

func (EventQuizDeleted) Name() string { return EventNameQuizDeleted }

type EventAttemptRecorded struct {
	StudentID string
	Attempt   Attempt
}

func (EventAttemptRecorded) Name() string { return EventNameAttemptRecorded }

type EventAttendanceMarked struct {
	StudentID string
	Date      string
	Status    AttendanceStatus
}

func (EventAttendanceMarked) Name() string { return EventNameAttendanceMarked }
