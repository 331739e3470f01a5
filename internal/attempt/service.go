package attempt

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/errors"
	"github.com/edukita/schoolboard/internal/event"
	"github.com/edukita/schoolboard/internal/telemetry"
)

// ProfileStore is the slice of the document store the engine needs: the
// de-duplication set and the append-only attempt list. Both grow through
// atomic append primitives, never a read-modify-write.
type ProfileStore interface {
	HasAttempted(ctx context.Context, studentID string, quizCreatedAt time.Time) (bool, error)
	RecordAttempt(ctx context.Context, studentID string, a domain.Attempt) error
}

type Config struct {
	Profiles ProfileStore
	EventBus *event.Bus
	NowFunc  func() time.Time
}

// Service grades answer sets and records durable, de-duplicated attempts.
// Which quizzes a student may see is the query layer's business; by the time
// a quiz reaches Submit it is assumed visible.
type Service struct {
	profiles ProfileStore
	eb       *event.Bus
	now      func() time.Time
}

func NewService(c Config) *Service {
	now := c.NowFunc
	if now == nil {
		now = time.Now
	}

	return &Service{
		profiles: c.Profiles,
		eb:       c.EventBus,
		now:      now,
	}
}

type SubmitRequest struct {
	StudentID string
	Quiz      domain.Quiz
	// Answers maps question index to the chosen option index.
	Answers map[int]int
}

type QuestionResult struct {
	UserAnswer    int  `json:"user_answer"`
	CorrectAnswer int  `json:"correct_answer"`
	IsCorrect     bool `json:"is_correct"`
}

// Result is returned for immediate display. Only Score, the quiz name and
// the submission time are stored durably.
type Result struct {
	TotalQuestions int                    `json:"total_questions"`
	CorrectAnswers int                    `json:"correct_answers"`
	Score          int                    `json:"score"`
	PerQuestion    map[int]QuestionResult `json:"per_question"`
}

// Submit grades a complete answer set and appends the attempt record. A
// second submission for the same (student, quiz instance) pair fails with
// AlreadyExists and leaves the attempt list untouched.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if err := s.checkComplete(req); err != nil {
		telemetry.AttemptSubmissions.WithLabelValues("incomplete").Inc()
		return nil, err
	}

	taken, err := s.profiles.HasAttempted(ctx, req.StudentID, req.Quiz.CreatedAt)
	if err != nil {
		return nil, err
	}
	if taken {
		telemetry.AttemptSubmissions.WithLabelValues("duplicate").Inc()
		return nil, duplicateErr(req)
	}

	res := grade(req.Quiz, req.Answers)

	a := domain.Attempt{
		QuizCreatedAt: req.Quiz.CreatedAt,
		QuizName:      req.Quiz.Title,
		Score:         res.Score,
		TakenAt:       s.now().UTC(),
	}
	if err := s.profiles.RecordAttempt(ctx, req.StudentID, a); err != nil {
		if errors.CodeOf(err) == errors.CodeAlreadyExists {
			// Lost the race against a concurrent submission.
			telemetry.AttemptSubmissions.WithLabelValues("duplicate").Inc()
			return nil, duplicateErr(req)
		}
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventAttemptRecorded{
		StudentID: req.StudentID,
		Attempt:   a,
	})
	telemetry.AttemptSubmissions.WithLabelValues("recorded").Inc()

	return res, nil
}

// checkComplete enforces one answer per question index. Submission with gaps
// is a hard precondition failure, not a warning.
func (s *Service) checkComplete(req SubmitRequest) error {
	var missing []int
	for i := range req.Quiz.Questions {
		if _, ok := req.Answers[i]; !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Ints(missing)
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("incomplete attempt: %d of %d questions answered, missing %v",
			len(req.Quiz.Questions)-len(missing), len(req.Quiz.Questions), missing))
}

// grade compares each answer to the correct option and rounds the percentage
// half up to an integer score.
func grade(q domain.Quiz, answers map[int]int) *Result {
	res := &Result{
		TotalQuestions: len(q.Questions),
		PerQuestion:    make(map[int]QuestionResult, len(q.Questions)),
	}
	if res.TotalQuestions == 0 {
		return res
	}

	for i, question := range q.Questions {
		answer := answers[i]
		correct := answer == question.CorrectOption
		if correct {
			res.CorrectAnswers++
		}

		res.PerQuestion[i] = QuestionResult{
			UserAnswer:    answer,
			CorrectAnswer: question.CorrectOption,
			IsCorrect:     correct,
		}
	}

	res.Score = int(decimal.NewFromInt(int64(res.CorrectAnswers * 100)).
		DivRound(decimal.NewFromInt(int64(res.TotalQuestions)), 0).
		IntPart())

	return res
}

func duplicateErr(req SubmitRequest) error {
	return errors.New(errors.CodeAlreadyExists,
		errors.WithMessagef("quiz already attempted: student=%s quiz=%q", req.StudentID, req.Quiz.Title))
}
