package quiz

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/errors"
	"github.com/edukita/schoolboard/internal/event"
)

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
}

// Service persists authored quizzes. Quizzes are immutable once created:
// there is no edit operation, only create and delete.
type Service struct {
	db *pgxpool.Pool
	eb *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
		eb: c.EventBus,
	}
}

type CreateRequest struct {
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	ClassScope  string          `json:"class_scope" validate:"required"`
	CreatedBy   string          `json:"created_by"`
	Questions   []QuestionInput `json:"questions" validate:"required,min=1,dive"`
}

type QuestionInput struct {
	Text          string   `json:"text" validate:"required"`
	Options       []string `json:"options" validate:"len=4,dive,required"`
	CorrectOption int      `json:"correct_option" validate:"gte=0,lte=3"`
}

// Create validates the authored content and persists the quiz with a
// generated ID and creation timestamp. Validation failures carry field-level
// detail for the authoring UI.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Quiz, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	q := &domain.Quiz{
		Title:       req.Title,
		Description: req.Description,
		ClassScope:  req.ClassScope,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   time.Now().UTC(),
		Questions:   make([]domain.Question, 0, len(req.Questions)),
	}
	for _, in := range req.Questions {
		dq := domain.Question{
			Text:          in.Text,
			CorrectOption: in.CorrectOption,
		}
		copy(dq.Options[:], in.Options)
		q.Questions = append(q.Questions, dq)
	}

	if err := s.insertQuiz(ctx, q); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventQuizCreated{Quiz: *q})
	return q, nil
}

func (s *Service) insertQuiz(ctx context.Context, q *domain.Quiz) (err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate quiz ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insQuizStmt = `
INSERT INTO quizzes (quiz_id, title, description, class_scope, created_by, create_time)
VALUES ($1, $2, $3, $4, $5, $6);`
		insQuestionStmt = `
INSERT INTO quiz_questions (quiz_id, position, question_text, options, correct_option)
VALUES ($1, $2, $3, $4, $5);`
	)

	_, err = tx.Exec(ctx, insQuizStmt, id, q.Title, q.Description, q.ClassScope, q.CreatedBy, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	q.ID = id.String()
	for i, question := range q.Questions {
		_, err = tx.Exec(ctx, insQuestionStmt, id, i, question.Text, question.Options[:], question.CorrectOption)
		if err != nil {
			return fmt.Errorf("insert question %d: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}

// Get returns a quiz with its questions in authored order.
func (s *Service) Get(ctx context.Context, id string) (*domain.Quiz, error) {
	const stmt = `
SELECT quiz_id, title, description, class_scope, created_by, create_time
FROM quizzes WHERE quiz_id = $1;`

	var q domain.Quiz
	err := s.db.QueryRow(ctx, stmt, id).
		Scan(&q.ID, &q.Title, &q.Description, &q.ClassScope, &q.CreatedBy, &q.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("query quiz: %w", err)
	}

	if q.Questions, err = s.questions(ctx, id); err != nil {
		return nil, err
	}

	return &q, nil
}

func (s *Service) questions(ctx context.Context, quizID string) ([]domain.Question, error) {
	const stmt = `
SELECT question_text, options, correct_option
FROM quiz_questions WHERE quiz_id = $1 ORDER BY position;`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var (
			q    domain.Question
			opts []string
		)
		if err := r.Scan(&q.Text, &opts, &q.CorrectOption); err != nil {
			return domain.Question{}, err
		}
		copy(q.Options[:], opts)
		return q, nil
	})
}

type ListRequest struct {
	// Class filters to quizzes visible to one class; empty lists everything.
	Class string
}

// List returns quizzes newest first. Class-scope visibility is applied here,
// not in the grading engine.
func (s *Service) List(ctx context.Context, req ListRequest) ([]domain.Quiz, error) {
	const (
		listAllStmt = `
SELECT quiz_id, title, description, class_scope, created_by, create_time
FROM quizzes ORDER BY create_time DESC;`
		listScopedStmt = `
SELECT quiz_id, title, description, class_scope, created_by, create_time
FROM quizzes WHERE class_scope = $1 OR class_scope = $2 ORDER BY create_time DESC;`
	)

	var (
		rows pgx.Rows
		err  error
	)
	if req.Class == "" {
		rows, err = s.db.Query(ctx, listAllStmt)
	} else {
		rows, err = s.db.Query(ctx, listScopedStmt, req.Class, domain.ClassScopeAll)
	}
	if err != nil {
		return nil, fmt.Errorf("query quizzes: %w", err)
	}

	quizzes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Quiz, error) {
		var q domain.Quiz
		err := r.Scan(&q.ID, &q.Title, &q.Description, &q.ClassScope, &q.CreatedBy, &q.CreatedAt)
		return q, err
	})
	if err != nil {
		return nil, err
	}

	for i := range quizzes {
		if quizzes[i].Questions, err = s.questions(ctx, quizzes[i].ID); err != nil {
			return nil, err
		}
	}

	return quizzes, nil
}

// Delete removes a quiz and its questions. Deleting an unknown ID reports
// NotFound; the caller decides whether that matters.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM quiz_questions WHERE quiz_id = $1;`, id); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM quizzes WHERE quiz_id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", id))
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventQuizDeleted{QuizID: id})
	return nil
}
