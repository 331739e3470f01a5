package profile

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/errors"
	"github.com/edukita/schoolboard/internal/event"
)

type Config struct {
	Redis    redis.UniversalClient
	EventBus *event.Bus
	Prefix   string
}

// Store keeps user profiles as redis documents: a hash per profile, a hash
// for attendance (one field per date, last write wins), a set of attempted
// quiz identities and a list of attempt records. Collections grow only via
// SADD/RPUSH, never via a full-document overwrite, so concurrent writers
// cannot lose each other's appends.
type Store struct {
	redis  redis.UniversalClient
	eb     *event.Bus
	prefix string
}

func NewStore(c Config) *Store {
	return &Store{
		redis:  c.Redis,
		eb:     c.EventBus,
		prefix: c.Prefix,
	}
}

const (
	fieldEmail      = "email"
	fieldName       = "name"
	fieldRole       = "role"
	fieldClass      = "class"
	fieldCreateTime = "create_time"
)

// QuizKey identifies a quiz instance inside the de-duplication set. The
// creation timestamp is the identity the source system records per attempt.
func QuizKey(createdAt time.Time) string {
	return createdAt.UTC().Format(time.RFC3339Nano)
}

// Create persists a new profile document along with its email and role
// indexes. The writes go through a single pipeline so a half-created profile
// is never left behind an index entry.
func (s *Store) Create(ctx context.Context, p domain.Profile) error {
	err := s.do(ctx, func() error {
		pipe := s.redis.TxPipeline()
		pipe.HSet(ctx, s.profileKey(p.ID), map[string]any{
			fieldEmail:      p.Email,
			fieldName:       p.Name,
			fieldRole:       string(p.Role),
			fieldClass:      p.Class,
			fieldCreateTime: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.Set(ctx, s.emailKey(p.Email), p.ID, 0)
		pipe.SAdd(ctx, s.roleKey(p.Role), p.ID)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return s.unavailable("create profile", err)
	}

	s.notify(ctx, p.ID, "created", nil)
	return nil
}

// Get fetches a profile document by identity ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Profile, error) {
	var fields map[string]string
	err := s.do(ctx, func() error {
		var err error
		fields, err = s.redis.HGetAll(ctx, s.profileKey(id)).Result()
		return err
	})
	if err != nil {
		return nil, s.unavailable("get profile", err)
	}

	if len(fields) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("profile not found: %s", id))
	}

	return s.toProfile(id, fields), nil
}

// FindByEmail resolves a profile through the email index.
func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	var id string
	err := s.do(ctx, func() error {
		var err error
		id, err = s.redis.Get(ctx, s.emailKey(email)).Result()
		return err
	})
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("profile not found: email=%s", email))
	}
	if err != nil {
		return nil, s.unavailable("find profile by email", err)
	}

	return s.Get(ctx, id)
}

// ListByRole returns every profile holding the given role.
func (s *Store) ListByRole(ctx context.Context, role domain.Role) ([]domain.Profile, error) {
	var ids []string
	err := s.do(ctx, func() error {
		var err error
		ids, err = s.redis.SMembers(ctx, s.roleKey(role)).Result()
		return err
	})
	if err != nil {
		return nil, s.unavailable("list profiles by role", err)
	}

	profiles := make([]domain.Profile, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if errors.CodeOf(err) == errors.CodeNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}

	return profiles, nil
}

// UpdateField overwrites a single scalar field of the profile document.
func (s *Store) UpdateField(ctx context.Context, id, field, value string) error {
	err := s.do(ctx, func() error {
		return s.redis.HSet(ctx, s.profileKey(id), field, value).Err()
	})
	if err != nil {
		return s.unavailable("update profile field", err)
	}

	s.notify(ctx, id, "updated", map[string]string{"field": field})
	return nil
}

// Delete removes the profile document, its sub-collections and its indexes.
func (s *Store) Delete(ctx context.Context, id string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.do(ctx, func() error {
		pipe := s.redis.TxPipeline()
		pipe.Del(ctx,
			s.profileKey(id),
			s.attendanceKey(id),
			s.takenKey(id),
			s.attemptsKey(id),
		)
		pipe.Del(ctx, s.emailKey(p.Email))
		pipe.SRem(ctx, s.roleKey(p.Role), id)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return s.unavailable("delete profile", err)
	}

	s.notify(ctx, id, "removed", nil)
	return nil
}

// MarkAttendance records the status for one date. A single field write: the
// last teacher to mark a date wins, other dates are untouched.
func (s *Store) MarkAttendance(ctx context.Context, studentID, date string, status domain.AttendanceStatus) error {
	if !status.Valid() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid attendance status: %q", status))
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid attendance date: %q", date),
			errors.WithCause(err))
	}

	if _, err := s.Get(ctx, studentID); err != nil {
		return err
	}

	err := s.do(ctx, func() error {
		return s.redis.HSet(ctx, s.attendanceKey(studentID), date, string(status)).Err()
	})
	if err != nil {
		return s.unavailable("mark attendance", err)
	}

	s.notify(ctx, studentID, "attendance", map[string]string{"date": date, "status": string(status)})
	s.eb.Publish(ctx, domain.EventAttendanceMarked{
		StudentID: studentID,
		Date:      date,
		Status:    status,
	})
	return nil
}

// Attendance returns the full per-date record for a student. A student with
// no marks yet gets an empty record, not an error.
func (s *Store) Attendance(ctx context.Context, studentID string) (domain.AttendanceRecord, error) {
	var fields map[string]string
	err := s.do(ctx, func() error {
		var err error
		fields, err = s.redis.HGetAll(ctx, s.attendanceKey(studentID)).Result()
		return err
	})
	if err != nil {
		return nil, s.unavailable("get attendance", err)
	}

	rec := make(domain.AttendanceRecord, len(fields))
	for date, status := range fields {
		rec[date] = domain.AttendanceStatus(status)
	}

	return rec, nil
}

// HasAttempted reports whether the quiz instance is already in the student's
// de-duplication set.
func (s *Store) HasAttempted(ctx context.Context, studentID string, quizCreatedAt time.Time) (bool, error) {
	var taken bool
	err := s.do(ctx, func() error {
		var err error
		taken, err = s.redis.SIsMember(ctx, s.takenKey(studentID), QuizKey(quizCreatedAt)).Result()
		return err
	})
	if err != nil {
		return false, s.unavailable("check attempted set", err)
	}

	return taken, nil
}

// RecordAttempt appends an attempt record after atomically claiming the quiz
// identity in the de-duplication set. SADD is the serialization point: of two
// concurrent submissions exactly one sees the member added and proceeds, the
// other gets AlreadyExists. A failed record append releases the claim so the
// student can resubmit without data loss.
func (s *Store) RecordAttempt(ctx context.Context, studentID string, a domain.Attempt) error {
	var added int64
	err := s.do(ctx, func() error {
		var err error
		added, err = s.redis.SAdd(ctx, s.takenKey(studentID), QuizKey(a.QuizCreatedAt)).Result()
		return err
	})
	if err != nil {
		return s.unavailable("claim attempt", err)
	}

	if added == 0 {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("quiz already attempted: student=%s quiz=%s", studentID, QuizKey(a.QuizCreatedAt)))
	}

	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	err = s.do(ctx, func() error {
		return s.redis.RPush(ctx, s.attemptsKey(studentID), b).Err()
	})
	if err != nil {
		s.redis.SRem(ctx, s.takenKey(studentID), QuizKey(a.QuizCreatedAt))
		return s.unavailable("append attempt", err)
	}

	s.notify(ctx, studentID, "attempt", map[string]string{"quiz": a.QuizName})
	return nil
}

// Attempts returns the student's attempt records in submission order.
func (s *Store) Attempts(ctx context.Context, studentID string) ([]domain.Attempt, error) {
	var raw []string
	err := s.do(ctx, func() error {
		var err error
		raw, err = s.redis.LRange(ctx, s.attemptsKey(studentID), 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, s.unavailable("list attempts", err)
	}

	attempts := make([]domain.Attempt, 0, len(raw))
	for _, r := range raw {
		var a domain.Attempt
		if err := json.Unmarshal([]byte(r), &a); err != nil {
			return nil, fmt.Errorf("unmarshal attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	return attempts, nil
}

// Change is a push notification of a profile mutation.
type Change struct {
	ProfileID string            `json:"profile_id"`
	Op        string            `json:"op"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Subscribe delivers change notifications for one profile until ctx is done.
func (s *Store) Subscribe(ctx context.Context, profileID string) (<-chan Change, error) {
	sub := s.redis.Subscribe(ctx, s.changeChannel(profileID))
	if _, err := sub.Receive(ctx); err != nil {
		return nil, s.unavailable("subscribe", err)
	}

	c := make(chan Change)
	go func() {
		defer close(c)
		defer sub.Close()

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				return
			}

			var ch Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				continue
			}

			select {
			case c <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()

	return c, nil
}

func (s *Store) notify(ctx context.Context, profileID, op string, detail map[string]string) {
	b, err := json.Marshal(Change{ProfileID: profileID, Op: op, Detail: detail})
	if err != nil {
		return
	}

	s.redis.Publish(ctx, s.changeChannel(profileID), b)
}

// do runs one store operation, retrying at most once on a transient network
// failure. Anything still failing surfaces to the caller for a manual retry.
func (s *Store) do(_ context.Context, fn func() error) error {
	err := fn()
	if err == nil || !transient(err) {
		return err
	}

	return fn()
}

func transient(err error) bool {
	var ne net.Error
	return stderrors.As(err, &ne)
}

func (s *Store) unavailable(op string, err error) error {
	if stderrors.Is(err, redis.Nil) {
		return errors.New(errors.CodeNotFound, errors.WithCause(err))
	}

	return errors.New(errors.CodeUnavailable,
		errors.WithMessagef("profile store: %s", op),
		errors.WithCause(err))
}

func (s *Store) toProfile(id string, fields map[string]string) *domain.Profile {
	p := &domain.Profile{
		ID:    id,
		Email: fields[fieldEmail],
		Name:  fields[fieldName],
		Role:  domain.Role(fields[fieldRole]),
		Class: fields[fieldClass],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields[fieldCreateTime]); err == nil {
		p.CreatedAt = t
	}

	return p
}

func (s *Store) profileKey(id string) string {
	return fmt.Sprintf("%s:profile:%s", s.prefix, id)
}

func (s *Store) attendanceKey(id string) string {
	return fmt.Sprintf("%s:profile:%s:attendance", s.prefix, id)
}

func (s *Store) takenKey(id string) string {
	return fmt.Sprintf("%s:profile:%s:taken", s.prefix, id)
}

func (s *Store) attemptsKey(id string) string {
	return fmt.Sprintf("%s:profile:%s:attempts", s.prefix, id)
}

func (s *Store) emailKey(email string) string {
	return fmt.Sprintf("%s:index:email:%s", s.prefix, email)
}

func (s *Store) roleKey(role domain.Role) string {
	return fmt.Sprintf("%s:index:role:%s", s.prefix, role)
}

func (s *Store) changeChannel(id string) string {
	return fmt.Sprintf("%s:changes:%s", s.prefix, id)
}
