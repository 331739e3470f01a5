package profile_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/errors"
	"github.com/edukita/schoolboard/internal/event"
	"github.com/edukita/schoolboard/internal/profile"
)

func TestStore_CreateGet(t *testing.T) {
	s := makeStore(t)

	p := domain.Profile{
		ID:        "u1",
		Email:     "u1@school.test",
		Name:      "First Student",
		Role:      domain.RoleStudent,
		Class:     "Class 3",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.Create(context.Background(), p))

	got, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, p, *got)

	byEmail, err := s.FindByEmail(context.Background(), "u1@school.test")
	require.NoError(t, err)
	require.Equal(t, p, *byEmail)
}

func TestStore_GetMissing(t *testing.T) {
	s := makeStore(t)

	_, err := s.Get(context.Background(), "nope")
	require.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	_, err = s.FindByEmail(context.Background(), "nope@school.test")
	require.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestStore_ListByRole(t *testing.T) {
	s := makeStore(t)

	require.NoError(t, s.Create(context.Background(), domain.Profile{ID: "s1", Email: "s1@x", Role: domain.RoleStudent}))
	require.NoError(t, s.Create(context.Background(), domain.Profile{ID: "s2", Email: "s2@x", Role: domain.RoleStudent}))
	require.NoError(t, s.Create(context.Background(), domain.Profile{ID: "t1", Email: "t1@x", Role: domain.RoleTeacher}))

	students, err := s.ListByRole(context.Background(), domain.RoleStudent)
	require.NoError(t, err)
	require.Len(t, students, 2)

	teachers, err := s.ListByRole(context.Background(), domain.RoleTeacher)
	require.NoError(t, err)
	require.Len(t, teachers, 1)
}

func TestStore_MarkAttendance(t *testing.T) {
	s := makeStore(t)
	require.NoError(t, s.Create(context.Background(), domain.Profile{ID: "s1", Email: "s1@x", Role: domain.RoleStudent}))

	require.NoError(t, s.MarkAttendance(context.Background(), "s1", "2025-09-01", domain.AttendancePresent))
	require.NoError(t, s.MarkAttendance(context.Background(), "s1", "2025-09-02", domain.AttendanceLate))

	// Marking the same date again overwrites, it does not add a day.
	require.NoError(t, s.MarkAttendance(context.Background(), "s1", "2025-09-01", domain.AttendanceAbsent))

	rec, err := s.Attendance(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, domain.AttendanceRecord{
		"2025-09-01": domain.AttendanceAbsent,
		"2025-09-02": domain.AttendanceLate,
	}, rec)
}

func TestStore_MarkAttendanceRejectsBadInput(t *testing.T) {
	s := makeStore(t)
	require.NoError(t, s.Create(context.Background(), domain.Profile{ID: "s1", Email: "s1@x", Role: domain.RoleStudent}))

	err := s.MarkAttendance(context.Background(), "s1", "2025-09-01", "holiday")
	require.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))

	err = s.MarkAttendance(context.Background(), "s1", "01/09/2025", domain.AttendancePresent)
	require.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))

	err = s.MarkAttendance(context.Background(), "ghost", "2025-09-01", domain.AttendancePresent)
	require.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestStore_RecordAttemptDeduplicates(t *testing.T) {
	s := makeStore(t)

	quizCreated := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	a := domain.Attempt{
		QuizCreatedAt: quizCreated,
		QuizName:      "Fractions",
		Score:         75,
		TakenAt:       time.Now().UTC(),
	}

	taken, err := s.HasAttempted(context.Background(), "s1", quizCreated)
	require.NoError(t, err)
	require.False(t, taken)

	require.NoError(t, s.RecordAttempt(context.Background(), "s1", a))

	err = s.RecordAttempt(context.Background(), "s1", a)
	require.Equal(t, errors.CodeAlreadyExists, errors.CodeOf(err))

	taken, err = s.HasAttempted(context.Background(), "s1", quizCreated)
	require.NoError(t, err)
	require.True(t, taken)

	attempts, err := s.Attempts(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, attempts, 1, "duplicate submission must not grow the attempt list")
	require.Equal(t, a, attempts[0])
}

func TestStore_MarkAttendancePublishesEvent(t *testing.T) {
	eb := event.NewBus()
	s := makeStore(t, withEventBus(eb))
	require.NoError(t, s.Create(context.Background(), domain.Profile{ID: "s1", Email: "s1@x", Role: domain.RoleStudent}))

	marked := make(chan domain.EventAttendanceMarked, 1)
	eb.Subscribe(domain.EventNameAttendanceMarked, func(_ context.Context, e event.Event) error {
		marked <- e.(domain.EventAttendanceMarked)
		return nil
	})

	require.NoError(t, s.MarkAttendance(context.Background(), "s1", "2025-09-01", domain.AttendanceLate))
	eb.Stop()

	select {
	case e := <-marked:
		require.Equal(t, "s1", e.StudentID)
		require.Equal(t, "2025-09-01", e.Date)
		require.Equal(t, domain.AttendanceLate, e.Status)
	default:
		t.Fatal("attendance event was not published")
	}
}

func TestStore_Subscribe(t *testing.T) {
	s := makeStore(t)
	require.NoError(t, s.Create(context.Background(), domain.Profile{ID: "s1", Email: "s1@x", Role: domain.RoleStudent}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	changes, err := s.Subscribe(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, s.MarkAttendance(ctx, "s1", "2025-09-01", domain.AttendancePresent))

	select {
	case ch := <-changes:
		require.Equal(t, "s1", ch.ProfileID)
		require.Equal(t, "attendance", ch.Op)
		require.Equal(t, "2025-09-01", ch.Detail["date"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for change notification")
	}
}

func TestStore_Delete(t *testing.T) {
	s := makeStore(t)
	require.NoError(t, s.Create(context.Background(), domain.Profile{ID: "s1", Email: "s1@x", Role: domain.RoleStudent}))

	require.NoError(t, s.Delete(context.Background(), "s1"))

	_, err := s.Get(context.Background(), "s1")
	require.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	students, err := s.ListByRole(context.Background(), domain.RoleStudent)
	require.NoError(t, err)
	require.Empty(t, students)
}

func makeStore(t *testing.T, opts ...option) *profile.Store {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := profile.Config{
		Redis:    rc,
		EventBus: event.NewBus(),
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return profile.NewStore(c)
}

type option func(c *profile.Config)

func withEventBus(eb *event.Bus) option {
	return func(c *profile.Config) {
		c.EventBus = eb
	}
}
