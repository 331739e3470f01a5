package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edukita/schoolboard/internal/domain"
)

type (
	// Notification is the JSON envelope pushed to per-student channels so an
	// open dashboard refreshes without polling.
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	AttemptData struct {
		QuizName string    `json:"quiz_name"`
		Score    int       `json:"score"`
		TakenAt  time.Time `json:"taken_at"`
	}

	AttendanceData struct {
		Date   string `json:"date"`
		Status string `json:"status"`
	}
)

func (a *API) publishAttemptRecorded(ctx context.Context, e domain.EventAttemptRecorded) error {
	return a.publishNotification(ctx, e.StudentID, e.Name(), AttemptData{
		QuizName: e.Attempt.QuizName,
		Score:    e.Attempt.Score,
		TakenAt:  e.Attempt.TakenAt,
	})
}

func (a *API) publishAttendanceMarked(ctx context.Context, e domain.EventAttendanceMarked) error {
	return a.publishNotification(ctx, e.StudentID, e.Name(), AttendanceData{
		Date:   e.Date,
		Status: string(e.Status),
	})
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
