//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/edukita/schoolboard/internal/domain"
)

// Runs against a server started with `go run ./cmd` plus the Redis instance
// it is configured against.
const (
	baseURL   = "http://localhost:8080/v1"
	redisAddr = "localhost:6379"
)

func TestQuizFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wg := new(sync.WaitGroup)
	watchNotifications(t, makeRedis(t), wg)

	// Teacher signs up and authors a quiz for Class 3.
	teacher := signUp(t, ctx, map[string]any{
		"email":    fmt.Sprintf("teacher-%d@demo.test", time.Now().UnixNano()),
		"password": "secret-1",
		"role":     "teacher",
		"name":     "Demo Teacher",
		"class":    "Class 3",
	})

	var quizID string
	{
		var resp struct {
			Quiz struct {
				ID string `json:"id"`
			} `json:"quiz"`
		}
		doJSON(t, ctx, teacher, http.MethodPost, "/quizzes", map[string]any{
			"title":       "Arithmetic basics",
			"class_scope": "Class 3",
			"questions": []map[string]any{
				{"text": "2+2?", "options": []string{"3", "4", "5", "6"}, "correct_option": 1},
				{"text": "3*3?", "options": []string{"6", "9", "12", "27"}, "correct_option": 1},
			},
		}, http.StatusCreated, &resp)
		quizID = resp.Quiz.ID
	}

	// Three students sign up and submit concurrently.
	tokens := make([]string, 3)
	for i := range tokens {
		tokens[i] = signUp(t, ctx, map[string]any{
			"email":    fmt.Sprintf("student-%d-%d@demo.test", i, time.Now().UnixNano()),
			"password": "secret-1",
			"role":     "student",
			"name":     fmt.Sprintf("Student %d", i),
			"class":    "Class 3",
		})
	}

	var eg errgroup.Group
	for i, token := range tokens {
		i, token := i, token
		eg.Go(func() error {
			var resp struct {
				Result struct {
					Score int64 `json:"score"`
				} `json:"result"`
			}
			doJSON(t, ctx, token, http.MethodPost, "/attempts", map[string]any{
				"quiz_id": quizID,
				"answers": map[string]int{"0": 1, "1": i % 4},
			}, http.StatusOK, &resp)

			t.Logf("student %d scored %d", i, resp.Result.Score)
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// A repeat submission is rejected, the recorded attempt stands.
	req := httpRequest(t, ctx, tokens[0], http.MethodPost, "/attempts", map[string]any{
		"quiz_id": quizID,
		"answers": map[string]int{"0": 1, "1": 1},
	})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	wg.Wait()
}

func signUp(t *testing.T, ctx context.Context, body map[string]any) string {
	var resp struct {
		Token   string `json:"token"`
		Session struct {
			Status domain.SessionStatus `json:"status"`
		} `json:"session"`
	}
	doJSON(t, ctx, "", http.MethodPost, "/auth/signup", body, http.StatusOK, &resp)
	require.Equal(t, domain.SessionReady, resp.Session.Status)
	return resp.Token
}

func doJSON(t *testing.T, ctx context.Context, token, method, path string, body any, wantStatus int, out any) {
	req := httpRequest(t, ctx, token, method, path, body)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func httpRequest(t *testing.T, ctx context.Context, token, method, path string, body any) *http.Request {
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// watchNotifications logs every per-user change notification published during
// the run, and releases the WaitGroup after the first attempt notification.
func watchNotifications(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, "local:pubsub:user:*")

	go func() {
		done := false
		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			t.Logf("notification on %s: %s %s", msg.Channel, n.Event, n.Data)
			if n.Event == domain.EventNameAttemptRecorded && !done {
				done = true
				wg.Done()
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, pattern string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	t.Cleanup(cancel)

	sub := rc.PSubscribe(ctx, pattern)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{redisAddr},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}
