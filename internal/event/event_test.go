package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	revoked := domain.EventIdentityRevoked{IdentityID: "u1"}
	attempt := domain.EventAttemptRecorded{StudentID: "u1"}
	marked := domain.EventAttendanceMarked{StudentID: "u1", Date: "2025-09-01"}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber only receives the event it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{revoked, attempt},
					subscribers: []subscriber{
						{
							name:        "sessions",
							subscribeTo: []string{domain.EventNameIdentityRevoked},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{revoked}, out.received["sessions"])
			},
		},

		"a subscriber receives every dispatch of its event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{attempt, attempt},
					subscribers: []subscriber{
						{
							name:        "notifier",
							subscribeTo: []string{domain.EventNameAttemptRecorded},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{attempt, attempt}, out.received["notifier"])
			},
		},

		"an event is dispatched to all its subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{revoked},
					subscribers: []subscriber{
						{
							name:        "sessions",
							subscribeTo: []string{domain.EventNameIdentityRevoked},
						},
						{
							name:        "audit",
							subscribeTo: []string{domain.EventNameIdentityRevoked},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{revoked}, out.received["sessions"])
				assert.ElementsMatch(t, []event.Event{revoked}, out.received["audit"])
			},
		},

		"mixed events reach the right subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{attempt, revoked, attempt, marked},
					subscribers: []subscriber{
						{
							name:        "sessions",
							subscribeTo: []string{domain.EventNameIdentityRevoked},
						},
						{
							name: "notifier",
							subscribeTo: []string{
								domain.EventNameAttemptRecorded,
								domain.EventNameAttendanceMarked,
							},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{revoked}, out.received["sessions"])
				assert.ElementsMatch(t, []event.Event{attempt, attempt, marked}, out.received["notifier"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

// A panicking handler must not take down the bus or starve other handlers.
func TestBus_HandlerPanic(t *testing.T) {
	b := event.NewBus()

	var (
		mu  sync.Mutex
		got []domain.EventAttemptRecorded
	)
	b.Subscribe(domain.EventNameAttemptRecorded, func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe(domain.EventNameAttemptRecorded, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		got = append(got, e.(domain.EventAttemptRecorded))
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), domain.EventAttemptRecorded{StudentID: "u1"})
	b.Publish(context.Background(), domain.EventAttemptRecorded{StudentID: "u2"})
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
