package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptSubmissions counts quiz submissions by outcome:
	// recorded, duplicate, incomplete.
	AttemptSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolboard_attempt_submissions_total",
		Help: "Quiz attempt submissions by outcome.",
	}, []string{"outcome"})

	// SignIns counts sign-in attempts by outcome: ready, failed.
	SignIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolboard_sign_ins_total",
		Help: "Sign-in attempts by outcome.",
	}, []string{"outcome"})
)
