package attack

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes.
const (
	outcomeBlocked = "blocked"
	outcomePassed  = "passed"
	outcomeFailed  = "failed"
)

var (
	strikeAttacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strike_attacks_total",
		Help: "Total synthetic attack requests by category and outcome.",
	}, []string{"category", "outcome"})

	strikeComprehensiveRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strike_comprehensive_runs_total",
		Help: "Total completed comprehensive runs.",
	})
)

func recordAttempt(category string, a Attempt) {
	outcome := outcomePassed
	switch {
	case !a.Success:
		outcome = outcomeFailed
	case a.Blocked:
		outcome = outcomeBlocked
	}
	strikeAttacksTotal.WithLabelValues(category, outcome).Inc()
}
