package rules

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// rulesEvaluatedTotal counts rule evaluations by dialect and outcome
	// (pass, fail, error).
	rulesEvaluatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrt_rules_evaluated_total",
		Help: "Total number of rule evaluations by dialect and outcome",
	}, []string{"dialect", "outcome"})
)

func ruleOutcome(r bool, errs int) string {
	switch {
	case errs > 0:
		return "error"
	case r:
		return "pass"
	default:
		return "fail"
	}
}

func sanitizeDialect(dialect string) string {
	if dialect == "" {
		return "none"
	}
	return dialect
}
