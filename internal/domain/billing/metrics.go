package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	billsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hms_bills_generated_total",
		Help: "Bills generated.",
	})

	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hms_payments_recorded_total",
		Help: "Payment attempts by outcome.",
	}, []string{"outcome"})

	claimsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hms_claims_resolved_total",
		Help: "Insurance claims resolved by terminal status.",
	}, []string{"status"})
)
