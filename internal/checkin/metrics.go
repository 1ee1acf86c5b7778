package checkin

import "github.com/prometheus/client_golang/prometheus"

var (
	outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clockin_outcomes_total",
		Help: "Per-user run outcomes by failure class.",
	}, []string{"result"})

	verifyProbes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clockin_verify_probes",
		Help:    "Record-listing probes needed before a run settled.",
		Buckets: prometheus.LinearBuckets(0, 1, 5),
	})
)

func init() {
	prometheus.MustRegister(outcomesTotal, verifyProbes)
}

const (
	resultSuccess       = "success"
	resultAuthFailed    = "auth_failed"
	resultTransient     = "transient"
	resultRejected      = "rejected"
	resultVerifyTimeout = "verify_timeout"
	resultCancelled     = "cancelled"
	resultInternal      = "internal"
)
