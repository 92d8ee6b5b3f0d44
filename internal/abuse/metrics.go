package abuse

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abuseguard",
			Subsystem: "enforcement",
			Name:      "decisions_total",
			Help:      "Enforcement decisions by reason",
		},
		[]string{"reason", "allowed"},
	)
	userViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abuseguard",
			Subsystem: "enforcement",
			Name:      "user_violations_total",
			Help:      "Recorded user violations, split by whether they opened an episode",
		},
		[]string{"kind"},
	)
	ipViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abuseguard",
			Subsystem: "ip",
			Name:      "violations_total",
			Help:      "Recorded IP rate-limit violations by endpoint",
		},
		[]string{"endpoint"},
	)
	appealsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abuseguard",
			Subsystem: "appeals",
			Name:      "transitions_total",
			Help:      "Appeals submitted and reviewed, by resulting status",
		},
		[]string{"status"},
	)
)

var registerMetrics sync.Once

func init() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(decisionsTotal, userViolationsTotal, ipViolationsTotal, appealsTotal)
	})
}
