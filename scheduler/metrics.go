package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	entries     prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, s *Scheduler) (*metrics, error) {
	m := &metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mastobot",
			Subsystem: "scheduler",
			Name:      "invocations_total",
			Help:      "Scheduled callback invocations by owner, entry and outcome.",
		}, []string{"owner", "entry", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mastobot",
			Subsystem: "scheduler",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of scheduled callback invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"owner", "entry"}),
		entries: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mastobot",
			Subsystem: "scheduler",
			Name:      "entries",
			Help:      "Number of live schedule entries.",
		}, func() float64 { return float64(s.Len()) }),
	}

	collectors := []prometheus.Collector{m.invocations, m.duration, m.entries}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, registered := range collectors[:i] {
				reg.Unregister(registered)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(exec Execution) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(exec.Owner, exec.Name, string(exec.Status)).Inc()
	m.duration.WithLabelValues(exec.Owner, exec.Name).Observe(exec.EndTime.Sub(exec.StartTime).Seconds())
}
