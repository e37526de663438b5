// Package metrics holds the Prometheus collectors of the reminder engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "karina"

var (
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reminder_deliveries_total",
		Help:      "Reminder deliveries by category, severity and result.",
	}, []string{"category", "severity", "result"})

	EscalationExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalation_chain_exits_total",
		Help:      "Escalation chains that ended, by reason.",
	}, []string{"reason"})

	PhraseFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "phrase_fallbacks_total",
		Help:      "Reminders phrased from the static bank because generation failed.",
	}, []string{"category"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Failed durable store operations.",
	}, []string{"op"})

	DroppedTasks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "background_tasks_dropped_total",
		Help:      "Background tasks dropped because the queue was full.",
	})
)
