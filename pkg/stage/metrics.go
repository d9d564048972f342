package stage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "river",
		Subsystem: "stage",
		Name:      "events_total",
		Help:      "Number of events emitted per stage kind and event type.",
	}, []string{"stage", "event"})

	selectsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "river",
		Subsystem: "pipeline",
		Name:      "selects_built_total",
		Help:      "Number of select pipelines constructed.",
	})

	eventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "river",
		Subsystem: "stage",
		Name:      "event_errors_total",
		Help:      "Number of per-record processing errors per stage kind.",
	}, []string{"stage"})
)
