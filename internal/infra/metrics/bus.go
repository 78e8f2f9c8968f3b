package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(eventsPublishedTotal, eventDeliveriesTotal, eventRetriesTotal, eventsDeadLetteredTotal, eventDeliveryLatencyMs)
}

var eventsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bus_events_published_total",
		Help: "Events handed to the bus, labeled by type.",
	},
	[]string{"type"},
)

var eventDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bus_event_deliveries_total",
		Help: "Per-consumer delivery outcomes.",
	},
	[]string{"consumer", "status"}, // status: 'ok', 'failed', 'skipped'
)

var eventRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bus_event_retries_total",
		Help: "Delivery retries per consumer.",
	},
	[]string{"consumer"},
)

var eventsDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bus_events_dead_lettered_total",
		Help: "Events routed to the dead-letter log per consumer.",
	},
	[]string{"consumer"},
)

var eventDeliveryLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "bus_delivery_latency_ms",
		Help:    "Handler latency distribution in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 400, 800, 1600},
	},
	[]string{"consumer"},
)

func IncEventPublished(typ string) {
	eventsPublishedTotal.WithLabelValues(norm(typ)).Inc()
}

func IncEventDelivery(consumer, status string) {
	eventDeliveriesTotal.WithLabelValues(norm(consumer), norm(status)).Inc()
}

func IncEventRetry(consumer string) {
	eventRetriesTotal.WithLabelValues(norm(consumer)).Inc()
}

func IncEventDeadLettered(consumer string) {
	eventsDeadLetteredTotal.WithLabelValues(norm(consumer)).Inc()
}

func ObserveDeliveryLatency(consumer string, ms float64) {
	eventDeliveryLatencyMs.WithLabelValues(norm(consumer)).Observe(ms)
}
