package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presence_tracker",
			Subsystem: "consumer",
			Name:      "messages_processed_total",
			Help:      "Presence notifications successfully handled and committed.",
		},
		[]string{"source"},
	)

	decodeErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presence_tracker",
			Subsystem: "consumer",
			Name:      "decode_errors_total",
			Help:      "Messages that could not be decoded and were committed as malformed.",
		},
		[]string{"topic"},
	)

	handlerErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presence_tracker",
			Subsystem: "consumer",
			Name:      "handler_errors_total",
			Help:      "Messages whose handling failed and will be retried.",
		},
		[]string{"source"},
	)

	droppedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presence_tracker",
			Subsystem: "consumer",
			Name:      "messages_dropped_total",
			Help:      "Messages permanently dropped, by reason.",
		},
		[]string{"source", "reason"},
	)
)

func init() {
	prometheus.MustRegister(
		processedCounter,
		decodeErrorCounter,
		handlerErrorCounter,
		droppedCounter,
	)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Source).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Source).Inc()
}

func recordDroppedEvent(source, reason string) {
	droppedCounter.WithLabelValues(source, reason).Inc()
}
