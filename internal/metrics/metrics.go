// Package metrics declares every Prometheus metric the real-time core
// exposes, grouped by subsystem the way the teacher's metrics package
// groups websocket/room/webrtc/redis metrics under one namespace.
//
// Naming convention: namespace_subsystem_name
//   - namespace: mythosmud (application-level grouping)
//   - subsystem: connmgr, session, eventbus, broker, circuit_breaker,
//     room, movement, rate_limit
//   - name: specific metric
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// --- Connection Manager ---

	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "connmgr",
		Name:      "connections_active",
		Help:      "Current number of active connections by transport kind.",
	}, []string{"kind"})

	ConnectionsEstablishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "connmgr",
		Name:      "connections_established_total",
		Help:      "Total connections successfully attached.",
	}, []string{"kind"})

	ConnectionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "connmgr",
		Name:      "connections_closed_total",
		Help:      "Total connections closed, by reason.",
	}, []string{"kind", "reason"})

	ConnectionEstablishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mythosmud",
		Subsystem: "connmgr",
		Name:      "connection_establish_seconds",
		Help:      "Time spent establishing a connection (auth + upgrade).",
		Buckets:   prometheus.DefBuckets,
	})

	MessageDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mythosmud",
		Subsystem: "connmgr",
		Name:      "message_delivery_seconds",
		Help:      "Time spent delivering a message to a connection.",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
	}, []string{"kind"})

	MessageDeliveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "connmgr",
		Name:      "message_delivery_total",
		Help:      "Total message delivery attempts, by outcome.",
	}, []string{"kind", "outcome"})

	DroppedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "connmgr",
		Name:      "dropped_messages_total",
		Help:      "Total non-critical messages dropped due to backpressure.",
	}, []string{"kind"})

	SlowConsumerClosesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "connmgr",
		Name:      "slow_consumer_closes_total",
		Help:      "Total connections closed because a critical message could not be enqueued.",
	})

	// --- Session / grace periods ---

	PlayersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "session",
		Name:      "players_online",
		Help:      "Current number of players in the ONLINE state.",
	})

	GraceSuppressedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "session",
		Name:      "grace_suppressed_events_total",
		Help:      "Total presence events suppressed by a grace period.",
	}, []string{"kind"})

	// --- Event bus ---

	EventBusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "eventbus",
		Name:      "published_total",
		Help:      "Total events published, by topic.",
	}, []string{"topic"})

	EventBusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "eventbus",
		Name:      "dropped_total",
		Help:      "Total events dropped due to a full queue.",
	}, []string{"topic", "priority"})

	EventBusQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "eventbus",
		Name:      "queue_depth",
		Help:      "Current depth of the event bus main queue.",
	})

	EventBusHandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mythosmud",
		Subsystem: "eventbus",
		Name:      "handler_duration_seconds",
		Help:      "Time spent executing a single subscriber handler.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})

	EventBusHandlerTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "eventbus",
		Name:      "handler_timeouts_total",
		Help:      "Total handler invocations cancelled for exceeding their timeout.",
	}, []string{"topic"})

	EventBusHandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "eventbus",
		Name:      "handler_errors_total",
		Help:      "Total handler invocations that returned or panicked with an error.",
	}, []string{"topic"})

	// --- Broker ---

	BrokerPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "publish_total",
		Help:      "Total broker publish calls, by outcome.",
	}, []string{"outcome"})

	BrokerPublishBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "publish_bytes_total",
		Help:      "Total bytes published to the broker.",
	})

	BrokerAckSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "ack_success_total",
		Help:      "Total acks succeeded (auto-ack and manual-ack modes).",
	})

	BrokerAckFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "ack_failure_total",
		Help:      "Total manual acks failed.",
	})

	BrokerNakTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "nak_total",
		Help:      "Total manual naks issued.",
	})

	BrokerBatchFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "batch_flush_total",
		Help:      "Total batch flush attempts, by outcome.",
	}, []string{"outcome"})

	BrokerFailedBatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "failed_batch_queue_depth",
		Help:      "Current depth of the dead-letter (failed batch) queue.",
	})

	BrokerCurrentBatchSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "current_batch_size",
		Help:      "Current number of messages buffered per subject-prefix batch group.",
	}, []string{"group"})

	BrokerPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "pool_connections",
		Help:      "Connection pool size by outcome (successful/failed).",
	}, []string{"outcome"})

	BrokerConsecutiveHealthFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "consecutive_health_failures",
		Help:      "Current count of consecutive failed health probes.",
	})

	BrokerValidationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "broker",
		Name:      "validation_failures_total",
		Help:      "Total subject/payload validation failures.",
	}, []string{"reason"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open).",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker.",
	}, []string{"service"})

	// --- Room / movement ---

	RoomOccupants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mythosmud",
		Subsystem: "room",
		Name:      "occupants",
		Help:      "Current number of player occupants per room.",
	}, []string{"room_id"})

	MovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "movement",
		Name:      "total",
		Help:      "Total move_player calls, by outcome.",
	}, []string{"outcome"})

	MovementRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "movement",
		Name:      "retries_total",
		Help:      "Total internal retries due to concurrent_modification.",
	})

	// --- Rate limiting ---

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests/messages that exceeded the rate limit.",
	}, []string{"channel", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mythosmud",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total requests/messages checked against the rate limiter.",
	}, []string{"channel"})
)
