package matchmaking

import "github.com/cheildo/nexus-clash-matchmaker/internal/pkg/monitoring"

const subsystem = "matchmaking"

// Delivery outcome labels.
const (
	deliveryOK     = "ok"
	deliveryLost   = "lost"
	deliveryFailed = "failed"
)

// Join stream outcome labels.
const (
	streamMatched      = "matched"
	streamDisconnected = "disconnected"
	streamFailed       = "failed"
)

var (
	joinsProcessed = monitoring.CreateCounterMetric(&monitoring.MetricOpts{
		Subsystem: subsystem,
		Name:      "joins_processed",
		Help:      "Join requests taken off the queue by the coordinator",
	})

	malformedJoins = monitoring.CreateCounterMetric(&monitoring.MetricOpts{
		Subsystem: subsystem,
		Name:      "malformed_joins",
		Help:      "Join requests dropped because they could not be parsed",
	})

	matchesCreated = monitoring.CreateCounterMetric(&monitoring.MetricOpts{
		Subsystem: subsystem,
		Name:      "matches_created",
		Help:      "Matches formed by the waiting room",
	})

	matchDeliveries = monitoring.CreateCounterMetric(&monitoring.MetricOpts{
		Subsystem: subsystem,
		Name:      "match_deliveries",
		Help:      "Match replies handed to the broker, by outcome",
		Labels:    []string{"outcome"},
	})

	waitingParticipants = monitoring.CreateGaugeMetric(&monitoring.MetricOpts{
		Subsystem: subsystem,
		Name:      "waiting_participants",
		Help:      "Participants parked in the waiting room",
	})

	activeStreams = monitoring.CreateGaugeMetric(&monitoring.MetricOpts{
		Subsystem: subsystem,
		Name:      "active_join_streams",
		Help:      "Callers currently waiting on a join stream",
	})

	finishedStreams = monitoring.CreateCounterMetric(&monitoring.MetricOpts{
		Subsystem: subsystem,
		Name:      "finished_join_streams",
		Help:      "Join streams that ended, by outcome",
		Labels:    []string{"outcome"},
	})
)
