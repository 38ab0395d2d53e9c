package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowstream_connection_state",
		Help: "Stream connection state (1 for the active state, 0 for the others)",
	}, []string{"state"})

	ConnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowstream_connect_attempts_total",
		Help: "Connection attempts by result (success, error, timeout)",
	}, []string{"result"})

	ReconnectsScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_reconnects_scheduled_total",
		Help: "Reconnection attempts scheduled after an abnormal close",
	})

	ReconnectGiveUpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_reconnect_give_ups_total",
		Help: "Times the retry ceiling was reached and reconnection stopped",
	})

	FramesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowstream_frames_received_total",
		Help: "Decoded inbound frames by kind",
	}, []string{"kind"})

	FramesMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_frames_malformed_total",
		Help: "Inbound frames dropped because they failed to parse",
	})

	FramesUnknownTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_frames_unknown_total",
		Help: "Inbound frames dropped because their kind is not recognized",
	})

	HandlerInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowstream_handler_invocations_total",
		Help: "Handler invocations by category",
	}, []string{"category"})

	HandlerFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowstream_handler_faults_total",
		Help: "Recovered handler panics by category",
	}, []string{"category"})

	subscribedTopics = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowstream_subscribed_topics",
		Help: "Topics in the subscription registry by state (confirmed, pending)",
	}, []string{"state"})
)

var connectionStates = []string{"idle", "connecting", "open", "closing", "reconnect_waiting"}

// SetConnectionState records the active connection state.
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		connectionState.WithLabelValues(s).Set(value)
	}
}

// RecordConnectAttempt counts one connection attempt outcome.
func RecordConnectAttempt(result string) {
	if result == "" {
		result = "unknown"
	}
	ConnectAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordFrame counts one decoded inbound frame.
func RecordFrame(kind string) {
	FramesReceivedTotal.WithLabelValues(kind).Inc()
}

// RecordHandler counts one handler invocation and, if it panicked, a fault.
func RecordHandler(category string, faulted bool) {
	HandlerInvocationsTotal.WithLabelValues(category).Inc()
	if faulted {
		HandlerFaultsTotal.WithLabelValues(category).Inc()
	}
}

// SetSubscribedTopics records the registry sizes.
func SetSubscribedTopics(confirmed, pending int) {
	subscribedTopics.WithLabelValues("confirmed").Set(float64(confirmed))
	subscribedTopics.WithLabelValues("pending").Set(float64(pending))
}
