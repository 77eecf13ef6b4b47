package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	receivedBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kongjr_client_received_bytes_total",
		Help: "Total bytes read from the game server.",
	})
	sentBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kongjr_client_sent_bytes_total",
		Help: "Total bytes written to the game server.",
	})
	receivedMessagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kongjr_client_received_messages_total",
		Help: "Decoded server messages by kind.",
	}, []string{"kind"})
	decodeDiagnosticsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kongjr_client_decode_diagnostics_total",
		Help: "Fields or messages that were defaulted or dropped while decoding.",
	})
	droppedFrameBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kongjr_client_dropped_frame_bytes_total",
		Help: "Bytes discarded because a frame exceeded the buffer cap.",
	})
	receiveTimeoutsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kongjr_client_receive_timeouts_total",
		Help: "Receive timeouts; these are expected and retried.",
	})
	sentMessagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kongjr_client_sent_messages_total",
		Help: "Messages sent to the server by type.",
	}, []string{"type"})
	connectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kongjr_client_connection_state",
		Help: "Current connection state (0 disconnected, 1 connecting, 2 connected).",
	})
)

// ObserveMessage records one decoded inbound message.
func ObserveMessage(kind string, diagnostics int) {
	receivedMessagesCounter.WithLabelValues(kind).Inc()
	if diagnostics > 0 {
		decodeDiagnosticsCounter.Add(float64(diagnostics))
	}
}

// ObserveSent records one outbound message of the given type.
func ObserveSent(msgType string) {
	sentMessagesCounter.WithLabelValues(msgType).Inc()
}
