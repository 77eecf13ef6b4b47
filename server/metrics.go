package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	receivedBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kongjr_devserver_received_bytes_total",
		Help: "Total bytes received from clients.",
	})
	sentBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kongjr_devserver_sent_bytes_total",
		Help: "Total bytes queued for clients.",
	})
	processedClientMessagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kongjr_devserver_client_messages_total",
		Help: "Client messages handled by the hub, by type.",
	}, []string{"type"})
	sentServerMessagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kongjr_devserver_sent_messages_total",
		Help: "Server messages queued, by type.",
	}, []string{"type"})
	droppedServerMessagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kongjr_devserver_dropped_messages_total",
		Help: "Server messages dropped because a client queue was full.",
	}, []string{"type"})
	connectedClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kongjr_devserver_connected_clients",
		Help: "Clients currently registered with the hub.",
	})
)
