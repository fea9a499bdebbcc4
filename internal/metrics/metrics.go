// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesSentTotal counts frames written to the RTI by marker name.
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedlink_frames_sent_total",
			Help: "Total number of frames sent to the RTI",
		},
		[]string{"marker"},
	)

	// FramesReceivedTotal counts frames decoded from the RTI by marker name.
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedlink_frames_received_total",
			Help: "Total number of frames received from the RTI",
		},
		[]string{"marker"},
	)

	// PayloadBytesSentTotal counts payload bytes written to the RTI.
	PayloadBytesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedlink_payload_bytes_sent_total",
			Help: "Total payload bytes sent to the RTI",
		},
	)

	// PayloadBytesReceivedTotal counts payload bytes read from the RTI.
	PayloadBytesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedlink_payload_bytes_received_total",
			Help: "Total payload bytes received from the RTI",
		},
	)

	// ConnectAttemptsTotal counts dial attempts towards the RTI.
	ConnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedlink_connect_attempts_total",
			Help: "Total number of connection attempts to the RTI",
		},
	)

	// ConnectionState tracks the current RTI connection state
	// (0=disconnected, 1=connecting, 2=connected, 3=failed).
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fedlink_connection_state",
			Help: "Current RTI connection state (0=disconnected, 1=connecting, 2=connected, 3=failed)",
		},
	)

	// EventsScheduledTotal counts inbound frames handed to the local
	// scheduler, split by timed and untimed.
	EventsScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedlink_events_scheduled_total",
			Help: "Total number of inbound events handed to the local scheduler",
		},
		[]string{"kind"},
	)

	// BrokerFederates tracks the number of federates registered with the
	// local RTI broker.
	BrokerFederates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fedlink_broker_federates",
			Help: "Number of federates currently registered with the broker",
		},
	)

	// BrokerRelayedTotal counts frames relayed between federates by the
	// local RTI broker.
	BrokerRelayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedlink_broker_relayed_total",
			Help: "Total number of frames relayed between federates",
		},
	)
)
