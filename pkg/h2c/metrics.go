package h2c

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2c_frames_sent_total",
			Help: "Total number of HTTP/2 frames sent, by frame type.",
		},
		[]string{"type"},
	)

	framesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2c_frames_received_total",
			Help: "Total number of HTTP/2 frames received, by frame type.",
		},
		[]string{"type"},
	)

	bytesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2c_bytes_sent_total",
			Help: "Total bytes written to the transport.",
		},
	)

	bytesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2c_bytes_received_total",
			Help: "Total bytes fed in from the transport.",
		},
	)

	openStreamsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "h2c_open_streams",
			Help: "Current number of open streams across all connections in this process.",
		},
	)

	requestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2c_request_errors_total",
			Help: "Total number of stream-scoped errors delivered to callers, by reason.",
		},
		[]string{"reason"},
	)
)
