package main

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"i4.energy/across/shortrange/shortrange"
)

var (
	connectionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shortranged",
			Subsystem: "module",
			Name:      "connection_events_total",
			Help:      "Connection events reported by the module",
		},
		[]string{"kind", "status"},
	)

	spsBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shortranged",
			Subsystem: "sps",
			Name:      "bytes_total",
			Help:      "Bytes moved over SPS channels",
		},
		[]string{"direction"},
	)

	commandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shortranged",
			Subsystem: "module",
			Name:      "command_errors_total",
			Help:      "Failed module operations by result code",
		},
		[]string{"op", "code"},
	)

	openChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shortranged",
			Subsystem: "sps",
			Name:      "open_channels",
			Help:      "SPS channels currently open",
		},
	)
)

func init() {
	prometheus.MustRegister(connectionEvents, spsBytes, commandErrors, openChannels)
}

func observeConnection(kind string, status shortrange.ConnStatus) {
	connectionEvents.WithLabelValues(kind, status.String()).Inc()
	if kind != "sps" {
		return
	}
	if status == shortrange.Connected {
		openChannels.Inc()
	} else {
		openChannels.Dec()
	}
}

// observeError counts err against op. A nil err is ignored.
func observeError(op string, err error) {
	if err == nil {
		return
	}
	commandErrors.WithLabelValues(op, strconv.Itoa(shortrange.Code(err))).Inc()
}
