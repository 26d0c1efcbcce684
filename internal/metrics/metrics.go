// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ffutop/mbrtu/modbus"
	"github.com/ffutop/mbrtu/modbus/rtu"
)

// Result labels.
const (
	ResultOK               = "ok"
	ResultMalformedLength  = "malformed_length"
	ResultChecksumMismatch = "checksum_mismatch"
	ResultUnitMismatch     = "unit_mismatch"
	ResultUnsupported      = "unsupported_function"
	ResultException        = "exception"
	ResultTimeout          = "timeout"
	ResultIOError          = "io_error"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics counts frames through the codec. A nil *Metrics discards everything.
type Metrics struct {
	FramesSent     *prometheus.CounterVec // labels: function
	FramesReceived *prometheus.CounterVec // labels: function, result
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
}

// New registers the codec metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbrtu_frames_sent_total",
			Help: "RTU frames written to the line.",
		}, []string{"function"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbrtu_frames_received_total",
			Help: "RTU frames read from the line by validation result.",
		}, []string{"function", "result"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbrtu_bytes_sent_total",
			Help: "Bytes written to the line.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbrtu_bytes_received_total",
			Help: "Bytes read from the line.",
		}),
	}
	reg.MustRegister(m.FramesSent, m.FramesReceived, m.BytesSent, m.BytesReceived)
	return m
}

// Sent records an outbound frame.
func (m *Metrics) Sent(frame []byte) {
	if m == nil || len(frame) < 2 {
		return
	}
	m.FramesSent.WithLabelValues(functionLabel(frame[1])).Inc()
	m.BytesSent.Add(float64(len(frame)))
}

// Received records an inbound frame for functionCode and the outcome of handling it.
func (m *Metrics) Received(functionCode byte, frame []byte, err error) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(functionLabel(functionCode), Classify(err)).Inc()
	m.BytesReceived.Add(float64(len(frame)))
}

// Classify maps an error from the codec or a link to a result label.
func Classify(err error) string {
	var exc *modbus.Error
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, rtu.ErrMalformedLength):
		return ResultMalformedLength
	case errors.Is(err, rtu.ErrChecksumMismatch):
		return ResultChecksumMismatch
	case errors.Is(err, rtu.ErrUnitMismatch):
		return ResultUnitMismatch
	case errors.Is(err, rtu.ErrUnsupportedFunctionCode):
		return ResultUnsupported
	case errors.As(err, &exc):
		return ResultException
	case errors.Is(err, rtu.ErrRequestTimedOut):
		return ResultTimeout
	default:
		return ResultIOError
	}
}

func functionLabel(functionCode byte) string {
	return fmt.Sprintf("0x%02X", functionCode&^0x80)
}
