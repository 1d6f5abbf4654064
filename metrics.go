// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

package kproxy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics record proxy activity counters. By default all connections share
// one collection; use NewMetrics to give a connection (or a test) its own.
type Metrics struct {
	FramesIn           *prometheus.CounterVec // by direction
	FramesOut          *prometheus.CounterVec // by direction
	FramesDropped      prometheus.Counter
	RequestsDecoded    prometheus.Counter
	ResponsesDecoded   prometheus.Counter
	ChainSuspensions   prometheus.Counter
	FilterFailures     prometheus.Counter
	UnmatchedResponses prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	RequestsInFlight   prometheus.Gauge

	reg *prometheus.Registry
}

// NewMetrics constructs a fresh metrics collection on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kproxy", Name: "frames_in_total",
			Help: "Frames received, by direction.",
		}, []string{"direction"}),
		FramesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kproxy", Name: "frames_out_total",
			Help: "Frames forwarded, by direction.",
		}, []string{"direction"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kproxy", Name: "frames_dropped_total",
			Help: "Frames received and discarded.",
		}),
		RequestsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kproxy", Name: "requests_decoded_total",
			Help: "Request frames fully decoded for filtering.",
		}),
		ResponsesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kproxy", Name: "responses_decoded_total",
			Help: "Response frames fully decoded for filtering.",
		}),
		ChainSuspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kproxy", Name: "chain_suspensions_total",
			Help: "Filter chain walks suspended on a future.",
		}),
		FilterFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kproxy", Name: "filter_failures_total",
			Help: "Frames failed by a filter or suspension.",
		}),
		UnmatchedResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kproxy", Name: "unmatched_responses_total",
			Help: "Responses whose correlation id had no outstanding request.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kproxy", Name: "connections_active",
			Help: "Proxied connections currently running.",
		}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kproxy", Name: "requests_in_flight",
			Help: "Requests awaiting a response across all connections.",
		}),
		reg: prometheus.NewRegistry(),
	}
	m.reg.MustRegister(
		m.FramesIn, m.FramesOut, m.FramesDropped,
		m.RequestsDecoded, m.ResponsesDecoded,
		m.ChainSuspensions, m.FilterFailures, m.UnmatchedResponses,
		m.ConnectionsActive, m.RequestsInFlight,
	)
	return m
}

// Registry returns the registry holding m's collectors, for exposition.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

var (
	rootMetricsOnce sync.Once
	rootMetrics     *Metrics
)

// DefaultMetrics returns the shared metrics collection used by connections
// that were not given their own.
func DefaultMetrics() *Metrics {
	rootMetricsOnce.Do(func() { rootMetrics = NewMetrics() })
	return rootMetrics
}
