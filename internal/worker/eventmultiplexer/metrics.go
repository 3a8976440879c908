// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package eventmultiplexer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "shopstream_eventmultiplexer"

// Collector is a prometheus.Collector that collects metrics about the
// event multiplexer. A nil Collector collects nothing.
type Collector struct {
	routesRunning  prometheus.Gauge
	eventsHandled  *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	routeFailures  *prometheus.CounterVec
	heartbeatCount prometheus.Counter
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		routesRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "routes_running",
				Help:      "The number of routes delivering changes.",
			},
		),
		eventsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_handled_total",
				Help:      "The number of changes handled successfully.",
			}, []string{"route"},
		),
		handlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "handler_errors_total",
				Help:      "The number of changes a handler failed on.",
			}, []string{"route"},
		),
		decodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "decode_errors_total",
				Help:      "The number of changes skipped because their document could not be decoded.",
			}, []string{"route"},
		),
		routeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "route_failures_total",
				Help:      "The number of routes that stopped with an error.",
			}, []string{"route"},
		),
		heartbeatCount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "heartbeats_total",
				Help:      "The number of heartbeats emitted.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.routesRunning.Describe(ch)
	c.eventsHandled.Describe(ch)
	c.handlerErrors.Describe(ch)
	c.decodeErrors.Describe(ch)
	c.routeFailures.Describe(ch)
	c.heartbeatCount.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.routesRunning.Collect(ch)
	c.eventsHandled.Collect(ch)
	c.handlerErrors.Collect(ch)
	c.decodeErrors.Collect(ch)
	c.routeFailures.Collect(ch)
	c.heartbeatCount.Collect(ch)
}

func (c *Collector) routeStarted() {
	if c != nil {
		c.routesRunning.Inc()
	}
}

func (c *Collector) routeStopped() {
	if c != nil {
		c.routesRunning.Dec()
	}
}

func (c *Collector) handled(route string) {
	if c != nil {
		c.eventsHandled.WithLabelValues(route).Inc()
	}
}

func (c *Collector) handlerError(route string) {
	if c != nil {
		c.handlerErrors.WithLabelValues(route).Inc()
	}
}

func (c *Collector) decodeError(route string) {
	if c != nil {
		c.decodeErrors.WithLabelValues(route).Inc()
	}
}

func (c *Collector) routeFailure(route string) {
	if c != nil {
		c.routeFailures.WithLabelValues(route).Inc()
	}
}

func (c *Collector) heartbeat() {
	if c != nil {
		c.heartbeatCount.Inc()
	}
}
