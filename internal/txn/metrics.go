// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "shopstream_txn"

// Collector is a prometheus.Collector that collects metrics about the
// coordinator. A nil Collector collects nothing.
type Collector struct {
	runs          *prometheus.CounterVec
	commitRetries prometheus.Counter
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "The number of business operations applied, by mode and outcome.",
			}, []string{"mode", "outcome"},
		),
		commitRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commit_retries_total",
				Help:      "The number of commits retried after a retryable failure.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.runs.Describe(ch)
	c.commitRetries.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.runs.Collect(ch)
	c.commitRetries.Collect(ch)
}

func (c *Collector) run(mode Mode, ok bool) {
	if c == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	c.runs.WithLabelValues(mode.String(), outcome).Inc()
}

func (c *Collector) commitRetry() {
	if c != nil {
		c.commitRetries.Inc()
	}
}
