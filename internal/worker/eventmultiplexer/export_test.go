// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package eventmultiplexer

import "github.com/prometheus/client_golang/prometheus"

func RouteFailures(c *Collector, route string) prometheus.Counter {
	return c.routeFailures.WithLabelValues(route)
}

func DecodeErrors(c *Collector, route string) prometheus.Counter {
	return c.decodeErrors.WithLabelValues(route)
}

func Heartbeats(c *Collector) prometheus.Counter {
	return c.heartbeatCount
}
