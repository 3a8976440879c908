// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"context"
	"net"
	"net/http"
	"os"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juju/shopstream/internal/config"
	"github.com/juju/shopstream/internal/store"
	"github.com/juju/shopstream/internal/store/dial"
	"github.com/juju/shopstream/internal/store/mongostore"
)

var logger = loggo.GetLogger("shopstream.cmd")

// DialFunc opens a connection to the store at uri.
type DialFunc func(ctx context.Context, uri, database string) (store.Connection, error)

// StoreCommandBase is embedded by the commands whose only argument is
// the URI of the store they work on.
type StoreCommandBase struct {
	URI string

	// Lookup reads the environment. It defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
	// Dial defaults to dial.Open.
	Dial DialFunc
}

// SetFlags implements Command.
func (c *StoreCommandBase) SetFlags(f *gnuflag.FlagSet) {}

// Init implements Command.
func (c *StoreCommandBase) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("missing store URI")
	}
	c.URI = args[0]
	return CheckEmpty(args[1:])
}

// Environment is what a store command runs with.
type Environment struct {
	Config   config.Config
	Conn     store.Connection
	Registry *prometheus.Registry

	stopMetrics func(context.Context) error
}

// Open reads the config, configures logging, connects to the store and
// starts the metrics endpoint if one is configured.
func (c *StoreCommandBase) Open(ctx context.Context) (*Environment, error) {
	lookup := c.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg, err := config.Read(lookup)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
		return nil, errors.Annotatef(err, "configuring logging from %s", config.LoggingConfig)
	}

	dialFn := c.Dial
	if dialFn == nil {
		dialFn = dial.Open
	}
	conn, err := dialFn(ctx, c.URI, cfg.Database)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", mongostore.Redact(c.URI))
	}
	logger.Infof("connected to %s, database %q", mongostore.Redact(c.URI), cfg.Database)

	env := &Environment{
		Config:   cfg,
		Conn:     conn,
		Registry: prometheus.NewRegistry(),
	}
	if cfg.MetricsAddress != "" {
		if env.stopMetrics, err = serveMetrics(cfg.MetricsAddress, env.Registry); err != nil {
			_ = conn.Close(ctx)
			return nil, errors.Trace(err)
		}
	}
	return env, nil
}

// Close stops the metrics endpoint and closes the connection.
func (e *Environment) Close(ctx context.Context) error {
	if e.stopMetrics != nil {
		if err := e.stopMetrics(ctx); err != nil {
			logger.Warningf("stopping metrics endpoint: %v", err)
		}
	}
	return errors.Trace(e.Conn.Close(ctx))
}

func serveMetrics(addr string, registry *prometheus.Registry) (func(context.Context) error, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listening for metrics on %q", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics endpoint: %v", err)
		}
	}()
	logger.Infof("serving metrics on %s", l.Addr())
	return srv.Shutdown, nil
}
