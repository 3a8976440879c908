// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config_test

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/shopstream/internal/config"
)

type configSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&configSuite{})

func lookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func (s *configSuite) TestDefaults(c *gc.C) {
	cfg, err := config.Read(lookup(nil))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg, jc.DeepEquals, config.Config{
		Database:          "test",
		HeartbeatInterval: time.Second,
		CommitTimeout:     10 * time.Second,
		CommitAttempts:    3,
		DemoPause:         time.Second,
		LoggingConfig:     "<root>=WARNING",
	})
}

func (s *configSuite) TestOverrides(c *gc.C) {
	cfg, err := config.Read(lookup(map[string]string{
		config.Database:          "shop",
		config.HeartbeatInterval: "250ms",
		config.CommitTimeout:     " 2s ",
		config.CommitAttempts:    "5",
		config.DemoPause:         "0s",
		config.MetricsAddress:    "localhost:9100",
		config.LoggingConfig:     "<root>=INFO;shopstream.txn=TRACE",
	}))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg, jc.DeepEquals, config.Config{
		Database:          "shop",
		HeartbeatInterval: 250 * time.Millisecond,
		CommitTimeout:     2 * time.Second,
		CommitAttempts:    5,
		MetricsAddress:    "localhost:9100",
		LoggingConfig:     "<root>=INFO;shopstream.txn=TRACE",
	})
}

func (s *configSuite) TestNewAcceptsDurations(c *gc.C) {
	cfg, err := config.New(map[string]any{
		config.HeartbeatInterval: 3 * time.Second,
		config.CommitAttempts:    2,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.HeartbeatInterval, gc.Equals, 3*time.Second)
	c.Check(cfg.CommitAttempts, gc.Equals, 2)
}

func (s *configSuite) TestInvalid(c *gc.C) {
	for i, test := range []struct {
		env map[string]string
		err string
	}{{
		env: map[string]string{config.Database: ""},
		err: `reading config: .*expected non-empty SHOPSTREAM_DATABASE, got string\(""\)`,
	}, {
		env: map[string]string{config.CommitTimeout: "soon"},
		err: `reading config: SHOPSTREAM_COMMIT_TIMEOUT: .*`,
	}, {
		env: map[string]string{config.CommitAttempts: "many"},
		err: `reading config: SHOPSTREAM_COMMIT_ATTEMPTS: .*`,
	}, {
		env: map[string]string{config.CommitAttempts: "0"},
		err: `SHOPSTREAM_COMMIT_ATTEMPTS 0 not valid`,
	}, {
		env: map[string]string{config.HeartbeatInterval: "-1s"},
		err: `SHOPSTREAM_HEARTBEAT_INTERVAL -1s not valid`,
	}, {
		env: map[string]string{config.DemoPause: "-1s"},
		err: `SHOPSTREAM_DEMO_PAUSE -1s not valid`,
	}} {
		c.Logf("test %d: %v", i, test.env)
		_, err := config.Read(lookup(test.env))
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, test.err)
	}
}
