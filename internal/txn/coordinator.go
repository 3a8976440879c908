// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package txn applies the writes of a business operation across
// collections, either one by one or atomically in a transaction.
package txn

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/juju/shopstream/internal/store"
)

const (
	// DefaultCommitAttempts is the number of commit attempts made when
	// none is configured.
	DefaultCommitAttempts = 3

	// DefaultCommitTimeout bounds a single commit attempt when no bound
	// is configured.
	DefaultCommitTimeout = 10 * time.Second

	// DefaultCommitRetryDelay is the pause between commit attempts when
	// none is configured.
	DefaultCommitRetryDelay = 100 * time.Millisecond
)

// Logger represents the logging methods called.
type Logger interface {
	Tracef(message string, args ...any)
	Debugf(message string, args ...any)
	Infof(message string, args ...any)
	Warningf(message string, args ...any)
	Errorf(message string, args ...any)
}

// Config holds the configuration of a Coordinator.
type Config struct {
	Connection store.Connection

	// Collections are the collections ops may write to.
	Collections []string

	// CommitAttempts bounds the number of commit attempts.
	CommitAttempts int
	// CommitTimeout bounds each commit attempt.
	CommitTimeout time.Duration
	// CommitRetryDelay is the pause between commit attempts.
	CommitRetryDelay time.Duration

	// BetweenOps, if set, is called before every op but the first. An
	// error fails the operation.
	BetweenOps func(ctx context.Context, index int, op WriteOp) error

	// BeforeCommit, if set, is called once every op of a transactional
	// run has been issued, before the commit. An error aborts the
	// transaction.
	BeforeCommit func(ctx context.Context, runID string) error

	// Metrics, if set, collects run and commit counters.
	Metrics *Collector

	Clock  clock.Clock
	Logger Logger
}

// Validate ensures that the config values are valid.
func (config Config) Validate() error {
	if config.Connection == nil {
		return errors.NotValidf("missing Connection")
	}
	if len(config.Collections) == 0 {
		return errors.NotValidf("missing Collections")
	}
	if config.CommitAttempts < 0 {
		return errors.NotValidf("negative CommitAttempts")
	}
	if config.CommitTimeout < 0 {
		return errors.NotValidf("negative CommitTimeout")
	}
	if config.CommitRetryDelay < 0 {
		return errors.NotValidf("negative CommitRetryDelay")
	}
	if config.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("missing Logger")
	}
	return nil
}

// Result describes how far a business operation got.
type Result struct {
	// RunID identifies the run in logs.
	RunID string
	Mode  Mode
	// Applied is the number of ops issued successfully. In None mode they
	// are durable; in Transactional mode only if Committed.
	Applied int
	// Committed is true once the transaction commit was acknowledged.
	Committed bool
	// CommitAttempts is the number of commit attempts made.
	CommitAttempts int
	// State is the last state of the session before it ended.
	State State
}

// Coordinator applies business operations. It is safe for concurrent use;
// every Apply runs on its own session.
type Coordinator struct {
	config      Config
	collections set.Strings
}

// NewCoordinator returns a coordinator for the given config.
func NewCoordinator(config Config) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.CommitAttempts == 0 {
		config.CommitAttempts = DefaultCommitAttempts
	}
	if config.CommitTimeout == 0 {
		config.CommitTimeout = DefaultCommitTimeout
	}
	if config.CommitRetryDelay == 0 {
		config.CommitRetryDelay = DefaultCommitRetryDelay
	}
	return &Coordinator{
		config:      config,
		collections: set.NewStrings(config.Collections...),
	}, nil
}

// Apply issues ops in order using the given mode. The returned Result is
// meaningful whether or not an error is returned.
func (c *Coordinator) Apply(ctx context.Context, mode Mode, ops []WriteOp) (Result, error) {
	result := Result{
		RunID: uuid.NewString(),
		Mode:  mode,
	}
	if err := c.validate(mode, ops); err != nil {
		return result, errors.Trace(err)
	}

	logger := c.config.Logger
	logger.Debugf("run %s: applying %d op(s) with mode %s", result.RunID, len(ops), mode)

	var err error
	switch mode {
	case None:
		err = c.issue(ctx, noSession{}, ops, &result)
	case Transactional:
		err = c.applyTransactional(ctx, ops, &result)
	}
	c.config.Metrics.run(mode, err == nil)
	if err != nil {
		logger.Infof("run %s (%s) failed after %d op(s): %v", result.RunID, mode, result.Applied, err)
		return result, errors.Trace(err)
	}
	logger.Debugf("run %s (%s) succeeded", result.RunID, mode)
	return result, nil
}

func (c *Coordinator) validate(mode Mode, ops []WriteOp) error {
	if mode != None && mode != Transactional {
		return errors.NotValidf("transaction mode %s", mode)
	}
	if len(ops) == 0 {
		return errors.NotValidf("empty op list")
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return errors.Annotatef(err, "op %d", i)
		}
		if !c.collections.Contains(op.Collection) {
			return errors.NotValidf("op %d on unknown collection %q", i, op.Collection)
		}
	}
	return nil
}

func (c *Coordinator) applyTransactional(ctx context.Context, ops []WriteOp, result *Result) (err error) {
	session, err := c.config.Connection.StartSession()
	if err != nil {
		return errors.Annotate(err, "starting session")
	}
	tracked := newTrackedSession(session)
	defer func() {
		// The session is released with a context of its own so that a
		// cancelled operation still frees it on the server.
		tracked.end(context.WithoutCancel(ctx))
		result.State = tracked.outcome
	}()

	if err := tracked.start(store.TxnOptions{WriteConcern: store.Majority}); err != nil {
		return errors.Trace(err)
	}
	if err := c.issue(ctx, tracked.scope(), ops, result); err != nil {
		c.abort(ctx, tracked, result.RunID)
		return errors.Trace(err)
	}
	if c.config.BeforeCommit != nil {
		if err := c.config.BeforeCommit(ctx, result.RunID); err != nil {
			c.abort(ctx, tracked, result.RunID)
			return errors.Annotate(err, "before commit")
		}
	}

	attempts, err := c.commit(ctx, tracked, result.RunID)
	result.CommitAttempts = attempts
	if err != nil {
		c.abort(ctx, tracked, result.RunID)
		return errors.Trace(err)
	}
	result.Committed = true
	return nil
}

// issue runs the ops in order, stopping at the first failure.
func (c *Coordinator) issue(ctx context.Context, sc scope, ops []WriteOp, result *Result) error {
	for i, op := range ops {
		if i > 0 && c.config.BetweenOps != nil {
			if err := c.config.BetweenOps(ctx, i, op); err != nil {
				return errors.Annotatef(err, "before op %d (%s)", i, op)
			}
		}
		if err := c.write(sc.bind(ctx), op); err != nil {
			return errors.Annotatef(err, "op %d (%s)", i, op)
		}
		result.Applied++
		c.config.Logger.Tracef("run %s: applied %s", result.RunID, op)
	}
	return nil
}

func (c *Coordinator) write(ctx context.Context, op WriteOp) error {
	coll := c.config.Connection.Collection(op.Collection)
	switch op.Kind {
	case Insert:
		return errors.Trace(coll.InsertOne(ctx, op.Document))
	case Update:
		res, err := coll.UpdateOne(ctx, op.Filter, op.Mutation)
		if err != nil {
			return errors.Trace(err)
		}
		if res.Matched == 0 {
			return errors.Annotatef(store.ErrNoMatch, "%s in %q", op.Filter, op.Collection)
		}
		return nil
	case DeleteMany:
		_, err := coll.DeleteMany(ctx, op.Filter)
		return errors.Trace(err)
	}
	return errors.NotValidf("op kind %s", op.Kind)
}

// commit commits the transaction, retrying only the commit itself for
// errors the store labels as safe to retry.
func (c *Coordinator) commit(ctx context.Context, session *trackedSession, runID string) (int, error) {
	var attempts int
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			commitCtx, cancel := context.WithTimeout(ctx, c.config.CommitTimeout)
			defer cancel()
			return session.commit(commitCtx)
		},
		IsFatalError: func(err error) bool {
			return !IsRetryableCommitError(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			c.config.Metrics.commitRetry()
			c.config.Logger.Warningf("run %s: commit attempt %d failed, retrying: %v", runID, attempt, lastError)
		},
		Attempts: c.config.CommitAttempts,
		Delay:    c.config.CommitRetryDelay,
		Clock:    c.config.Clock,
		Stop:     ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	if err != nil {
		return attempts, errors.Annotatef(err, "committing after %d attempt(s)", attempts)
	}
	return attempts, nil
}

func (c *Coordinator) abort(ctx context.Context, session *trackedSession, runID string) {
	if err := session.abort(context.WithoutCancel(ctx)); err != nil {
		c.config.Logger.Warningf("run %s: aborting transaction: %v", runID, err)
	}
}

// IsRetryableCommitError reports whether a failed commit may be retried.
// A transient transaction error is not: the transaction is gone and only
// running it again from the start can succeed.
func IsRetryableCommitError(err error) bool {
	return store.HasErrorLabel(err, store.UnknownTransactionCommitResult)
}
