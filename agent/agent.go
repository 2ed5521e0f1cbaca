// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the session loop: it takes events from the broker
// session, runs commands and reports their output.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/mqterm/connection"
	"github.com/absmach/mqterm/executor"
	"github.com/absmach/mqterm/history"
	"github.com/absmach/mqterm/protocol"
	"github.com/absmach/mqterm/ratelimit"
	mqotel "github.com/absmach/mqterm/server/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/absmach/mqterm/agent"

// Connection is the broker session seen by the loop.
type Connection interface {
	Events() <-chan connection.Event
	IsConnected() bool
	Reconnect(ctx context.Context) error
}

// Executor runs a single command.
type Executor interface {
	Execute(ctx context.Context, command string) (executor.Output, error)
}

// Publisher reports the output of a command.
type Publisher interface {
	Publish(ctx context.Context, out executor.Output) error

	// Reset clears failure state kept about the previous connection.
	Reset()
}

// Config configures an Agent.
type Config struct {
	// RejectMalformed makes a command that is not valid UTF-8 terminate the
	// loop. Otherwise invalid sequences are replaced and the command runs.
	RejectMalformed bool
}

// Agent is the single sequential session loop.
type Agent struct {
	cfg       Config
	conn      Connection
	exec      Executor
	publisher Publisher
	limiter   *ratelimit.CommandLimiter
	history   history.Store
	metrics   *mqotel.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures optional collaborators of an Agent.
type Option func(*Agent)

// WithLimiter paces command execution.
func WithLimiter(l *ratelimit.CommandLimiter) Option {
	return func(a *Agent) { a.limiter = l }
}

// WithHistory records every executed command.
func WithHistory(s history.Store) Option {
	return func(a *Agent) { a.history = s }
}

// WithMetrics records agent metrics.
func WithMetrics(m *mqotel.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithTracer sets the tracer used for command spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) { a.tracer = t }
}

// New creates a new Agent.
func New(cfg Config, conn Connection, exec Executor, pub Publisher, logger *slog.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		cfg:       cfg,
		conn:      conn,
		exec:      exec,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}

	return a
}

// Run processes events until ctx is done, reconnection is exhausted or a
// fatal error occurs. Cancellation returns nil.
func (a *Agent) Run(ctx context.Context) error {
	events := a.conn.Events()

	for {
		if ctx.Err() != nil {
			a.logger.Info("Stopping session loop")
			return nil
		}

		select {
		case <-ctx.Done():
			a.logger.Info("Stopping session loop")
			return nil
		case ev := <-events:
			if ev.Message == nil {
				if err := a.checkConnection(ctx); err != nil {
					return err
				}
				continue
			}
			if err := a.handle(ctx, *ev.Message); err != nil {
				a.metrics.RecordError(errorType(err))
				return err
			}
		}
	}
}

func (a *Agent) checkConnection(ctx context.Context) error {
	if a.conn.IsConnected() {
		return nil
	}

	err := a.conn.Reconnect(ctx)
	switch {
	case err == nil:
		a.publisher.Reset()
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		a.metrics.RecordError(errorType(err))
		return err
	}
}

func (a *Agent) handle(ctx context.Context, msg connection.Message) error {
	a.metrics.RecordMessageReceived()

	command, ok, err := protocol.ParseCommand(msg.Payload, a.cfg.RejectMalformed)
	if err != nil {
		return err
	}
	if !ok {
		a.metrics.RecordMessageIgnored()
		return nil
	}

	a.logger.Info("Received command", slog.String("command", command))

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			// Only cancellation ends the wait.
			return nil
		}
	}

	ctx, span := a.tracer.Start(ctx, "agent.command",
		trace.WithAttributes(attribute.String("mqterm.command", command)))
	defer span.End()

	startedAt := a.now()
	out, err := a.exec.Execute(ctx, command)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.Bool("mqterm.success", out.Success),
		attribute.Int("mqterm.exit_code", out.ExitCode),
	)
	a.metrics.RecordCommand(out.Success, out.Duration, len(out.Text()))

	if err := a.publisher.Publish(ctx, out); err != nil {
		span.RecordError(err)
		a.metrics.RecordPublishFailure()
		a.logger.Error("Failed to send output",
			slog.String("command", command),
			slog.String("error", err.Error()))
	}

	if a.history != nil {
		if err := a.history.Append(history.NewRecord(command, out, startedAt)); err != nil {
			a.logger.Warn("Failed to record command history", slog.String("error", err.Error()))
		}
	}

	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformedCommand):
		return "protocol"
	case errors.Is(err, executor.ErrSpawn):
		return "execution"
	case errors.Is(err, executor.ErrEncoding):
		return "encoding"
	case errors.Is(err, connection.ErrReconnectExhausted):
		return "reconnect_exhausted"
	case errors.Is(err, connection.ErrSubscribe):
		return "subscribe"
	case errors.Is(err, connection.ErrConnect):
		return "connect"
	default:
		return "unknown"
	}
}
