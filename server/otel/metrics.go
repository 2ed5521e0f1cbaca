// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	messagesReceived  metric.Int64Counter
	messagesIgnored   metric.Int64Counter
	commandsTotal     metric.Int64Counter
	publishFailures   metric.Int64Counter
	reconnectAttempts metric.Int64Counter
	errorsTotal       metric.Int64Counter

	commandDuration metric.Float64Histogram
	outputSize      metric.Int64Histogram
}

// NewMetrics creates a new Metrics instance. A nil provider uses the global
// meter provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	m := &Metrics{
		meter: provider.Meter("mqterm-agent"),
	}

	var err error

	m.messagesReceived, err = m.meter.Int64Counter(
		"mqterm.messages.received.total",
		metric.WithDescription("Total messages received on the agent topic"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesReceived counter: %w", err)
	}

	m.messagesIgnored, err = m.meter.Int64Counter(
		"mqterm.messages.ignored.total",
		metric.WithDescription("Messages without the command prefix"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesIgnored counter: %w", err)
	}

	m.commandsTotal, err = m.meter.Int64Counter(
		"mqterm.commands.total",
		metric.WithDescription("Total commands executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commandsTotal counter: %w", err)
	}

	m.publishFailures, err = m.meter.Int64Counter(
		"mqterm.publish.failures.total",
		metric.WithDescription("Output messages that could not be sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishFailures counter: %w", err)
	}

	m.reconnectAttempts, err = m.meter.Int64Counter(
		"mqterm.reconnect.attempts.total",
		metric.WithDescription("Broker reconnection attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconnectAttempts counter: %w", err)
	}

	m.errorsTotal, err = m.meter.Int64Counter(
		"mqterm.errors.total",
		metric.WithDescription("Errors by type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	m.commandDuration, err = m.meter.Float64Histogram(
		"mqterm.command.duration.ms",
		metric.WithDescription("Command execution duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commandDuration histogram: %w", err)
	}

	m.outputSize, err = m.meter.Int64Histogram(
		"mqterm.output.size.bytes",
		metric.WithDescription("Published output payload size"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outputSize histogram: %w", err)
	}

	return m, nil
}

// RecordMessageReceived records an inbound message.
func (m *Metrics) RecordMessageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Add(context.Background(), 1)
}

// RecordMessageIgnored records a message without the command prefix.
func (m *Metrics) RecordMessageIgnored() {
	if m == nil {
		return
	}
	m.messagesIgnored.Add(context.Background(), 1)
}

// RecordCommand records an executed command.
func (m *Metrics) RecordCommand(success bool, duration time.Duration, outputBytes int) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.commandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
	m.commandDuration.Record(ctx, float64(duration)/float64(time.Millisecond))
	m.outputSize.Record(ctx, int64(outputBytes))
}

// RecordPublishFailure records an output message that was not sent.
func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Add(context.Background(), 1)
}

// RecordReconnectAttempt records one reconnection attempt.
func (m *Metrics) RecordReconnectAttempt(attempt int) {
	if m == nil {
		return
	}
	m.reconnectAttempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Int("attempt", attempt),
	))
}

// RecordError records an error by type.
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", errorType),
	))
}
