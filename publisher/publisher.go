// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package publisher sends command results back to the broker.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/mqterm/executor"
	"github.com/absmach/mqterm/protocol"
	"github.com/sony/gobreaker"
)

// ErrPublish wraps every failure to deliver an output message.
var ErrPublish = errors.New("failed to send output")

// Sender delivers a payload to the broker.
type Sender interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

// Config configures a Publisher.
type Config struct {
	Topic string
	QoS   byte

	// FailureThreshold opens the circuit after that many consecutive send
	// failures. Zero keeps the circuit closed, so every output is attempted.
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Message is an outbound result message.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// Publisher formats command output and sends it through a circuit breaker.
type Publisher struct {
	cfg     Config
	sender  Sender
	breaker atomic.Pointer[gobreaker.CircuitBreaker]
	logger  *slog.Logger
}

// New creates a new Publisher.
func New(cfg Config, sender Sender, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Publisher{
		cfg:    cfg,
		sender: sender,
		logger: logger,
	}
	p.breaker.Store(p.newBreaker())

	return p
}

func (p *Publisher) newBreaker() *gobreaker.CircuitBreaker {
	threshold := p.cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "publish",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     p.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.logger.Warn("publish circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// Build creates the output message for a command result.
func (p *Publisher) Build(out executor.Output) Message {
	return Message{
		Topic:   p.cfg.Topic,
		Payload: protocol.FormatOutput(out.Text()),
		QoS:     p.cfg.QoS,
	}
}

// Publish sends the output of one command. Errors wrap ErrPublish.
func (p *Publisher) Publish(ctx context.Context, out executor.Output) error {
	msg := p.Build(out)

	if out.Success {
		p.logger.Debug("Command successfully executed, sending stdout")
	} else {
		p.logger.Debug("Command has failed, sending stderr")
	}

	_, err := p.breaker.Load().Execute(func() (interface{}, error) {
		return nil, p.sender.Publish(ctx, msg.Topic, msg.QoS, msg.Payload)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	p.logger.Debug("Successfully sent output", slog.Int("bytes", len(msg.Payload)))
	return nil
}

// State returns the circuit breaker state name. It is safe to call from
// another goroutine.
func (p *Publisher) State() string {
	return p.breaker.Load().State().String()
}

// Reset closes the circuit and clears its failure counts.
func (p *Publisher) Reset() {
	if p.breaker.Load().State() != gobreaker.StateClosed {
		p.logger.Info("Resetting publish circuit breaker")
	}
	p.breaker.Store(p.newBreaker())
}
