// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueSize is the default capacity of the inbound event queue.
const DefaultQueueSize = 256

var _ Handler = (*Manager)(nil)

// Manager drives a Client through the session state machine and feeds
// inbound traffic to a single consumer through Events.
type Manager struct {
	session *Session
	client  Client
	policy  RetryPolicy
	logger  *slog.Logger
	state   *stateManager

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	sleep          func(ctx context.Context, d time.Duration) error
	onReconnecting func(attempt int)
}

// NewManager creates a new Manager and registers it as the client's handler.
func NewManager(session *Session, client Client, policy RetryPolicy, queueSize int, logger *slog.Logger) (*Manager, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}

	m := &Manager{
		session: session,
		client:  client,
		policy:  policy,
		logger:  logger,
		state:   newStateManager(),
		events:  make(chan Event, queueSize),
		done:    make(chan struct{}),
		sleep:   sleep,
	}
	client.SetHandler(m)

	return m, nil
}

// SetOnReconnecting sets a callback invoked before each reconnect attempt.
func (m *Manager) SetOnReconnecting(fn func(attempt int)) {
	m.onReconnecting = fn
}

// State returns the current session state.
func (m *Manager) State() State {
	return m.state.get()
}

// Events returns the inbound event queue.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// IsConnected reports whether the network connection is open.
func (m *Manager) IsConnected() bool {
	return m.client.IsConnected()
}

// Start connects and subscribes to the session topic.
func (m *Manager) Start(ctx context.Context) error {
	if !m.state.transition(StateDisconnected, StateConnecting) {
		return ErrAlreadyStarted
	}

	m.logger.Info("Connecting to the MQTT broker", slog.String("broker", m.session.BrokerURL))
	if err := m.client.Connect(ctx); err != nil {
		m.state.set(StateTerminated)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	m.logger.Debug("Successfully connected to the MQTT broker")

	if err := m.subscribe(ctx); err != nil {
		m.state.set(StateTerminated)
		return err
	}

	m.state.set(StateConnected)
	return nil
}

// Reconnect runs the bounded reconnection procedure. On the first successful
// attempt the topic is resubscribed once and the session is Connected again.
// When every attempt fails the session is Terminated and
// ErrReconnectExhausted is returned.
func (m *Manager) Reconnect(ctx context.Context) error {
	if !m.state.transitionFrom(StateReconnecting, StateConnected, StateDisconnected) {
		return ErrTerminated
	}

	m.logger.Warn("Connection lost, will retry reconnection",
		slog.Int("max_attempts", m.policy.MaxAttempts))

	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		if err := m.sleep(ctx, m.policy.Backoff(attempt)); err != nil {
			m.state.set(StateDisconnected)
			return err
		}

		m.logger.Info("Retrying connection", slog.Int("attempt", attempt))
		if m.onReconnecting != nil {
			m.onReconnecting(attempt)
		}

		if err := m.client.Connect(ctx); err != nil {
			m.logger.Debug("Reconnect attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}

		m.logger.Info("Successfully reconnected", slog.Int("attempt", attempt))
		m.logger.Info("Resubscribing", slog.String("topic", m.session.Topic))
		if err := m.subscribe(ctx); err != nil {
			m.state.set(StateTerminated)
			return err
		}

		m.state.set(StateConnected)
		return nil
	}

	m.state.set(StateTerminated)
	m.logger.Error("Unable to reconnect after several attempts",
		slog.Int("attempts", m.policy.MaxAttempts))
	return ErrReconnectExhausted
}

// Publish sends payload through the client.
func (m *Manager) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	return m.client.Publish(ctx, topic, qos, payload)
}

// Close tears the session down. While still connected it unsubscribes and
// then disconnects; otherwise there is nothing to tear down.
func (m *Manager) Close(ctx context.Context) error {
	defer m.closeOnce.Do(func() { close(m.done) })

	if !m.client.IsConnected() {
		m.state.set(StateTerminated)
		return nil
	}

	m.logger.Info("Disconnecting")
	if err := m.client.Unsubscribe(ctx, m.session.Topic); err != nil {
		m.state.set(StateTerminated)
		return fmt.Errorf("%w: unsubscribe: %w", ErrTeardown, err)
	}
	m.logger.Debug("Successfully unsubscribed", slog.String("topic", m.session.Topic))

	if err := m.client.Disconnect(ctx); err != nil {
		m.state.set(StateTerminated)
		return fmt.Errorf("%w: disconnect: %w", ErrTeardown, err)
	}
	m.logger.Debug("Successfully disconnected from broker")

	m.state.set(StateTerminated)
	return nil
}

// HandleMessage implements Handler. It blocks while the queue is full so
// that no inbound message is dropped.
func (m *Manager) HandleMessage(msg Message) {
	m.enqueue(Event{Message: &msg})
}

// HandleConnectionLost implements Handler by waking the consumer.
func (m *Manager) HandleConnectionLost(err error) {
	m.logger.Warn("Broker connection lost", slog.Any("error", err))
	m.state.transition(StateConnected, StateDisconnected)
	m.enqueue(Event{Err: err})
}

func (m *Manager) enqueue(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Manager) subscribe(ctx context.Context) error {
	m.logger.Debug("Subscribing to topic", slog.String("topic", m.session.Topic))
	if err := m.client.Subscribe(ctx, m.session.Topic, m.session.QoS); err != nil {
		return fmt.Errorf("%w %s: %w", ErrSubscribe, m.session.Topic, err)
	}
	m.logger.Info("Subscribed to topic",
		slog.String("topic", m.session.Topic),
		slog.Int("qos", int(m.session.QoS)))
	return nil
}
