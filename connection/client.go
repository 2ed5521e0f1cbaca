// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package connection owns the broker session lifecycle: connect, subscribe,
// detect disconnection, bounded reconnection and teardown.
package connection

import "context"

// Message is an inbound publish received on the session topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Event is the unit consumed by the session loop. A nil Message is a wake
// signal meaning "no message, check the connection state".
type Event struct {
	Message *Message
	Err     error // reason for a connection loss wake, if known
}

// Handler receives traffic from a Client's network goroutines.
type Handler interface {
	HandleMessage(msg Message)
	HandleConnectionLost(err error)
}

// Client is the messaging client used by the Manager. Implementations must
// not reconnect on their own.
type Client interface {
	// SetHandler installs the callback target. It is called before Connect.
	SetHandler(h Handler)
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
}
