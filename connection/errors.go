// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import "errors"

// Connection errors.
var (
	// Configuration errors.
	ErrEmptyBrokerURL = errors.New("broker URL cannot be empty")
	ErrEmptyClientID  = errors.New("client ID cannot be empty")
	ErrEmptyTopic     = errors.New("topic cannot be empty")
	ErrInvalidTopic   = errors.New("invalid topic: contains wildcards or illegal characters")

	// Lifecycle errors.
	ErrConnect            = errors.New("unable to connect to broker")
	ErrSubscribe          = errors.New("failed to subscribe to topic")
	ErrReconnectExhausted = errors.New("unable to reconnect after several attempts")
	ErrTeardown           = errors.New("failed to tear down broker session")
	ErrAlreadyStarted     = errors.New("session already started")
	ErrTerminated         = errors.New("session terminated")

	// Client errors.
	ErrNotConnected      = errors.New("client not connected")
	ErrTimeout           = errors.New("operation timed out")
	ErrSubscribeRejected = errors.New("subscription rejected by broker")
)
