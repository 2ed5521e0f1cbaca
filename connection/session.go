// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"crypto/tls"
	"time"

	"github.com/google/uuid"
)

// Default session values.
const (
	DefaultQoS            byte = 2
	DefaultKeepAlive           = 20 * time.Second
	DefaultConnectTimeout      = 30 * time.Second
	DefaultAckTimeout          = 30 * time.Second
	DefaultWillPayload         = "Server has lost connection"
)

// Session holds the broker session parameters. It is built once at startup
// and never changes afterwards.
type Session struct {
	BrokerURL string
	ClientID  string
	Topic     string

	// QoS is shared by the subscription, the will and every publish.
	QoS byte

	// CleanSession false asks the broker to keep the subscription across
	// reconnects.
	CleanSession bool

	// WillPayload is published on Topic by the broker if the session drops
	// without a clean disconnect.
	WillPayload []byte

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	AckTimeout     time.Duration

	// TLS is used for ssl://, tls:// and wss:// brokers. Nil uses the
	// system defaults.
	TLS *tls.Config
}

// NewSession creates session parameters with defaults. An empty clientID is
// replaced with a random UUID.
func NewSession(brokerURL, clientID, topic string) (*Session, error) {
	if brokerURL == "" {
		return nil, ErrEmptyBrokerURL
	}
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	return &Session{
		BrokerURL:      brokerURL,
		ClientID:       clientID,
		Topic:          topic,
		QoS:            DefaultQoS,
		CleanSession:   false,
		WillPayload:    []byte(DefaultWillPayload),
		KeepAlive:      DefaultKeepAlive,
		ConnectTimeout: DefaultConnectTimeout,
		AckTimeout:     DefaultAckTimeout,
	}, nil
}

// Validate checks the session for errors.
func (s *Session) Validate() error {
	if s.BrokerURL == "" {
		return ErrEmptyBrokerURL
	}
	if s.ClientID == "" {
		return ErrEmptyClientID
	}
	return ValidateTopic(s.Topic)
}
