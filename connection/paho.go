// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// disconnectQuiesce is how long Disconnect lets in-flight work finish, in ms.
const disconnectQuiesce = 250

// subscribeFailure is the SUBACK return code for a refused subscription.
const subscribeFailure = 0x80

var _ Client = (*PahoClient)(nil)

// PahoClient adapts the Eclipse Paho MQTT client to the Client interface.
// Paho's automatic reconnection is disabled: reconnection is driven by the
// Manager's retry policy.
type PahoClient struct {
	client         mqtt.Client
	connectTimeout time.Duration
	ackTimeout     time.Duration

	mu      sync.RWMutex
	handler Handler
}

// NewPahoClient creates a Paho client configured from the session.
func NewPahoClient(s *Session) *PahoClient {
	p := &PahoClient{
		connectTimeout: s.ConnectTimeout,
		ackTimeout:     s.AckTimeout,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.BrokerURL).
		SetClientID(s.ClientID).
		SetCleanSession(s.CleanSession).
		SetKeepAlive(s.KeepAlive).
		SetConnectTimeout(s.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetBinaryWill(s.Topic, s.WillPayload, s.QoS, false).
		SetDefaultPublishHandler(p.onMessage).
		SetConnectionLostHandler(p.onConnectionLost)
	if s.TLS != nil {
		opts.SetTLSConfig(s.TLS)
	}

	p.client = mqtt.NewClient(opts)
	return p
}

// SetHandler implements Client.
func (p *PahoClient) SetHandler(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Connect implements Client.
func (p *PahoClient) Connect(ctx context.Context) error {
	// Paho enforces ConnectTimeout itself; the extra second only guards
	// against a token that is never completed.
	return p.wait(ctx, p.client.Connect(), p.connectTimeout+time.Second)
}

// Subscribe implements Client.
func (p *PahoClient) Subscribe(ctx context.Context, topic string, qos byte) error {
	tok := p.client.Subscribe(topic, qos, p.onMessage)
	if err := p.wait(ctx, tok, p.ackTimeout); err != nil {
		return err
	}

	if st, ok := tok.(*mqtt.SubscribeToken); ok {
		return subackError(st.Result(), topic)
	}
	return nil
}

// subackError maps the SUBACK return code granted for topic to an error.
func subackError(granted map[string]byte, topic string) error {
	if code, found := granted[topic]; found && code == subscribeFailure {
		return ErrSubscribeRejected
	}
	return nil
}

// Unsubscribe implements Client.
func (p *PahoClient) Unsubscribe(ctx context.Context, topic string) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return p.wait(ctx, p.client.Unsubscribe(topic), p.ackTimeout)
}

// Publish implements Client.
func (p *PahoClient) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return p.wait(ctx, p.client.Publish(topic, qos, false, payload), p.ackTimeout)
}

// Disconnect implements Client. Paho gives no feedback on the DISCONNECT
// packet, so only a missing connection is reported.
func (p *PahoClient) Disconnect(_ context.Context) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

// IsConnected implements Client.
func (p *PahoClient) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *PahoClient) wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func (p *PahoClient) onMessage(_ mqtt.Client, msg mqtt.Message) {
	h := p.getHandler()
	if h == nil {
		return
	}
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	h.HandleMessage(Message{Topic: msg.Topic(), Payload: payload})
}

func (p *PahoClient) onConnectionLost(_ mqtt.Client, err error) {
	if h := p.getHandler(); h != nil {
		h.HandleConnectionLost(err)
	}
}

func (p *PahoClient) getHandler() Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handler
}
