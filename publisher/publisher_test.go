// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/absmach/mqterm/executor"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	topic   string
	qos     byte
	payload string
}

type mockSender struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (m *mockSender) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{topic: topic, qos: qos, payload: string(payload)})
	return m.err
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testConfig() Config {
	return Config{Topic: "lab/shell", QoS: 2, FailureThreshold: 3, ResetTimeout: time.Minute}
}

func TestPublish_Success(t *testing.T) {
	sender := &mockSender{}
	p := New(testConfig(), sender, nil)

	err := p.Publish(context.Background(), executor.Output{Stdout: "hi\n", Success: true})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, sent{topic: "lab/shell", qos: 2, payload: "OUTPUT/hi\n"}, sender.sent[0])
}

func TestPublish_FailedCommandSendsStderr(t *testing.T) {
	sender := &mockSender{}
	p := New(testConfig(), sender, nil)

	err := p.Publish(context.Background(), executor.Output{Stdout: "ignored", Stderr: "boom", ExitCode: 1})
	require.NoError(t, err)
	assert.Equal(t, "OUTPUT/boom", sender.sent[0].payload)
}

func TestBuild(t *testing.T) {
	p := New(testConfig(), &mockSender{}, nil)

	msg := p.Build(executor.Output{Success: true})
	assert.Equal(t, Message{Topic: "lab/shell", Payload: []byte("OUTPUT/"), QoS: 2}, msg)
}

func TestPublish_ErrorIsWrapped(t *testing.T) {
	errBroker := errors.New("not connected")
	p := New(testConfig(), &mockSender{err: errBroker}, nil)

	err := p.Publish(context.Background(), executor.Output{Success: true})
	require.ErrorIs(t, err, ErrPublish)
	require.ErrorIs(t, err, errBroker)
}

func TestPublish_CircuitOpens(t *testing.T) {
	sender := &mockSender{err: errors.New("timeout")}
	p := New(testConfig(), sender, nil)

	for i := 0; i < 3; i++ {
		require.Error(t, p.Publish(context.Background(), executor.Output{Success: true}))
	}
	assert.Equal(t, "open", p.State())

	err := p.Publish(context.Background(), executor.Output{Success: true})
	require.ErrorIs(t, err, ErrPublish)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, sender.count(), "open circuit must not reach the sender")
}

func TestPublish_ZeroThresholdNeverOpens(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 0
	sender := &mockSender{err: errors.New("timeout")}
	p := New(cfg, sender, nil)

	for i := 0; i < 10; i++ {
		require.Error(t, p.Publish(context.Background(), executor.Output{Success: true}))
	}
	assert.Equal(t, "closed", p.State())
	assert.Equal(t, 10, sender.count())
}

func TestPublish_ResetClosesCircuit(t *testing.T) {
	sender := &mockSender{err: errors.New("not connected")}
	p := New(testConfig(), sender, nil)

	for i := 0; i < 3; i++ {
		require.Error(t, p.Publish(context.Background(), executor.Output{Success: true}))
	}
	require.Equal(t, "open", p.State())

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	p.Reset()

	assert.Equal(t, "closed", p.State())
	require.NoError(t, p.Publish(context.Background(), executor.Output{Stdout: "hi\n", Success: true}))
	assert.Equal(t, 4, sender.count())
	assert.Equal(t, "OUTPUT/hi\n", sender.sent[3].payload)
}
