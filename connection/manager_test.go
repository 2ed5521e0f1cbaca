// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

type fakeClient struct {
	mu      sync.Mutex
	handler Handler

	connected      bool
	connectErrs    []error // consumed one per Connect call
	subscribeErr   error
	unsubscribeErr error
	disconnectErr  error
	publishErr     error

	calls      []string
	subscribed []byte
}

func (f *fakeClient) SetHandler(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Subscribe(ctx context.Context, topic string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "subscribe:"+topic)
	f.subscribed = append(f.subscribed, qos)
	return f.subscribeErr
}

func (f *fakeClient) Unsubscribe(ctx context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unsubscribe:"+topic)
	return f.unsubscribeErr
}

func (f *fakeClient) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "publish:"+topic)
	return f.publishErr
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disconnect")
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.connected = false
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) drop() {
	f.mu.Lock()
	f.connected = false
	h := f.handler
	f.mu.Unlock()
	h.HandleConnectionLost(errBroker)
}

func (f *fakeClient) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeClient) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func newTestManager(t *testing.T, client *fakeClient, policy RetryPolicy) (*Manager, *[]time.Duration) {
	t.Helper()

	s, err := NewSession("tcp://localhost:1883", "agent-test", "lab/shell")
	require.NoError(t, err)

	m, err := NewManager(s, client, policy, 4, nil)
	require.NoError(t, err)

	var slept []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return m, &slept
}

func TestManager_Start(t *testing.T) {
	client := &fakeClient{}
	m, _ := newTestManager(t, client, DefaultRetryPolicy())

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, []string{"connect", "subscribe:lab/shell"}, client.calls)
	assert.Equal(t, []byte{2}, client.subscribed)

	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestManager_StartConnectFailure(t *testing.T) {
	client := &fakeClient{connectErrs: []error{errBroker}}
	m, _ := newTestManager(t, client, DefaultRetryPolicy())

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, errBroker)
	assert.Equal(t, StateTerminated, m.State())
	assert.Zero(t, client.count("subscribe:lab/shell"))
}

func TestManager_StartSubscribeFailure(t *testing.T) {
	client := &fakeClient{subscribeErr: ErrSubscribeRejected}
	m, _ := newTestManager(t, client, DefaultRetryPolicy())

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrSubscribe)
	require.ErrorIs(t, err, ErrSubscribeRejected)
	assert.Equal(t, StateTerminated, m.State())
}

func TestManager_ReconnectOnThirdAttempt(t *testing.T) {
	client := &fakeClient{}
	m, slept := newTestManager(t, client, DefaultRetryPolicy())
	require.NoError(t, m.Start(context.Background()))

	var attempts []int
	m.SetOnReconnecting(func(attempt int) { attempts = append(attempts, attempt) })

	client.drop()
	client.resetCalls()
	client.connectErrs = []error{errBroker, errBroker, nil}

	require.NoError(t, m.Reconnect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 3, client.count("connect"))
	assert.Equal(t, 1, client.count("subscribe:lab/shell"))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, *slept)
}

func TestManager_ReconnectExhausted(t *testing.T) {
	client := &fakeClient{}
	m, slept := newTestManager(t, client, DefaultRetryPolicy())
	require.NoError(t, m.Start(context.Background()))

	client.drop()
	client.resetCalls()
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = errBroker
	}
	client.connectErrs = errs

	err := m.Reconnect(context.Background())
	require.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, StateTerminated, m.State())
	assert.Equal(t, 12, client.count("connect"))
	assert.Zero(t, client.count("subscribe:lab/shell"))
	assert.Len(t, *slept, 12)
	for _, d := range *slept {
		assert.GreaterOrEqual(t, d, 5*time.Second)
	}

	// Nothing left to tear down once disconnected.
	client.resetCalls()
	require.NoError(t, m.Close(context.Background()))
	assert.Empty(t, client.calls)

	assert.ErrorIs(t, m.Reconnect(context.Background()), ErrTerminated)
}

func TestManager_ReconnectResubscribeFailure(t *testing.T) {
	client := &fakeClient{}
	m, _ := newTestManager(t, client, RetryPolicy{MaxAttempts: 3})
	require.NoError(t, m.Start(context.Background()))

	client.drop()
	client.subscribeErr = errBroker

	err := m.Reconnect(context.Background())
	require.ErrorIs(t, err, ErrSubscribe)
	assert.Equal(t, StateTerminated, m.State())
}

func TestManager_ReconnectCancelled(t *testing.T) {
	client := &fakeClient{}
	m, _ := newTestManager(t, client, DefaultRetryPolicy())
	require.NoError(t, m.Start(context.Background()))
	client.drop()
	client.resetCalls()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Reconnect(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, client.count("connect"))
}

func TestManager_Close(t *testing.T) {
	client := &fakeClient{}
	m, _ := newTestManager(t, client, DefaultRetryPolicy())
	require.NoError(t, m.Start(context.Background()))
	client.resetCalls()

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, []string{"unsubscribe:lab/shell", "disconnect"}, client.calls)
	assert.Equal(t, StateTerminated, m.State())
}

func TestManager_CloseFailures(t *testing.T) {
	tests := []struct {
		name      string
		client    *fakeClient
		wantCalls []string
	}{
		{
			name:      "unsubscribe fails",
			client:    &fakeClient{unsubscribeErr: errBroker},
			wantCalls: []string{"unsubscribe:lab/shell"},
		},
		{
			name:      "disconnect fails",
			client:    &fakeClient{disconnectErr: errBroker},
			wantCalls: []string{"unsubscribe:lab/shell", "disconnect"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, tt.client, DefaultRetryPolicy())
			require.NoError(t, m.Start(context.Background()))
			tt.client.resetCalls()

			err := m.Close(context.Background())
			require.ErrorIs(t, err, ErrTeardown)
			require.ErrorIs(t, err, errBroker)
			assert.Equal(t, tt.wantCalls, tt.client.calls)
		})
	}
}

func TestManager_Events(t *testing.T) {
	client := &fakeClient{}
	m, _ := newTestManager(t, client, DefaultRetryPolicy())
	require.NoError(t, m.Start(context.Background()))

	m.HandleMessage(Message{Topic: "lab/shell", Payload: []byte("COMMAND/ls")})
	client.drop()

	ev := <-m.Events()
	require.NotNil(t, ev.Message)
	assert.Equal(t, []byte("COMMAND/ls"), ev.Message.Payload)

	ev = <-m.Events()
	assert.Nil(t, ev.Message)
	assert.ErrorIs(t, ev.Err, errBroker)
	assert.False(t, m.IsConnected())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_EnqueueAfterCloseDoesNotBlock(t *testing.T) {
	client := &fakeClient{}
	m, _ := newTestManager(t, client, DefaultRetryPolicy())
	require.NoError(t, m.Start(context.Background()))

	for i := 0; i < cap(m.events); i++ {
		m.HandleMessage(Message{Topic: "lab/shell"})
	}
	require.NoError(t, m.Close(context.Background()))

	done := make(chan struct{})
	go func() {
		m.HandleMessage(Message{Topic: "lab/shell"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleMessage blocked after Close")
	}
}

func TestManager_Publish(t *testing.T) {
	client := &fakeClient{}
	m, _ := newTestManager(t, client, DefaultRetryPolicy())
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Publish(context.Background(), "lab/shell", 2, []byte("OUTPUT/hi")))
	assert.Equal(t, 1, client.count("publish:lab/shell"))
}

func TestNewManagerInvalidSession(t *testing.T) {
	_, err := NewManager(&Session{BrokerURL: "tcp://localhost:1883"}, &fakeClient{}, DefaultRetryPolicy(), 0, nil)
	assert.ErrorIs(t, err, ErrEmptyClientID)
}
