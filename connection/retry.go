// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"math"
	"time"
)

// Default reconnection policy.
const (
	DefaultMaxAttempts    = 12
	DefaultReconnectDelay = 5 * time.Second
)

// RetryPolicy bounds the reconnection procedure.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration // wait before the first attempt
	Multiplier  float64       // growth per attempt, values below 1 mean fixed
	MaxDelay    time.Duration // 0 means no cap
}

// DefaultRetryPolicy returns 12 attempts spaced 5 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultReconnectDelay,
		Multiplier:  1,
	}
}

// Backoff returns the wait before attempt N (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if attempt <= 1 || p.Multiplier <= 1 {
		return p.Delay
	}
	delay := float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
