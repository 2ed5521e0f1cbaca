// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit paces command execution.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// CommandLimiter delays commands that arrive faster than the configured
// rate. Commands are never dropped, so arrival order is kept.
type CommandLimiter struct {
	limiter *rate.Limiter
}

// NewCommandLimiter creates a limiter allowing r commands per second with
// the given burst. A non-positive rate disables limiting.
func NewCommandLimiter(r float64, burst int) *CommandLimiter {
	if r <= 0 {
		return &CommandLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &CommandLimiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Wait blocks until the next command may run or ctx is done.
func (l *CommandLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
