// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/absmach/mqterm/history"
)

var _ history.Store = (*Store)(nil)

// Store is a bounded in-memory history. The oldest record is evicted once
// capacity is reached.
type Store struct {
	mu      sync.RWMutex
	records []history.Record
	next    int
	full    bool
	closed  bool
}

// New creates a new in-memory store holding at most capacity records.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{records: make([]history.Record, capacity)}
}

// Append implements history.Store.
func (s *Store) Append(r history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return history.ErrClosed
	}

	s.records[s.next] = r
	s.next = (s.next + 1) % len(s.records)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(limit int) ([]history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, history.ErrClosed
	}

	size := s.next
	if s.full {
		size = len(s.records)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]history.Record, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.next - 1 - i + len(s.records)) % len(s.records)
		out = append(out, s.records[idx])
	}
	return out, nil
}

// Close implements history.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
