// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/absmach/mqterm/history"
	"github.com/dgraph-io/badger/v4"
)

var _ history.Store = (*Store)(nil)

// Key format: history/{startedAt unix nanos, zero padded}/{id}
const keyPrefix = "history/"

// Config holds BadgerDB configuration.
type Config struct {
	Dir       string        // Directory for BadgerDB data
	Retention time.Duration // Record TTL, 0 keeps records forever
}

// Store is a BadgerDB-backed execution journal that survives restarts.
type Store struct {
	db        *badger.DB
	retention time.Duration

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// New creates a new BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	s := &Store{
		db:        db,
		retention: cfg.Retention,
		gcStopCh:  make(chan struct{}),
		gcDone:    make(chan struct{}),
	}

	go s.runGC()

	return s, nil
}

func recordKey(r history.Record) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", keyPrefix, r.StartedAt.UnixNano(), r.ID))
}

// Append implements history.Store.
func (s *Store) Append(r history.Record) error {
	if s.isClosed() {
		return history.ErrClosed
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(recordKey(r), data)
		if s.retention > 0 {
			e = e.WithTTL(s.retention)
		}
		return txn.SetEntry(e)
	})
}

// Recent implements history.Store.
func (s *Store) Recent(limit int) ([]history.Record, error) {
	if s.isClosed() {
		return nil, history.ErrClosed
	}

	var records []history.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(keyPrefix + "\xff")); it.Valid(); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}

			err := it.Item().Value(func(val []byte) error {
				var r history.Record
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
		}
		return nil
	})

	return records, err
}

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Returns an error when nothing was rewritten, which is fine.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
