// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"fmt"
	"testing"
	"time"

	"github.com/absmach/mqterm/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(cmd string, at time.Time) history.Record {
	return history.Record{ID: cmd + "-id", Command: cmd, Success: true, StartedAt: at}
}

func TestStore_AppendRecent(t *testing.T) {
	store, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(record(fmt.Sprintf("cmd-%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	records, err := store.Recent(3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "cmd-4", records[0].Command)
	assert.Equal(t, "cmd-3", records[1].Command)
	assert.Equal(t, "cmd-2", records[2].Command)
	assert.True(t, records[0].StartedAt.Equal(base.Add(4*time.Second)))

	all, err := store.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, store.Append(record("uptime", time.Now())))
	require.NoError(t, store.Close())

	store, err = New(Config{Dir: dir})
	require.NoError(t, err)
	defer store.Close()

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "uptime", records[0].Command)
}

func TestStore_Retention(t *testing.T) {
	store, err := New(Config{Dir: t.TempDir(), Retention: time.Hour})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(record("ls", time.Now())))

	records, err := store.Recent(1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_Close(t *testing.T) {
	store, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "double close should not error")

	assert.ErrorIs(t, store.Append(record("ls", time.Now())), history.ErrClosed)
	_, err = store.Recent(1)
	assert.ErrorIs(t, err, history.ErrClosed)
}
