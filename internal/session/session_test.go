// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/vidlint/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceTransitions(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusActive, true},
		{StatusQueued, StatusFailed, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusActive, true},
		{StatusActive, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusActive, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusQueued, Status("paused"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			rec := Record{SessionID: "s", Status: tt.from}
			next, err := Advance(rec, tt.to, "", now)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, rec, next)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, next.Status)
			assert.Equal(t, now, next.UpdatedAt)
		})
	}
}

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			st, err := NewSqliteStore(context.Background(), filepath.Join(t.TempDir(), "s.db"), zerolog.Nop())
			require.NoError(t, err)
			return st
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			st, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
			require.NoError(t, err)
			return st
		},
		"badger": func(t *testing.T) Store {
			st, err := OpenBadgerStore(t.TempDir(), time.Hour)
			require.NoError(t, err)
			return st
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			t.Cleanup(func() { _ = st.Close() })
			require.NoError(t, st.Ping(ctx))

			_, err := st.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = st.Advance(ctx, "missing", StatusActive, "")
			assert.ErrorIs(t, err, ErrNotFound)

			rec := New("s1", "job-1", time.Now())
			require.NoError(t, st.Create(ctx, rec))
			assert.ErrorIs(t, st.Create(ctx, rec), ErrExists)

			got, err := st.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "job-1", got.JobID)
			assert.Equal(t, StatusQueued, got.Status)
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

			_, err = st.Advance(ctx, "s1", StatusActive, "")
			require.NoError(t, err)
			done, err := st.Advance(ctx, "s1", StatusFailed, "segmentation failed")
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, done.Status)
			assert.Equal(t, "segmentation failed", done.Error)

			_, err = st.Advance(ctx, "s1", StatusActive, "")
			assert.ErrorIs(t, err, ErrInvalidTransition)

			got, err = st.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Equal(t, "segmentation failed", got.Error)
		})
	}
}

func TestStoreConcurrentAdvance(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			t.Cleanup(func() { _ = st.Close() })
			require.NoError(t, st.Create(ctx, New("s", "j", time.Now())))

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = st.Advance(ctx, "s", StatusActive, "")
				}()
			}
			wg.Wait()

			_, err := st.Advance(ctx, "s", StatusCompleted, "")
			require.NoError(t, err)
			got, err := st.Get(ctx, "s")
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)
		})
	}
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	require.NoError(t, st.Create(context.Background(), New("s", "j", time.Now())))
	assert.Equal(t, time.Minute, mr.TTL(redisKey("s")))

	mr.FastForward(2 * time.Minute)
	_, err = st.Get(context.Background(), "s")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSqliteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "s.db")
	st, err := NewSqliteStore(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Create(ctx, New("s", "j", time.Now())))
	require.NoError(t, st.Close())

	st, err = NewSqliteStore(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	got, err := st.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "j", got.JobID)
}

func TestOpenByBackend(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, config.SessionsConfig{Backend: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	st, err = Open(ctx, config.SessionsConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "nested", "s.db")}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SqliteStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open(ctx, config.SessionsConfig{Backend: "etcd"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = Open(ctx, config.SessionsConfig{Backend: "redis", RedisAddr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}
