// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o600))
}

func addEntry(t *testing.T, s *Store, id string, createdAt int64, videoBytes int) {
	t.Helper()
	dir, err := s.Create(id)
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "video.mp4"), videoBytes)
	require.NoError(t, s.WriteMeta(Meta{ID: id, Name: id, Source: SourceFile, VideoFileName: "video.mp4", CreatedAt: createdAt}))
}

func TestNewID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewID(now)
	assert.Regexp(t, regexp.MustCompile(`^1700000000123-[0-9a-z]{6}$`), id)
	assert.True(t, ValidID(id))
	assert.NotEqual(t, id, NewID(now))
}

func TestValidIDRejectsTraversal(t *testing.T) {
	for _, id := range []string{"", ".", "..", "../x", "a/b", `a\b`, ".hidden", "a b"} {
		assert.False(t, ValidID(id), id)
	}
	_, err := newStore(t).Dir("../etc")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestArchiveMovesSource(t *testing.T) {
	s := newStore(t)
	_, err := s.Create("job-1")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "upload.mp4")
	writeFile(t, src, 10)

	dst, err := s.Archive("job-1", src, "clip.mp4")
	require.NoError(t, err)
	assert.FileExists(t, dst)
	assert.NoFileExists(t, src)

	_, err = s.Archive("job-1", dst, "../escape.mp4")
	assert.Error(t, err)
	_, err = s.Archive("job-1", dst, MetaFile)
	assert.Error(t, err)
}

func TestCopyFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a")
	writeFile(t, src, 100)
	dst := filepath.Join(t.TempDir(), "b")
	require.NoError(t, copyFile(src, dst))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.EqualValues(t, 100, info.Size())

	assert.Error(t, copyFile(filepath.Join(t.TempDir(), "missing"), dst))
}

func TestMetaRoundTripAndList(t *testing.T) {
	s := newStore(t)
	addEntry(t, s, "100-aaaaaa", 100, 1)
	addEntry(t, s, "300-cccccc", 300, 1)
	addEntry(t, s, "200-bbbbbb", 200, 1)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "no-meta"), 0o750))

	m, err := s.ReadMeta("200-bbbbbb")
	require.NoError(t, err)
	assert.Equal(t, SourceFile, m.Source)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "300-cccccc", list[0].ID)
	assert.Equal(t, "100-aaaaaa", list[2].ID)
	assert.Equal(t, "/history_static/300-cccccc/video.mp4", list[0].VideoURL)
	assert.Equal(t, "/history_static/300-cccccc/results.txt", list[0].ResultsURL)

	_, err = s.ReadMeta("no-meta")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultsWriterAppends(t *testing.T) {
	s := newStore(t)
	_, err := s.Create("j")
	require.NoError(t, err)

	text, err := s.ReadResults("j")
	require.NoError(t, err)
	assert.Empty(t, text)

	w, err := s.OpenResults("j")
	require.NoError(t, err)
	_, err = w.WriteString("line one\n")
	require.NoError(t, err)

	// Readable while still open.
	text, err = s.ReadResults("j")
	require.NoError(t, err)
	assert.Equal(t, "line one\n", text)

	_, _ = w.WriteString("line two\n")
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.WriteString("late")
	assert.ErrorIs(t, err, os.ErrClosed)

	w, err = s.OpenResults("j")
	require.NoError(t, err)
	_, _ = w.WriteString("line three\n")
	require.NoError(t, w.Close())

	text, _ = s.ReadResults("j")
	assert.Equal(t, "line one\nline two\nline three\n", text)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	addEntry(t, s, "1-aaaaaa", 1, 1)
	require.NoError(t, s.Delete("1-aaaaaa"))
	assert.ErrorIs(t, s.Delete("1-aaaaaa"), ErrNotFound)
	assert.ErrorIs(t, s.Delete(".."), ErrInvalidID)
}

func TestUsageConcurrent(t *testing.T) {
	s := newStore(t)
	addEntry(t, s, "1-aaaaaa", 1, 1000)
	addEntry(t, s, "2-bbbbbb", 2, 500)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total, err := s.Usage(context.Background())
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, total, int64(1500))
		}()
	}
	wg.Wait()
}

func TestEnforceCapEvictsOldestButKeepsCurrent(t *testing.T) {
	s := newStore(t)
	addEntry(t, s, "1-aaaaaa", 1, 1000) // oldest, also the running job
	addEntry(t, s, "2-bbbbbb", 2, 1000)
	addEntry(t, s, "3-cccccc", 3, 1000)

	keep := func(id string) bool { return id == "1-aaaaaa" }
	removed, err := s.EnforceCap(context.Background(), 2500, keep)
	require.NoError(t, err)
	assert.Equal(t, []string{"2-bbbbbb"}, removed)

	list, _ := s.List()
	ids := []string{list[0].ID, list[1].ID}
	assert.Equal(t, []string{"3-cccccc", "1-aaaaaa"}, ids)

	removed, err = s.EnforceCap(context.Background(), 1<<30, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestEnforceCapSkipsEveryProtectedEntry(t *testing.T) {
	s := newStore(t)
	addEntry(t, s, "1-aaaaaa", 1, 1000)
	addEntry(t, s, "2-bbbbbb", 2, 1000)
	addEntry(t, s, "3-cccccc", 3, 1000)

	busy := map[string]bool{"1-aaaaaa": true, "3-cccccc": true}
	removed, err := s.EnforceCap(context.Background(), 1, func(id string) bool { return busy[id] })
	require.NoError(t, err)
	assert.Equal(t, []string{"2-bbbbbb"}, removed)

	for id := range busy {
		_, err := s.ReadMeta(id)
		assert.NoError(t, err, id)
	}
}

func TestDisk(t *testing.T) {
	st, err := newStore(t).Disk()
	require.NoError(t, err)
	assert.Greater(t, st.Total, uint64(0))
}
