// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history stores finished and running jobs on disk: one directory
// per job holding the archived video, meta.json and results.txt.
package history

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/disk"
	"golang.org/x/sync/singleflight"
)

// File names inside an entry directory.
const (
	MetaFile    = "meta.json"
	ResultsFile = "results.txt"
)

// StaticRoute is the URL prefix under which entry files are served.
const StaticRoute = "/history_static"

// Source kinds.
const (
	SourceFile    = "file"
	SourceYouTube = "youtube"
)

var (
	// ErrNotFound is returned for unknown entry ids.
	ErrNotFound = errors.New("history entry not found")
	// ErrInvalidID is returned for ids that could escape the history directory.
	ErrInvalidID = errors.New("invalid history id")

	idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)
)

// Meta is the content of meta.json. CreatedAt is Unix milliseconds.
type Meta struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Source        string `json:"source"`
	VideoFileName string `json:"videoFileName,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

// Entry is a listed history item.
type Entry struct {
	Meta
	VideoURL   string `json:"videoUrl,omitempty"`
	ResultsURL string `json:"resultsUrl"`
}

// Store manages the history directory.
type Store struct {
	dir    string
	logger zerolog.Logger
	sf     singleflight.Group
}

// NewStore creates dir if needed.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{dir: abs, logger: logger}, nil
}

// Root returns the absolute history directory.
func (s *Store) Root() string { return s.dir }

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns "<unixMillis>-<6 random base36 chars>".
func NewID(now time.Time) string {
	suffix := make([]byte, 6)
	radix := big.NewInt(int64(len(base36)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			n = big.NewInt(now.UnixNano() % int64(len(base36)))
		}
		suffix[i] = base36[n.Int64()]
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix)
}

// ValidID reports whether id is a single safe path element.
func ValidID(id string) bool { return idRe.MatchString(id) }

// Dir returns the directory of entry id.
func (s *Store) Dir(id string) (string, error) {
	if !ValidID(id) {
		return "", ErrInvalidID
	}
	return filepath.Join(s.dir, id), nil
}

// Create makes the entry directory.
func (s *Store) Create(id string) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create entry dir: %w", err)
	}
	return dir, nil
}

// Archive moves src into the entry as fileName. When rename fails (for
// example across devices) the file is copied and the source removed.
func (s *Store) Archive(id, src, fileName string) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	if fileName == "" || fileName != filepath.Base(fileName) || fileName == MetaFile || fileName == ResultsFile {
		return "", fmt.Errorf("invalid archive file name %q", fileName)
	}
	dst := filepath.Join(dir, fileName)

	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("archive video: %w", err)
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		metrics.RecordCleanupFailure("source")
		s.logger.Warn().
			Err(err).
			Str("event", "cleanup.source_remove_failed").
			Str("path", src).
			Msg("archived copy made but source could not be removed")
	}
	return dst, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src) // #nosec G304 -- job-owned temp file
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// WriteMeta atomically replaces meta.json.
func (s *Store) WriteMeta(m Meta) error {
	dir, err := s.Dir(m.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(filepath.Join(dir, MetaFile), renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending meta file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace meta: %w", err)
	}
	return nil
}

// ReadMeta loads meta.json of entry id.
func (s *Store) ReadMeta(id string) (Meta, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return Meta{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, MetaFile)) // #nosec G304 -- id validated
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, ErrNotFound
	}
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("decode %s: %w", MetaFile, err)
	}
	return m, nil
}

// ReadResults returns results.txt of entry id; a missing file reads as "".
func (s *Store) ReadResults(id string) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, ResultsFile)) // #nosec G304 -- id validated
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}

// EntryOf decorates m with its URLs.
func EntryOf(m Meta) Entry {
	e := Entry{Meta: m, ResultsURL: fmt.Sprintf("%s/%s/%s", StaticRoute, m.ID, ResultsFile)}
	if m.VideoFileName != "" {
		e.VideoURL = fmt.Sprintf("%s/%s/%s", StaticRoute, m.ID, m.VideoFileName)
	}
	return e
}

// List returns all readable entries, newest first.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() || !ValidID(d.Name()) {
			continue
		}
		m, err := s.ReadMeta(d.Name())
		if err != nil {
			continue
		}
		m.ID = d.Name()
		entries = append(entries, EntryOf(m))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].ID > entries[j].ID
	})
	return entries, nil
}

// Delete removes entry id.
func (s *Store) Delete(id string) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	return nil
}

// Usage returns the total size of all files under the history directory.
// Concurrent callers share one walk.
func (s *Store) Usage(ctx context.Context) (int64, error) {
	v, err, _ := s.sf.Do("usage", func() (any, error) {
		var total int64
		err := filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				// Entries deleted mid-walk are skipped.
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.Type().IsRegular() {
				if info, ierr := d.Info(); ierr == nil {
					total += info.Size()
				}
			}
			return nil
		})
		if err != nil {
			return int64(0), err
		}
		metrics.SetHistoryBytes(total)
		return total, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// EnforceCap deletes the oldest entries until usage is at most maxBytes.
// Entries for which skip reports true are never deleted. It returns the
// removed ids.
func (s *Store) EnforceCap(ctx context.Context, maxBytes int64, skip func(id string) bool) ([]string, error) {
	total, err := s.Usage(ctx)
	if err != nil || total <= maxBytes {
		return nil, err
	}
	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	var removed []string
	for i := len(entries) - 1; i >= 0 && total > maxBytes; i-- {
		id := entries[i].ID
		if skip != nil && skip(id) {
			continue
		}
		dir := filepath.Join(s.dir, id)
		size := dirSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().
				Err(err).
				Str("event", "history.evict_failed").
				Str("history_id", id).
				Msg("failed to evict history entry")
			continue
		}
		total -= size
		removed = append(removed, id)
		metrics.RecordHistoryEviction()
		s.logger.Info().
			Str("event", "history.evicted").
			Str("history_id", id).
			Int64("bytes", size).
			Msg("evicted history entry over retention cap")
	}
	metrics.SetHistoryBytes(total)
	return removed, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			if info, ierr := d.Info(); ierr == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

// DiskStats describes the filesystem holding the history directory.
type DiskStats struct {
	Free  uint64
	Total uint64
}

// Disk reports free and total bytes of the history filesystem.
func (s *Store) Disk() (DiskStats, error) {
	u, err := disk.Usage(s.dir)
	if err != nil {
		return DiskStats{}, err
	}
	return DiskStats{Free: u.Free, Total: u.Total}, nil
}
