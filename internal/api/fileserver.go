// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/vidlint/internal/control/http/problem"
	"github.com/ManuGH/vidlint/internal/log"
	"golang.org/x/text/unicode/norm"
)

// historyFiles serves archived videos and results files from the history
// directory, guarding against path traversal, symlink escapes and directory
// listing. Mount it behind http.StripPrefix(history.StaticRoute, ...).
func (s *Server) historyFiles() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "api")
		deny := func(status int, reason string) {
			logger.Warn().
				Str(log.FieldEvent, "file_req.denied").
				Str(log.FieldPath, r.URL.Path).
				Str("reason", reason).
				Msg("history file request denied")
			recordFileRequestDenied(reason)
			if status == http.StatusNotFound {
				problem.NotFound(w, r, "File not found.")
				return
			}
			problem.Write(w, r, status, "history/file_denied", http.StatusText(status), problem.CodeForbidden, "", nil)
		}

		p := r.URL.Path
		if isPathTraversal(p) {
			deny(http.StatusForbidden, "path_escape")
			return
		}
		if p == "" || strings.HasSuffix(p, "/") {
			deny(http.StatusForbidden, "directory_listing")
			return
		}

		root, err := filepath.EvalSymlinks(s.history.Root())
		if err != nil {
			logger.Error().Err(err).Str(log.FieldEvent, "file_req.internal_error").Msg("could not resolve history dir")
			problem.Internal(w, r, "")
			return
		}
		realPath, err := filepath.EvalSymlinks(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				deny(http.StatusNotFound, "not_found")
				return
			}
			logger.Error().Err(err).Str(log.FieldEvent, "file_req.internal_error").Msg("could not evaluate symlinks")
			problem.Internal(w, r, "")
			return
		}

		// Containment is checked on the resolved path so symlinks cannot escape.
		rel, err := filepath.Rel(root, realPath)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			deny(http.StatusForbidden, "path_escape")
			return
		}

		// #nosec G304 -- realPath is validated to reside inside the history directory
		f, err := os.Open(realPath)
		if err != nil {
			deny(http.StatusNotFound, "not_found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			problem.Internal(w, r, "")
			return
		}
		if info.IsDir() {
			deny(http.StatusForbidden, "directory_listing")
			return
		}

		// Weak ETag from modtime and size; results.txt changes while a job runs.
		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "no-cache")
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			recordFileCacheHit()
			w.WriteHeader(http.StatusNotModified)
			return
		}

		if strings.EqualFold(filepath.Ext(info.Name()), ".txt") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		recordFileRequestAllowed()
		// ServeContent handles Range requests, which video seeking relies on.
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

// isPathTraversal decodes p repeatedly, NFC-normalises it and looks for
// parent references and NUL bytes.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		}
		if decoded == prev {
			break
		}
	}

	lower := strings.ToLower(decoded)
	for _, pat := range []string{"..", "%00", "\x00", "%c0%ae", "%e0%80%ae", "\\"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return strings.Contains(norm.NFC.String(lower), "..")
}
