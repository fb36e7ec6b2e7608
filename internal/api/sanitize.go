// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameBytes = 255
	fallbackFilename = "video.mp4"
)

// videoTypes is the upload allow-list keyed by MIME type.
var videoTypes = map[string]bool{
	"video/mp4":        true,
	"video/mpeg":       true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/x-matroska": true,
	"video/webm":       true,
}

// videoExtensions maps extensions to allow-listed types for clients that
// send application/octet-stream.
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

// SanitizeFilename makes a client supplied file name safe to store and show.
// The result never contains path separators, parent references, NUL or a
// leading dot, and is at most 255 bytes of valid UTF-8.
func SanitizeFilename(name string) string {
	s := norm.NFC.String(name)
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "..", "")
	s = strings.NewReplacer("/", "", "\\", "").Replace(s)
	s = strings.TrimLeft(s, ".")
	s = strings.TrimSpace(s)
	if len(s) > maxFilenameBytes {
		s = s[:maxFilenameBytes]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	if s == "" {
		return fallbackFilename
	}
	return s
}

// allowedVideoType reports whether a part with the given Content-Type header
// and file name is an accepted video.
func allowedVideoType(contentType, filename string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = ""
	}
	mt = strings.ToLower(mt)
	if videoTypes[mt] {
		return true
	}
	if mt == "" || mt == "application/octet-stream" {
		_, ok := videoExtensions[strings.ToLower(filepath.Ext(filename))]
		return ok
	}
	return false
}
