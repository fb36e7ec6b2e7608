// SPDX-License-Identifier: MIT

package fetch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateYouTubeURL(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{"https://www.youtube.com/watch?v=abc", true},
		{"https://youtube.com/watch?v=abc", true},
		{"https://m.youtube.com/watch?v=abc", true},
		{"http://youtu.be/abc", true},
		{" https://youtu.be/abc ", true},
		{"https://YOUTUBE.com/watch?v=abc", true},
		{"ftp://youtube.com/x", false},
		{"https://notyoutube.com/watch", false},
		{"https://youtube.com.evil.org/watch", false},
		{"https://vimeo.com/123", false},
		{"not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ValidateYouTubeURL(tt.raw)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidURL)
			}
		})
	}
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, []string{
		"--no-playlist",
		"-f", "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/best",
		"-S", "ext:mp4:m4a,res,codec:avc1:acodec:aac",
		"--merge-output-format", "mp4",
	}, FormatArgs(true))

	progressive := FormatArgs(false)
	assert.Contains(t, progressive, "b[ext=mp4]/best")
	assert.NotContains(t, progressive, "--merge-output-format")
}

func TestClassify(t *testing.T) {
	runErr := errors.New("exit status 1")
	tests := []struct {
		name   string
		stderr []string
		want   error
	}{
		{"ffmpeg missing", []string{"ERROR: ffmpeg not found. Please install"}, ErrNeedsFFmpeg},
		{"private", []string{"ERROR: [youtube] abc: Private video"}, ErrRestricted},
		{"age", []string{"Sign in to confirm your age"}, ErrRestricted},
		{"generic", []string{"HTTP Error 404"}, ErrDownload},
		{"empty stderr", nil, ErrDownload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.stderr, runErr)
			assert.ErrorIs(t, err, tt.want)
			assert.NotEmpty(t, err.Detail)
		})
	}
}

func TestFindOutput(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"yt-1.mp4.part", "yt-1.f137.mp4.ytdl", "yt-2.mp4", "yt-1.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o600))
	}
	got, err := findOutput(dir, "yt-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "yt-1.mp4"), got)

	_, err = findOutput(dir, "yt-3")
	assert.ErrorIs(t, err, ErrNoOutput)
}
