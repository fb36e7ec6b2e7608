// SPDX-License-Identifier: MIT

package fetch

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for anything that is not an http(s) YouTube link.
var ErrInvalidURL = errors.New("URL must be a valid YouTube link.")

// ValidateYouTubeURL parses raw and accepts youtube.com, any subdomain of it, or youtu.be.
func ValidateYouTubeURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") || host == "youtu.be" {
		return u, nil
	}
	return nil, ErrInvalidURL
}
