// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package client talks to a running daemon over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vidlint/internal/api"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/ManuGH/vidlint/internal/protocol"
)

// DefaultServer is used when no server URL is configured.
const DefaultServer = "http://localhost:3001"

// ErrNoSource is returned when a submission names neither a file nor a URL.
var ErrNoSource = errors.New("either a file or a URL is required")

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status     int
	Code       string
	Title      string
	Detail     string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (HTTP %d, retry after %s)", msg, e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
}

// Client is safe for concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Timeout must be zero
// for Submit, which streams for as long as the job runs.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New returns a client for the daemon at server.
func New(server string, opts ...Option) (*Client, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		server = DefaultServer
	}
	u, err := url.Parse(server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", server)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	c := &Client{base: u, http: &http.Client{}, userAgent: "vidlint"}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	for _, p := range parts {
		u.Path += "/" + url.PathEscape(p)
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// SubmitRequest describes one analysis. Exactly one of FilePath and URL is set.
type SubmitRequest struct {
	Prompt    string
	SessionID string
	FilePath  string
	URL       string
}

// Submission carries the identifiers announced at the start of a job.
type Submission struct {
	SessionID string
	HistoryID string
}

// Submit uploads the request and calls fn for every progress event until the
// stream ends. The identifiers are returned even when fn fails.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, fn func(protocol.Event) error) (Submission, error) {
	if req.FilePath == "" && strings.TrimSpace(req.URL) == "" {
		return Submission{}, ErrNoSource
	}

	var file *os.File
	if req.FilePath != "" {
		f, err := os.Open(req.FilePath)
		if err != nil {
			return Submission{}, fmt.Errorf("open video: %w", err)
		}
		defer func() { _ = f.Close() }()
		file = f
	}

	pr, pw := io.Pipe()
	defer func() { _ = pr.Close() }()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, req, file))
	}()

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.endpoint("upload"), pr)
	if err != nil {
		return Submission{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", protocol.ContentTypeMarkers)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Submission{}, fmt.Errorf("submit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Submission{}, decodeError(resp)
	}

	sub := Submission{
		SessionID: resp.Header.Get("X-Session-ID"),
		HistoryID: resp.Header.Get("X-History-ID"),
	}
	dec := protocol.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return sub, nil
		}
		if err != nil {
			return sub, fmt.Errorf("read stream: %w", err)
		}
		if ev.Kind == protocol.KindIDs {
			sub.SessionID, sub.HistoryID = ev.SessionID, ev.JobID
		}
		if fn != nil {
			if err := fn(ev); err != nil {
				return sub, err
			}
		}
	}
}

func writeForm(mw *multipart.Writer, req SubmitRequest, file *os.File) error {
	fields := [][2]string{{"prompt", req.Prompt}, {"sessionId", req.SessionID}, {"url", req.URL}}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	if file != nil {
		name := filepath.Base(file.Name())
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, name))
		h.Set("Content-Type", videoContentType(name))
		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, file); err != nil {
			return fmt.Errorf("send video: %w", err)
		}
	}
	return mw.Close()
}

// videoContentType leaves unknown extensions to the server's own sniffing.
func videoContentType(name string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if strings.HasPrefix(ct, "video/") {
		return ct
	}
	return "application/octet-stream"
}

// Session fetches the recovery status of a session.
func (c *Client) Session(ctx context.Context, sessionID string) (api.SessionStatus, error) {
	var out api.SessionStatus
	err := c.getJSON(ctx, c.endpoint("session", sessionID), &out)
	return out, err
}

// History lists finished analyses, newest first.
func (c *Client) History(ctx context.Context) ([]history.Entry, error) {
	var out []history.Entry
	err := c.getJSON(ctx, c.endpoint("history", "list"), &out)
	return out, err
}

// Storage reports history usage against the cap.
func (c *Client) Storage(ctx context.Context) (api.StorageStats, error) {
	var out api.StorageStats
	err := c.getJSON(ctx, c.endpoint("history", "storage"), &out)
	return out, err
}

// DeleteHistory removes one history entry.
func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.endpoint("history", id), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) getJSON(ctx context.Context, target string, dst any) error {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Title  string `json:"title"`
		Code   string `json:"code"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Title, apiErr.Code, apiErr.Detail = body.Title, body.Code, body.Detail
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
