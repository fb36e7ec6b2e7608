// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package inferencetest provides a scriptable in-memory inference.Service.
package inferencetest

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ManuGH/vidlint/internal/inference"
)

// Fake is an in-memory inference.Service. Behaviour is keyed by the base
// name of the uploaded file (e.g. "output_chunk_001.mp4").
type Fake struct {
	mu sync.Mutex

	// Fragments returns the streamed text for a chunk. Defaults to a single "ok" fragment.
	Fragments func(base, prompt string) []string
	// UploadErrs and AnalyzeErrs are consumed in order, one per call.
	UploadErrs  map[string][]error
	AnalyzeErrs map[string][]error
	// StreamErrs fails the stream after its fragments.
	StreamErrs map[string]error
	// States forces a terminal state for a chunk instead of ACTIVE.
	States map[string]inference.State
	// PollsUntilActive is the number of PROCESSING answers before ACTIVE.
	PollsUntilActive int
	// DeleteErr fails every Delete call.
	DeleteErr error
	// OnAnalyze runs at the start of every Analyze call.
	OnAnalyze func(base string)

	polls   map[string]int
	live    map[string]bool
	prompts []Prompt
	uploads []string
	deletes []string
}

// Prompt records one Analyze request.
type Prompt struct {
	Base string
	Text string
}

var _ inference.Service = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		UploadErrs:  map[string][]error{},
		AnalyzeErrs: map[string][]error{},
		StreamErrs:  map[string]error{},
		States:      map[string]inference.State{},
		polls:       map[string]int{},
		live:        map[string]bool{},
	}
}

func (f *Fake) pop(m map[string][]error, key string) error {
	errs := m[key]
	if len(errs) == 0 {
		return nil
	}
	m[key] = errs[1:]
	return errs[0]
}

// Upload implements inference.Service.
func (f *Fake) Upload(ctx context.Context, localPath, mimeType string) (inference.File, error) {
	if err := ctx.Err(); err != nil {
		return inference.File{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	base := filepath.Base(localPath)
	if err := f.pop(f.UploadErrs, base); err != nil {
		return inference.File{}, err
	}
	name := "files/" + base
	f.live[name] = true
	f.uploads = append(f.uploads, name)
	return inference.File{Name: name, MIMEType: mimeType, State: inference.StateProcessing}, nil
}

// Status implements inference.Service.
func (f *Fake) Status(ctx context.Context, name string) (inference.File, error) {
	if err := ctx.Err(); err != nil {
		return inference.File{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	base := strings.TrimPrefix(name, "files/")
	file := inference.File{Name: name, URI: "https://files.test/" + base, MIMEType: "video/mp4"}
	if st, ok := f.States[base]; ok {
		file.State = st
		return file, nil
	}
	f.polls[name]++
	if f.polls[name] <= f.PollsUntilActive {
		file.State = inference.StateProcessing
		return file, nil
	}
	file.State = inference.StateActive
	return file, nil
}

// Analyze implements inference.Service.
func (f *Fake) Analyze(ctx context.Context, file inference.File, prompt string) (inference.Stream, error) {
	base := strings.TrimPrefix(file.Name, "files/")
	if f.OnAnalyze != nil {
		f.OnAnalyze(base)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prompts = append(f.prompts, Prompt{Base: base, Text: prompt})
	if err := f.pop(f.AnalyzeErrs, base); err != nil {
		return nil, err
	}
	frags := []string{"ok"}
	if f.Fragments != nil {
		frags = f.Fragments(base, prompt)
	}
	return &stream{frags: frags, err: f.StreamErrs[base]}, nil
}

// Delete implements inference.Service.
func (f *Fake) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, name)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.live, name)
	return nil
}

// Live returns remote files uploaded and not deleted.
func (f *Fake) Live() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.live))
	for name := range f.live {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Prompts returns every Analyze request in call order.
func (f *Fake) Prompts() []Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Prompt(nil), f.prompts...)
}

// Uploads returns every remote name handed out.
func (f *Fake) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

// Deletes returns every Delete call.
func (f *Fake) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

type stream struct {
	frags  []string
	err    error
	closed bool
}

func (s *stream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if len(s.frags) > 0 {
		next := s.frags[0]
		s.frags = s.frags[1:]
		return next, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
