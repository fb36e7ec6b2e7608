// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	vconfig "github.com/ManuGH/vidlint/internal/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if *in.Key == f.fail {
		return nil, errors.New("access denied")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func entryDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(`{"id":"1-abcdef"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.txt"), []byte("ok\n"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o750))
	return dir
}

func TestUploadMirrorsRegularFiles(t *testing.T) {
	fake := &fakeS3{}
	m := NewWithClient(fake, "bucket", "/vidlint/", zerolog.Nop())

	require.NoError(t, m.Upload(context.Background(), "1-abcdef", entryDir(t)))
	assert.Equal(t, []string{
		"bucket/vidlint/1-abcdef/meta.json",
		"bucket/vidlint/1-abcdef/results.txt",
	}, fake.keys())
	assert.Equal(t, "ok\n", string(fake.objects["bucket/vidlint/1-abcdef/results.txt"]))
}

func TestUploadContinuesPastFailures(t *testing.T) {
	fake := &fakeS3{fail: "1-abcdef/meta.json"}
	m := NewWithClient(fake, "bucket", "", zerolog.Nop())

	err := m.Upload(context.Background(), "1-abcdef", entryDir(t))
	require.Error(t, err)
	assert.Equal(t, []string{"bucket/1-abcdef/results.txt"}, fake.keys())
}

func TestNewDisabled(t *testing.T) {
	m, err := New(context.Background(), vconfig.ArchiveConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = New(context.Background(), vconfig.ArchiveConfig{Enabled: true}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewWithStaticCredentials(t *testing.T) {
	m, err := New(context.Background(), vconfig.ArchiveConfig{
		Enabled:         true,
		Bucket:          "b",
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		UsePathStyle:    true,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "1/x", m.Key("1", "x"))
}
