// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package archive mirrors finished history entries to S3-compatible storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	vconfig "github.com/ManuGH/vidlint/internal/config"
	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ObjectPutter is the subset of the S3 client the mirror needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Mirror uploads entry directories under <prefix>/<id>/.
type Mirror struct {
	client ObjectPutter
	bucket string
	prefix string
	logger zerolog.Logger
}

// New builds a mirror from cfg. It returns nil when archiving is disabled.
func New(ctx context.Context, cfg vconfig.ArchiveConfig, logger zerolog.Logger) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			o.BaseEndpoint = &endpoint
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient builds a mirror on an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string, logger zerolog.Logger) *Mirror {
	return &Mirror{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Key returns the object key for a file of entry id.
func (m *Mirror) Key(id, name string) string {
	if m.prefix == "" {
		return path.Join(id, name)
	}
	return path.Join(m.prefix, id, name)
}

// Upload copies every regular file of dir. A failed file does not stop the
// others; the first error is returned.
func (m *Mirror) Upload(ctx context.Context, id, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("archive: read entry: %w", err)
	}

	var firstErr error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := m.put(ctx, id, filepath.Join(dir, e.Name())); err != nil {
			metrics.RecordArchiveUpload("error")
			m.logger.Warn().
				Err(err).
				Str("event", "archive.upload_failed").
				Str("history_id", id).
				Str("file", e.Name()).
				Msg("failed to mirror history file")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.RecordArchiveUpload("ok")
	}
	if firstErr == nil {
		m.logger.Info().
			Str("event", "archive.uploaded").
			Str("history_id", id).
			Str("bucket", m.bucket).
			Msg("history entry mirrored")
	}
	return firstErr
}

func (m *Mirror) put(ctx context.Context, id, file string) error {
	f, err := os.Open(file) // #nosec G304 -- history entry file
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	key := m.Key(id, filepath.Base(file))
	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(info.Size()),
		Body:          f,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
