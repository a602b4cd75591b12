package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store persists named training artifacts.
type Store interface {
	// Put writes body under name, replacing any existing object, and returns
	// the location it was written to.
	Put(ctx context.Context, name string, body []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

// NewStore returns the store for uri: "s3://bucket/prefix" for an S3 or
// MinIO bucket, otherwise a local directory (optionally "file://" prefixed).
func NewStore(ctx context.Context, log *slog.Logger, uri string) (Store, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return NewLocalStore(strings.TrimPrefix(uri, "file://"))
	}

	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadS3ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}
	return NewS3Store(ctx, log, cfg, bucket, prefix)
}

// ParseS3URI splits "s3://bucket/some/prefix" into its bucket and key prefix.
func ParseS3URI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 uri %q has no bucket", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

type LocalStore struct {
	dir string
}

// NewLocalStore returns a store writing into dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Put(_ context.Context, name string, body []byte) (string, error) {
	p := filepath.Join(s.dir, name)
	if err := os.WriteFile(p, body, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", p, err)
	}
	return p, nil
}

func (s *LocalStore) Get(_ context.Context, name string) ([]byte, error) {
	body, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return body, nil
}

type S3Store struct {
	log    *slog.Logger
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, log *slog.Logger, cfg *S3Config, bucket, prefix string) (*S3Store, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureMinIOBucket(ctx, log, client, cfg, bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure MinIO bucket exists: %w", err)
	}
	return &S3Store{
		log:    log,
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Store) Put(ctx context.Context, name string, body []byte) (string, error) {
	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.log.Debug("artifact: uploaded object", "location", location, "bytes", len(body))
	return location, nil
}

func (s *S3Store) Get(ctx context.Context, name string) ([]byte, error) {
	key := s.key(name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
