// Package storage reads template artwork from an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultMaxObjectBytes caps a single artwork read. Inline image parts sent
// to the model must stay well below 20MB in total.
const DefaultMaxObjectBytes = 16 << 20

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object too large")
)

type Config struct {
	Endpoint       string
	Access         string
	Secret         string
	Bucket         string
	Prefix         string
	UseSSL         bool
	MaxObjectBytes int64
}

type Client struct {
	minio    *minio.Client
	bucket   string
	prefix   string
	maxBytes int64
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	maxBytes := cfg.MaxObjectBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxObjectBytes
	}
	return &Client{
		minio:    mc,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		maxBytes: maxBytes,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// Key maps a manifest-relative path onto the bucket key space.
func (c *Client) Key(objectKey string) string {
	objectKey = strings.TrimPrefix(path.Clean("/"+objectKey), "/")
	if c.prefix == "" {
		return objectKey
	}
	return c.prefix + "/" + objectKey
}

// EnsureBucket creates the bucket when missing. A concurrent creator winning
// the race is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	key := c.Key(objectKey)
	info, err := c.minio.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	if info.Size > c.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrObjectTooLarge, key, info.Size, c.maxBytes)
	}

	obj, err := c.minio.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%w: %s grew past %d bytes", ErrObjectTooLarge, key, c.maxBytes)
	}
	return data, nil
}

// WriteObject uploads template artwork. Artwork is immutable per key, so it
// is served with a long cache lifetime.
func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	key := c.Key(objectKey)
	_, err := c.minio.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=86400",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" || resp.StatusCode == 404
}
