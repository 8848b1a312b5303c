// Package origin wraps the upstream S3-compatible object store, exposing
// the GetObject/HeadObject contract the fetch pipeline depends on. Unlike
// the package-level minio client this generalizes, Client is constructed
// once at startup and injected into callers rather than reached through a
// global variable, per the re-architecture guidance to avoid implicit
// global construction at import time.
package origin

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/edgevod/proxy/internal/config"
)

// ErrorKind discriminates the origin failures the request handler must
// classify into HTTP status codes.
type ErrorKind string

const (
	ErrNoSuchKey    ErrorKind = "no-such-key"
	ErrNoSuchBucket ErrorKind = "no-such-bucket"
	ErrAccessDenied ErrorKind = "access-denied"
	ErrUnknown      ErrorKind = "unknown"
)

type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("origin: %s: %v", e.Kind, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

func classify(err error) *Error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return &Error{Kind: ErrNoSuchKey, Cause: err}
	case "NoSuchBucket":
		return &Error{Kind: ErrNoSuchBucket, Cause: err}
	case "AccessDenied":
		return &Error{Kind: ErrAccessDenied, Cause: err}
	default:
		return &Error{Kind: ErrUnknown, Cause: err}
	}
}

// Result is what GetObject/HeadObject return: a body stream (nil for
// HeadObject) plus whatever metadata the origin reported.
type Result struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	ContentRange  string
	AcceptRanges  string
}

// Client is the origin contract: GetObject/HeadObject with an optional
// Range header passed through verbatim.
type Client interface {
	GetObject(ctx context.Context, bucket, key, rangeHeader string) (*Result, error)
	HeadObject(ctx context.Context, bucket, key string) (*Result, error)
	DefaultBucket() string
}

// MinioClient is the Client implementation backed by an S3-compatible
// endpoint via minio-go.
type MinioClient struct {
	client        *minio.Client
	defaultBucket string
	timeout       time.Duration
}

func NewMinioClient(cfg config.OriginConfig) (*MinioClient, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize minio client: %w", err)
	}
	return &MinioClient{client: c, defaultBucket: cfg.DefaultBucket, timeout: cfg.RequestTimeout}, nil
}

func (m *MinioClient) DefaultBucket() string { return m.defaultBucket }

// GetObject enforces m.timeout across the whole call, including the body
// read: the returned Result.Body carries the derived context's cancel func
// and releases it on Close, so a connection that goes quiet mid-stream is
// bounded by the same deadline as the initial request instead of hanging
// until the caller gives up.
func (m *MinioClient) GetObject(ctx context.Context, bucket, key, rangeHeader string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)

	opts := minio.GetObjectOptions{}
	if rangeHeader != "" {
		opts.Set("Range", rangeHeader)
	}

	obj, err := m.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		cancel()
		return nil, classify(err)
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		cancel()
		return nil, classify(err)
	}

	return &Result{
		Body:          &cancelOnCloseBody{ReadCloser: obj, cancel: cancel},
		ContentType:   info.ContentType,
		ContentLength: info.Size,
		ETag:          info.ETag,
		LastModified:  info.LastModified,
		ContentRange:  info.Metadata.Get("Content-Range"),
		AcceptRanges:  info.Metadata.Get("Accept-Ranges"),
	}, nil
}

func (m *MinioClient) HeadObject(ctx context.Context, bucket, key string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return &Result{
		ContentType:   info.ContentType,
		ContentLength: info.Size,
		ETag:          info.ETag,
		LastModified:  info.LastModified,
		AcceptRanges:  info.Metadata.Get("Accept-Ranges"),
	}, nil
}

// cancelOnCloseBody ties a GetObject response body to the context deadline
// that bounded the request which produced it, releasing the deadline's
// resources once the caller is done reading.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
