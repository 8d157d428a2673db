// Package storage reads operational objects, such as the catalog seed, from Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const (
	defaultMaxObjectBytes = 4 << 20
	defaultReadTimeout    = 15 * time.Second
)

var (
	// ErrObjectNotFound reports a missing bucket or object.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrObjectTooLarge reports an object above the configured size cap.
	ErrObjectTooLarge = errors.New("storage: object exceeds size limit")
)

type openFunc func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// ObjectReader downloads small objects whole.
type ObjectReader struct {
	open     openFunc
	close    func() error
	maxBytes int64
	timeout  time.Duration
}

// NewObjectReader creates a Cloud Storage client with the given options.
func NewObjectReader(ctx context.Context, opts ...option.ClientOption) (*ObjectReader, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	return &ObjectReader{
		open: func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
			return client.Bucket(bucket).Object(object).NewReader(ctx)
		},
		close:    client.Close,
		maxBytes: defaultMaxObjectBytes,
		timeout:  defaultReadTimeout,
	}, nil
}

// ReadObject returns the object's contents.
func (r *ObjectReader) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	bucket, object = strings.TrimSpace(bucket), strings.TrimSpace(object)
	if bucket == "" || object == "" {
		return nil, errors.New("storage: bucket and object are required")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rc, err := r.open(ctx, bucket, object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, object)
		}
		return nil, fmt.Errorf("storage: open gs://%s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read gs://%s/%s: %w", bucket, object, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectTooLarge, bucket, object)
	}
	return data, nil
}

// Close releases the underlying client.
func (r *ObjectReader) Close() error {
	if r == nil || r.close == nil {
		return nil
	}
	return r.close()
}
