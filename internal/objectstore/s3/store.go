// Package s3 implements objectstore.Store on an S3-compatible bucket. Each
// storage-unit is one object under the configured prefix; its layout id is
// kept in the object's user metadata.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/reclaim-io/reclaim/internal/objectstore"
)

// layoutMetaKey is the user-metadata key holding the layout id.
const layoutMetaKey = "layout-id"

// Config configures an S3 store.
type Config struct {
	// Bucket is the name of the S3 bucket.
	Bucket string

	// Prefix is prepended to every storage-unit key.
	Prefix string

	// Region is the AWS region (e.g., "us-east-1").
	Region string

	// Endpoint is the S3 endpoint URL (e.g., "http://localhost:9000" for MinIO).
	// If empty, uses the default AWS endpoint for the region.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty the default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (required for MinIO and
	// most S3-compatible stores).
	UsePathStyle bool
}

// Store implements objectstore.Store using AWS S3.
type Store struct {
	client *s3.Client
	bucket string
	prefix string

	mu     sync.RWMutex
	closed bool
}

// New creates a new S3 store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.DisableLogOutputChecksumValidationSkipped = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) checkClosed(op, oid string, layoutID int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &objectstore.ObjectError{Op: op, OID: oid, LayoutID: layoutID, Err: objectstore.ErrClosed}
	}
	return nil
}

func (s *Store) key(oid string) *string {
	return aws.String(objectstore.ObjectKey(s.prefix, oid))
}

// Put stores a storage-unit.
func (s *Store) Put(ctx context.Context, oid string, layoutID int, body io.Reader, size int64) error {
	if err := s.checkClosed("Put", oid, layoutID); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           s.key(oid),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      map[string]string{layoutMetaKey: strconv.Itoa(layoutID)},
	})
	if err != nil {
		return wrapError("Put", oid, layoutID, err)
	}
	return nil
}

// Get retrieves a storage-unit.
func (s *Store) Get(ctx context.Context, oid string, layoutID int) (io.ReadCloser, error) {
	if err := s.checkClosed("Get", oid, layoutID); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(oid),
	})
	if err != nil {
		return nil, wrapError("Get", oid, layoutID, err)
	}
	return out.Body, nil
}

// Head retrieves storage-unit metadata.
func (s *Store) Head(ctx context.Context, oid string, layoutID int) (objectstore.ObjectMeta, error) {
	if err := s.checkClosed("Head", oid, layoutID); err != nil {
		return objectstore.ObjectMeta{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(oid),
	})
	if err != nil {
		return objectstore.ObjectMeta{}, wrapError("Head", oid, layoutID, err)
	}

	meta := objectstore.ObjectMeta{
		OID:      oid,
		LayoutID: layoutID,
		Size:     aws.ToInt64(out.ContentLength),
		ETag:     aws.ToString(out.ETag),
	}
	if v, ok := out.Metadata[layoutMetaKey]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			meta.LayoutID = n
		}
	}
	if out.LastModified != nil {
		meta.LastModified = out.LastModified.UnixMilli()
	}
	return meta, nil
}

// Delete removes a storage-unit. S3 answers deletes of missing keys with
// success, so ErrNotFound only surfaces from S3-compatible stores that
// report 404.
func (s *Store) Delete(ctx context.Context, oid string, layoutID int) error {
	if err := s.checkClosed("Delete", oid, layoutID); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(oid),
	})
	if err != nil {
		return wrapError("Delete", oid, layoutID, err)
	}
	return nil
}

// Close releases resources associated with the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func wrapError(op, oid string, layoutID int, err error) error {
	objErr := &objectstore.ObjectError{Op: op, OID: oid, LayoutID: layoutID, Err: err}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		objErr.Code = respErr.HTTPStatusCode()
		switch objErr.Code {
		case http.StatusNotFound:
			objErr.Err = objectstore.ErrNotFound
		case http.StatusForbidden:
			objErr.Err = objectstore.ErrAccessDenied
		}
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		objErr.Err = objectstore.ErrBucketNotFound
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		objErr.Err = objectstore.ErrNotFound
	}
	return objErr
}

var _ objectstore.Store = (*Store)(nil)
