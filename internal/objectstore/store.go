// Package objectstore defines the Store interface over the storage backend
// that holds storage-units. Storage-units are addressed by their oid and the
// layout id recorded with the probable-delete candidate.
//
// # Usage
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.Delete(ctx, oid, layoutID); err != nil && !objectstore.IsNotFound(err) {
//	    // leave the candidate for the next pass
//	}
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the storage-unit does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrClosed is returned when a closed store is used.
	ErrClosed = errors.New("store closed")
)

// ObjectError wraps an error with the storage-unit it concerns.
type ObjectError struct {
	Op       string // Operation that failed (e.g., "Put", "Get", "Delete")
	OID      string
	LayoutID int
	Code     int // HTTP status when known
	Err      error
}

func (e *ObjectError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("objectstore: %s %q (layout %d): http %d: %v", e.Op, e.OID, e.LayoutID, e.Code, e.Err)
	}
	return fmt.Sprintf("objectstore: %s %q (layout %d): %v", e.Op, e.OID, e.LayoutID, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the storage-unit is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ObjectMeta describes a stored storage-unit.
type ObjectMeta struct {
	OID          string
	LayoutID     int
	Size         int64
	ETag         string
	LastModified int64 // Unix milliseconds
}

// Store is the interface for storage-unit operations.
//
// Implementations must be safe for concurrent use and should return errors
// wrapped in ObjectError.
type Store interface {
	// Put stores size bytes read from body as storage-unit oid.
	Put(ctx context.Context, oid string, layoutID int, body io.Reader, size int64) error

	// Get retrieves a storage-unit. The caller closes the returned reader.
	Get(ctx context.Context, oid string, layoutID int) (io.ReadCloser, error)

	// Head returns metadata without the body. Missing units yield ErrNotFound.
	Head(ctx context.Context, oid string, layoutID int) (ObjectMeta, error)

	// Delete removes a storage-unit. Backends that can tell a missing unit
	// apart report it as ErrNotFound; callers treat that as success.
	Delete(ctx context.Context, oid string, layoutID int) error

	// Close releases resources associated with the store.
	Close() error
}
