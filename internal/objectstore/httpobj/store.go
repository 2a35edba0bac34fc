// Package httpobj implements objectstore.Store against the object storage
// HTTP service: PUT|GET|HEAD|DELETE /objects/{oid}?layout-id=N.
package httpobj

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/reclaim-io/reclaim/internal/httpapi"
	"github.com/reclaim-io/reclaim/internal/objectstore"
)

// Store talks to the object storage service.
type Store struct {
	api *httpapi.Client

	mu     sync.RWMutex
	closed bool
}

// New creates a Store from the shared HTTP settings.
func New(cfg httpapi.Config) (*Store, error) {
	api, err := httpapi.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{api: api}, nil
}

func (s *Store) checkClosed(op, oid string, layoutID int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &objectstore.ObjectError{Op: op, OID: oid, LayoutID: layoutID, Err: objectstore.ErrClosed}
	}
	return nil
}

func layoutQuery(layoutID int) url.Values {
	return url.Values{"layout-id": {strconv.Itoa(layoutID)}}
}

func wrapError(op, oid string, layoutID int, err error) error {
	objErr := &objectstore.ObjectError{Op: op, OID: oid, LayoutID: layoutID, Code: httpapi.CodeOf(err), Err: err}
	switch objErr.Code {
	case http.StatusNotFound:
		objErr.Err = fmt.Errorf("%w: %w", objectstore.ErrNotFound, err)
	case http.StatusForbidden:
		objErr.Err = fmt.Errorf("%w: %w", objectstore.ErrAccessDenied, err)
	}
	return objErr
}

func (s *Store) Put(ctx context.Context, oid string, layoutID int, body io.Reader, size int64) error {
	if err := s.checkClosed("Put", oid, layoutID); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return &objectstore.ObjectError{Op: "Put", OID: oid, LayoutID: layoutID, Err: err}
	}
	if int64(len(data)) != size {
		return &objectstore.ObjectError{Op: "Put", OID: oid, LayoutID: layoutID,
			Err: fmt.Errorf("body has %d bytes, expected %d", len(data), size)}
	}
	if _, err := s.api.Do(ctx, http.MethodPut, []string{"objects", oid}, layoutQuery(layoutID), data); err != nil {
		return wrapError("Put", oid, layoutID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, oid string, layoutID int) (io.ReadCloser, error) {
	if err := s.checkClosed("Get", oid, layoutID); err != nil {
		return nil, err
	}
	resp, err := s.api.Do(ctx, http.MethodGet, []string{"objects", oid}, layoutQuery(layoutID), nil)
	if err != nil {
		return nil, wrapError("Get", oid, layoutID, err)
	}
	return io.NopCloser(bytes.NewReader(resp.Body)), nil
}

func (s *Store) Head(ctx context.Context, oid string, layoutID int) (objectstore.ObjectMeta, error) {
	if err := s.checkClosed("Head", oid, layoutID); err != nil {
		return objectstore.ObjectMeta{}, err
	}
	resp, err := s.api.Do(ctx, http.MethodHead, []string{"objects", oid}, layoutQuery(layoutID), nil)
	if err != nil {
		return objectstore.ObjectMeta{}, wrapError("Head", oid, layoutID, err)
	}
	meta := objectstore.ObjectMeta{OID: oid, LayoutID: layoutID, ETag: resp.Header.Get("ETag")}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		meta.Size = n
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		meta.LastModified = t.UnixMilli()
	}
	return meta, nil
}

func (s *Store) Delete(ctx context.Context, oid string, layoutID int) error {
	if err := s.checkClosed("Delete", oid, layoutID); err != nil {
		return err
	}
	if _, err := s.api.Do(ctx, http.MethodDelete, []string{"objects", oid}, layoutQuery(layoutID), nil); err != nil {
		return wrapError("Delete", oid, layoutID, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ objectstore.Store = (*Store)(nil)
