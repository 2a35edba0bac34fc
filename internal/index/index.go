// Package index defines the Client interface over the remote key-value
// index service that holds probable-delete candidates, object metadata and
// the global instance list.
//
// Calls are synchronous and never retried at this layer. Every error can be
// classified with StatusOf so callers branch on "missing" versus "broken"
// without inspecting transport details.
package index

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// DefaultMaxKeys is the page size used when a caller passes maxKeys <= 0.
const DefaultMaxKeys = 1000

var (
	// ErrNotFound is returned when the index or key does not exist.
	ErrNotFound = errors.New("index: not found")

	// ErrClosed is returned when a closed client is used.
	ErrClosed = errors.New("index: client closed")
)

// Entry is one key/value pair of an index. The JSON field names are the
// ones carried in queue messages.
type Entry struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Page is the result of a single List call.
type Page struct {
	Keys        []Entry
	IsTruncated bool
	NextMarker  string
}

// Client is a typed accessor over named indexes.
type Client interface {
	// List returns up to maxKeys entries whose keys sort strictly after
	// marker. An empty marker starts from the beginning.
	List(ctx context.Context, indexID string, maxKeys int, marker string) (Page, error)

	// Get returns the value stored under key.
	Get(ctx context.Context, indexID, key string) (string, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, indexID, key, value string) error

	// Delete removes key. A missing key yields a NotFound status.
	Delete(ctx context.Context, indexID, key string) error

	// Close releases resources held by the client.
	Close() error
}

// Status is the machine-readable classification of an index call result.
type Status int

const (
	// StatusOK means the call succeeded.
	StatusOK Status = iota
	// StatusNotFound means the key or index does not exist.
	StatusNotFound
	// StatusTransient means the service was unreachable or faulted; the
	// call may succeed later.
	StatusTransient
	// StatusFatal means the request itself was rejected.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusTransient:
		return "transient"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error describes a failed index call.
type Error struct {
	Op     string
	Index  string
	Key    string
	Code   int
	Status Status
	Err    error
}

func (e *Error) Error() string {
	target := e.Index
	if e.Key != "" {
		target += "/" + e.Key
	}
	msg := fmt.Sprintf("index: %s %s: %s", e.Op, target, e.Status)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes a NotFound-classified Error match ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == StatusNotFound
}

// NewError builds an Error, deriving its status from err when no HTTP code
// is known.
func NewError(op, indexID, key string, code int, err error) *Error {
	st := StatusOf(err)
	if code != 0 {
		st = StatusFromHTTP(code)
	}
	return &Error{Op: op, Index: indexID, Key: key, Code: code, Status: st, Err: err}
}

// StatusFromHTTP maps an index service response code to a Status.
func StatusFromHTTP(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusOK
	case code == http.StatusNotFound:
		return StatusNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return StatusTransient
	default:
		return StatusFatal
	}
}

// StatusOf classifies err. Unrecognised errors are transient.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Status
	}
	if errors.Is(err, ErrNotFound) {
		return StatusNotFound
	}
	if errors.Is(err, ErrClosed) {
		return StatusFatal
	}
	return StatusTransient
}

// IsNotFound reports whether err classifies as StatusNotFound.
func IsNotFound(err error) bool {
	return StatusOf(err) == StatusNotFound
}
