// Package oxia implements index.Client on top of an Oxia namespace. Each
// named index is a key prefix; index keys are path-escaped so that every
// entry is a direct child of its index prefix in Oxia's hierarchical
// ordering.
package oxia

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/reclaim-io/reclaim/internal/index"
)

// DefaultKeyPrefix is the root under which indexes are stored.
const DefaultKeyPrefix = "/reclaim/v1/indexes"

// Config configures the Oxia index client.
type Config struct {
	// ServiceAddress is the Oxia service endpoint (e.g., "localhost:6648").
	ServiceAddress string

	// Namespace is the Oxia namespace holding the indexes.
	Namespace string

	// KeyPrefix overrides DefaultKeyPrefix.
	KeyPrefix string

	// RequestTimeout is the timeout for individual requests.
	RequestTimeout time.Duration
}

// Client implements index.Client using Oxia.
type Client struct {
	client oxiaclient.SyncClient
	prefix string

	mu     sync.RWMutex
	closed bool
}

// New connects to Oxia.
func New(cfg Config) (*Client, error) {
	if cfg.ServiceAddress == "" {
		return nil, errors.New("oxia: service address is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("oxia: namespace is required")
	}

	opts := []oxiaclient.ClientOption{oxiaclient.WithNamespace(cfg.Namespace)}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(cfg.RequestTimeout))
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Client{client: client, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (c *Client) indexPrefix(indexID string) string {
	return c.prefix + "/" + url.PathEscape(indexID) + "/"
}

func (c *Client) oxiaKey(indexID, key string) string {
	return c.indexPrefix(indexID) + url.PathEscape(key)
}

func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return index.ErrClosed
	}
	return nil
}

// classify turns an Oxia error into an index.Error.
func classify(op, indexID, key string, err error) error {
	st := index.StatusTransient
	switch {
	case errors.Is(err, oxiaclient.ErrKeyNotFound):
		st = index.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		st = index.StatusTransient
	default:
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted, codes.Unknown:
			st = index.StatusTransient
		case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition, codes.Unimplemented:
			st = index.StatusFatal
		}
	}
	return &index.Error{Op: op, Index: indexID, Key: key, Status: st, Err: err}
}

// List returns up to maxKeys entries sorting after marker.
func (c *Client) List(ctx context.Context, indexID string, maxKeys int, marker string) (index.Page, error) {
	if err := c.checkClosed(); err != nil {
		return index.Page{}, err
	}
	if maxKeys <= 0 {
		maxKeys = index.DefaultMaxKeys
	}

	prefix := c.indexPrefix(indexID)
	start := prefix
	if marker != "" {
		// Smallest key strictly greater than the marker.
		start = c.oxiaKey(indexID, marker) + "\x00"
	}
	// Oxia convention: a trailing "//" bounds the direct children of prefix.
	end := prefix + "/"

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := c.client.RangeScan(scanCtx, start, end)

	var page index.Page
	for result := range results {
		if result.Err != nil {
			go drain(results)
			return index.Page{}, classify(index.OpList, indexID, marker, result.Err)
		}
		if len(page.Keys) == maxKeys {
			// One more entry exists beyond this page.
			page.IsTruncated = true
			page.NextMarker = page.Keys[len(page.Keys)-1].Key
			go drain(results)
			break
		}
		key, err := url.PathUnescape(strings.TrimPrefix(result.Key, prefix))
		if err != nil {
			key = strings.TrimPrefix(result.Key, prefix)
		}
		page.Keys = append(page.Keys, index.Entry{Key: key, Value: string(result.Value)})
	}
	return page, nil
}

// Get returns the value stored under key.
func (c *Client) Get(ctx context.Context, indexID, key string) (string, error) {
	if err := c.checkClosed(); err != nil {
		return "", err
	}
	_, value, _, err := c.client.Get(ctx, c.oxiaKey(indexID, key))
	if err != nil {
		return "", classify(index.OpGet, indexID, key, err)
	}
	return string(value), nil
}

// Put stores value under key.
func (c *Client) Put(ctx context.Context, indexID, key, value string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if _, _, err := c.client.Put(ctx, c.oxiaKey(indexID, key), []byte(value)); err != nil {
		return classify(index.OpPut, indexID, key, err)
	}
	return nil
}

// Delete removes key. Oxia reports a missing key as ErrKeyNotFound, which
// classifies as StatusNotFound.
func (c *Client) Delete(ctx context.Context, indexID, key string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if err := c.client.Delete(ctx, c.oxiaKey(indexID, key)); err != nil {
		return classify(index.OpDelete, indexID, key, err)
	}
	return nil
}

// Close releases the Oxia client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

func drain(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var _ index.Client = (*Client)(nil)
