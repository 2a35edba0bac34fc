// Package httpindex implements index.Client against the index HTTP service:
//
//	GET    /indexes/{id}?keys=N&marker=M   list
//	GET    /indexes/{id}/{key}             get
//	PUT    /indexes/{id}/{key}             put
//	DELETE /indexes/{id}/{key}             delete
package httpindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/reclaim-io/reclaim/internal/httpapi"
	"github.com/reclaim-io/reclaim/internal/index"
)

// Client talks to the index service.
type Client struct {
	api *httpapi.Client

	mu     sync.RWMutex
	closed bool
}

// New creates a Client from the shared HTTP settings.
func New(cfg httpapi.Config) (*Client, error) {
	api, err := httpapi.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{api: api}, nil
}

// listResponse is the LIST body. IsTruncated arrives either as a JSON bool
// or as the strings "true"/"false".
type listResponse struct {
	Keys        []index.Entry `json:"Keys"`
	IsTruncated flexBool      `json:"IsTruncated"`
	NextMarker  string        `json:"NextMarker"`
}

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("IsTruncated: %w", err)
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("IsTruncated: %w", err)
	}
	*b = flexBool(v)
	return nil
}

func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return index.ErrClosed
	}
	return nil
}

func wrap(op, indexID, key string, err error) error {
	return index.NewError(op, indexID, key, httpapi.CodeOf(err), err)
}

// List returns one page of indexID.
func (c *Client) List(ctx context.Context, indexID string, maxKeys int, marker string) (index.Page, error) {
	if err := c.checkClosed(); err != nil {
		return index.Page{}, err
	}
	if maxKeys <= 0 {
		maxKeys = index.DefaultMaxKeys
	}
	q := url.Values{"keys": {strconv.Itoa(maxKeys)}}
	if marker != "" {
		q.Set("marker", marker)
	}

	resp, err := c.api.Do(ctx, http.MethodGet, []string{"indexes", indexID}, q, nil)
	if err != nil {
		return index.Page{}, wrap(index.OpList, indexID, "", err)
	}

	var body listResponse
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return index.Page{}, &index.Error{
				Op: index.OpList, Index: indexID, Code: resp.Code, Status: index.StatusFatal,
				Err: fmt.Errorf("decode list response: %w", err),
			}
		}
	}
	return index.Page{
		Keys:        body.Keys,
		IsTruncated: bool(body.IsTruncated),
		NextMarker:  body.NextMarker,
	}, nil
}

// Get returns the raw value stored under key.
func (c *Client) Get(ctx context.Context, indexID, key string) (string, error) {
	if err := c.checkClosed(); err != nil {
		return "", err
	}
	resp, err := c.api.Do(ctx, http.MethodGet, []string{"indexes", indexID, key}, nil, nil)
	if err != nil {
		return "", wrap(index.OpGet, indexID, key, err)
	}
	return string(resp.Body), nil
}

// Put stores value under key.
func (c *Client) Put(ctx context.Context, indexID, key, value string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if _, err := c.api.Do(ctx, http.MethodPut, []string{"indexes", indexID, key}, nil, []byte(value)); err != nil {
		return wrap(index.OpPut, indexID, key, err)
	}
	return nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, indexID, key string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if _, err := c.api.Do(ctx, http.MethodDelete, []string{"indexes", indexID, key}, nil, nil); err != nil {
		return wrap(index.OpDelete, indexID, key, err)
	}
	return nil
}

// Close marks the client closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ index.Client = (*Client)(nil)
