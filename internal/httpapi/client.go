// Package httpapi is the small HTTP transport shared by the index and object
// storage clients. Requests are optionally signed with AWS Signature V4 and
// path segments are escaped individually so keys may contain "/".
package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4 << 10

// Config configures a Client.
type Config struct {
	// Endpoint is the base URL of the service, e.g. "http://127.0.0.1:28049".
	Endpoint string

	// Region and Service scope the SigV4 signature. Signing is disabled
	// when AccessKeyID is empty.
	Region          string
	Service         string
	AccessKeyID     string
	SecretAccessKey string

	// Timeout bounds every request. Zero means 30s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// StatusError is returned for any response outside 2xx.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("httpapi: %s %s: status %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// CodeOf returns the HTTP status carried by err, or 0.
func CodeOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Response is a fully read response.
type Response struct {
	Code   int
	Header http.Header
	Body   []byte
}

// Client issues requests against one service endpoint.
type Client struct {
	base    *url.URL
	http    *http.Client
	signer  *v4.Signer
	creds   aws.CredentialsProvider
	region  string
	service string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("httpapi: endpoint is required")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("httpapi: invalid endpoint %q: %w", cfg.Endpoint, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("httpapi: endpoint %q must be http or https", cfg.Endpoint)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		base:    base,
		http:    hc,
		region:  cfg.Region,
		service: cfg.Service,
	}
	if cfg.AccessKeyID != "" {
		c.signer = v4.NewSigner()
		c.creds = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		if c.region == "" {
			c.region = "us-east-1"
		}
		if c.service == "" {
			c.service = "s3"
		}
	}
	return c, nil
}

// URL builds the request URL for the given path segments and query.
func (c *Client) URL(segments []string, query url.Values) *url.URL {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = strings.TrimSuffix(c.base.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	} else {
		u.RawQuery = ""
	}
	return &u
}

// Do sends one request and reads the whole response. Non-2xx responses are
// returned as *StatusError together with the response.
func (c *Client) Do(ctx context.Context, method string, segments []string, query url.Values, body []byte) (*Response, error) {
	u := c.URL(segments, query)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("httpapi: build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.sign(ctx, req, body); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpapi: read %s %s response: %w", method, u.Path, err)
	}

	out := &Response{Code: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return out, &StatusError{Method: method, Path: u.Path, Code: resp.StatusCode, Body: strings.TrimSpace(msg)}
	}
	return out, nil
}

func (c *Client) sign(ctx context.Context, req *http.Request, body []byte) error {
	if c.signer == nil {
		return nil
	}
	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("httpapi: retrieve credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if err := c.signer.SignHTTP(ctx, creds, req, payloadHash, c.service, c.region, time.Now().UTC()); err != nil {
		return fmt.Errorf("httpapi: sign request: %w", err)
	}
	return nil
}
