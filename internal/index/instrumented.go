package index

import (
	"context"
	"time"
)

// MetricsRecorder records index call latency. It keeps this package
// decoupled from the metrics package.
type MetricsRecorder interface {
	RecordIndexOp(op string, durationSeconds float64, status string)
}

// InstrumentedClient wraps a Client and records metrics for each call.
type InstrumentedClient struct {
	client  Client
	metrics MetricsRecorder
}

// NewInstrumentedClient wraps client. A nil recorder passes calls through.
func NewInstrumentedClient(client Client, metrics MetricsRecorder) *InstrumentedClient {
	return &InstrumentedClient{client: client, metrics: metrics}
}

func (c *InstrumentedClient) record(op string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.RecordIndexOp(op, time.Since(start).Seconds(), StatusOf(err).String())
	}
}

func (c *InstrumentedClient) List(ctx context.Context, indexID string, maxKeys int, marker string) (Page, error) {
	start := time.Now()
	page, err := c.client.List(ctx, indexID, maxKeys, marker)
	c.record(OpList, start, err)
	return page, err
}

func (c *InstrumentedClient) Get(ctx context.Context, indexID, key string) (string, error) {
	start := time.Now()
	v, err := c.client.Get(ctx, indexID, key)
	c.record(OpGet, start, err)
	return v, err
}

func (c *InstrumentedClient) Put(ctx context.Context, indexID, key, value string) error {
	start := time.Now()
	err := c.client.Put(ctx, indexID, key, value)
	c.record(OpPut, start, err)
	return err
}

func (c *InstrumentedClient) Delete(ctx context.Context, indexID, key string) error {
	start := time.Now()
	err := c.client.Delete(ctx, indexID, key)
	c.record(OpDelete, start, err)
	return err
}

func (c *InstrumentedClient) Close() error {
	return c.client.Close()
}

var _ Client = (*InstrumentedClient)(nil)
