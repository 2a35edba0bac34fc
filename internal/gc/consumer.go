package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/logging"
)

// Processor resolves one candidate. *Validator implements it.
type Processor interface {
	Process(ctx context.Context, entry index.Entry) Result
}

// ConsumerConfig configures the consumer runner.
type ConsumerConfig struct {
	// ConsumerID identifies this consumer in logs.
	ConsumerID string

	// RetryInterval is the first wait after a receive failure, and the
	// wait after an empty receive.
	// Default: 5s
	RetryInterval time.Duration

	// MaxRetryInterval caps the backoff between failing receives.
	// Default: 1m
	MaxRetryInterval time.Duration

	// ReceiveTimeout bounds each receive of a single-pass drain.
	// Default: 5s
	ReceiveTimeout time.Duration

	// ProcessTimeout bounds one candidate. Processing is detached from the
	// run context so shutdown lets the in-flight candidate finish.
	// Default: 5m
	ProcessTimeout time.Duration
}

// DrainResult summarizes a single-pass drain.
type DrainResult struct {
	Depth    int64
	Received int
	Outcomes map[Outcome]int
}

// Consumer feeds deliveries from a Source to a Processor.
type Consumer struct {
	source  Source
	proc    Processor
	cfg     ConsumerConfig
	logger  *logging.Logger
	metrics ConsumerMetrics

	loop worker
}

// NewConsumer creates a consumer. metrics may be nil.
func NewConsumer(source Source, proc Processor, cfg ConsumerConfig, logger *logging.Logger, metrics ConsumerMetrics) (*Consumer, error) {
	if source == nil || proc == nil {
		return nil, errors.New("gc: consumer needs a source and a processor")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.MaxRetryInterval < cfg.RetryInterval {
		cfg.MaxRetryInterval = time.Minute
		if cfg.MaxRetryInterval < cfg.RetryInterval {
			cfg.MaxRetryInterval = cfg.RetryInterval
		}
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 5 * time.Second
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.WithComponent("consumer")
	if cfg.ConsumerID != "" {
		logger = logger.WithWorker(cfg.ConsumerID)
	}
	return &Consumer{source: source, proc: proc, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Start runs the daemon loop in the background.
func (c *Consumer) Start(ctx context.Context) {
	c.loop.start(ctx, func(ctx context.Context) { _ = c.Run(ctx) })
}

// Stop ends the daemon loop after the in-flight candidate and waits.
func (c *Consumer) Stop() {
	c.loop.stop()
}

// Running reports whether the background loop is active.
func (c *Consumer) Running() bool {
	return c.loop.isRunning()
}

func (c *Consumer) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordReceive(result)
	}
}

// Run receives and processes candidates until ctx is done. Receive
// failures, including failures to establish the transport, are retried
// with exponential backoff. Every delivery is acked once processed,
// whatever the outcome: an unresolved candidate is still in the index and
// will be scheduled again.
func (c *Consumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInterval
	bo.MaxInterval = c.cfg.MaxRetryInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")

	for ctx.Err() == nil {
		deliveries, err := c.source.Receive(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.record(ReceiveError)
			wait := bo.NextBackOff()
			c.logger.Warnf("receive failed, retrying", map[string]any{
				"error": err.Error(),
				"wait":  wait.String(),
			})
			if !sleep(ctx, wait) {
				break
			}
			continue
		}
		bo.Reset()

		if len(deliveries) == 0 {
			c.record(ReceiveEmpty)
			if !sleep(ctx, c.cfg.RetryInterval) {
				break
			}
			continue
		}
		c.record(ReceiveOK)
		c.handle(ctx, deliveries)
	}
	return nil
}

// Drain processes the deliveries pending when it starts and returns. A
// failure to reach the source up front is returned as an error so a
// single-shot run can exit non-zero.
func (c *Consumer) Drain(ctx context.Context) (DrainResult, error) {
	res := DrainResult{Outcomes: make(map[Outcome]int)}
	depth, err := c.source.Depth(ctx)
	if err != nil {
		return res, fmt.Errorf("consumer: setup: %w", err)
	}
	res.Depth = depth
	c.logger.Infof("draining", map[string]any{"depth": depth})

	for int64(res.Received) < depth {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		deliveries, err := c.source.Receive(ctx, c.cfg.ReceiveTimeout)
		if err != nil {
			c.record(ReceiveError)
			return res, fmt.Errorf("consumer: receive: %w", err)
		}
		if len(deliveries) == 0 {
			c.record(ReceiveEmpty)
			break
		}
		c.record(ReceiveOK)
		res.Received += len(deliveries)
		for _, r := range c.handle(ctx, deliveries) {
			res.Outcomes[r.Outcome]++
		}
	}

	c.logger.Infof("drain finished", map[string]any{"depth": depth, "received": res.Received})
	return res, nil
}

// handle processes deliveries on a context that survives cancellation of
// ctx, then acks them.
func (c *Consumer) handle(ctx context.Context, deliveries []Delivery) []Result {
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProcessTimeout)
	defer cancel()

	results := make([]Result, 0, len(deliveries))
	for _, d := range deliveries {
		if d.Err != nil {
			c.logger.WithCandidate(d.ID).Corruption("dropping undecodable delivery", d.Err, nil)
			results = append(results, Result{Key: d.ID, Outcome: OutcomeCorrupt, Err: d.Err})
			continue
		}
		itemCtx := logging.WithCandidateCtx(procCtx, d.Entry.Key)
		results = append(results, c.proc.Process(itemCtx, d.Entry))
	}

	if err := c.source.Ack(procCtx); err != nil {
		c.record(AckError)
		c.logger.Warnf("ack failed, deliveries may be redelivered", map[string]any{"error": err.Error()})
	}
	return results
}
