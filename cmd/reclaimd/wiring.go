package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/reclaim-io/reclaim/internal/config"
	"github.com/reclaim-io/reclaim/internal/httpapi"
	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/index/httpindex"
	"github.com/reclaim-io/reclaim/internal/index/oxia"
	"github.com/reclaim-io/reclaim/internal/logging"
	"github.com/reclaim-io/reclaim/internal/metrics"
	"github.com/reclaim-io/reclaim/internal/objectstore"
	"github.com/reclaim-io/reclaim/internal/objectstore/httpobj"
	"github.com/reclaim-io/reclaim/internal/objectstore/s3"
	"github.com/reclaim-io/reclaim/internal/queue"
	"github.com/reclaim-io/reclaim/internal/queue/kafka"
	"github.com/reclaim-io/reclaim/internal/queue/redisq"
)

// newRegistry returns a registry carrying the Go runtime and process
// collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildIndex creates the index client for cfg.Backend. A non-nil m wraps it
// with latency metrics.
func buildIndex(cfg config.IndexConfig, m *metrics.IndexMetrics) (index.Client, error) {
	var (
		client index.Client
		err    error
	)
	switch cfg.Backend {
	case "", config.BackendHTTP:
		client, err = httpindex.New(httpapi.Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Timeout:         cfg.Timeout,
		})
	case config.BackendOxia:
		client, err = oxia.New(oxia.Config{
			ServiceAddress: cfg.OxiaEndpoint,
			Namespace:      cfg.OxiaNamespace,
			KeyPrefix:      cfg.OxiaKeyPrefix,
			RequestTimeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		return client, nil
	}
	return index.NewInstrumentedClient(client, m), nil
}

// buildStore creates the object store for cfg.Backend. A non-nil m wraps it
// with latency metrics.
func buildStore(ctx context.Context, cfg config.ObjectStoreConfig, m *metrics.ObjectStoreMetrics) (objectstore.Store, error) {
	var (
		store objectstore.Store
		err   error
	)
	switch cfg.Backend {
	case "", config.BackendHTTP:
		store, err = httpobj.New(httpapi.Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Timeout:         cfg.Timeout,
		})
	case config.BackendS3:
		store, err = s3.New(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown object store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		return store, nil
	}
	return objectstore.NewInstrumentedStore(store, m), nil
}

// queueRole says how a process uses the work queue.
type queueRole int

const (
	// roleProducer publishes, purges and counts but never consumes.
	roleProducer queueRole = iota
	// roleConsumer reads through the consumer group.
	roleConsumer
)

func kafkaConfig(cfg config.QueueConfig, clientID string, role queueRole) kafka.Config {
	return kafka.Config{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.Topic,
		Group:       cfg.Group,
		ClientID:    clientID,
		DialTimeout: cfg.DialTimeout,
		ProduceOnly: role == roleProducer,
	}
}

func redisConfig(cfg config.QueueConfig, clientID string, role queueRole) redisq.Config {
	c := redisq.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Stream:   cfg.Topic,
		Group:    cfg.Group,
		Consumer: clientID,
	}
	if role == roleConsumer {
		c.ClaimIdle = cfg.ClaimIdle
	}
	return c
}

// buildDialer returns the queue dialer for cfg.Backend. clientID names this
// process to the broker.
func buildDialer(cfg config.QueueConfig, clientID string, role queueRole) (queue.Dialer, error) {
	switch cfg.Backend {
	case "", config.BackendKafka:
		return kafka.Dialer(kafkaConfig(cfg, clientID, role)), nil
	case config.BackendRedis:
		return redisq.Dialer(redisConfig(cfg, clientID, role)), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// buildSession wraps the configured dialer in a queue session.
func buildSession(cfg config.QueueConfig, clientID string, role queueRole, logger *logging.Logger) (*queue.Session, error) {
	dial, err := buildDialer(cfg, clientID, role)
	if err != nil {
		return nil, err
	}
	name := cfg.Backend
	if name == "" {
		name = config.BackendKafka
	}
	return queue.NewSession(name, dial, logger), nil
}

// connectPolicy is the retry policy for the initial queue connection.
// Daemons keep the configured attempt budget; single-shot runs try once.
func connectPolicy(cfg config.QueueConfig, daemon bool) queue.RetryPolicy {
	if !daemon {
		return queue.RetryPolicy{MaxAttempts: 1}
	}
	return queue.RetryPolicy{MaxAttempts: cfg.ConnectAttempts}
}

// closeAll closes every closer and joins the errors.
func closeAll(closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
