package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Index.Backend {
	case BackendHTTP:
		if c.Index.Endpoint == "" {
			add("index.endpoint is required for the http backend")
		}
	case BackendOxia:
		if c.Index.OxiaEndpoint == "" {
			add("index.oxiaEndpoint is required for the oxia backend")
		}
		if c.Index.OxiaNamespace == "" {
			add("index.oxiaNamespace is required for the oxia backend")
		}
	default:
		add("index.backend must be http or oxia, got %q", c.Index.Backend)
	}
	if c.Index.ProbableDeleteIndexID == "" {
		add("index.probableDeleteIndexId is required")
	}
	if c.Index.GlobalInstanceIndexID == "" {
		add("index.globalInstanceIndexId is required")
	}
	if r := c.Index.GlobalInstanceReplicaIndexID; r != "" && r == c.Index.GlobalInstanceIndexID {
		add("index.globalInstanceReplicaIndexId must differ from globalInstanceIndexId")
	}
	if c.Index.PageSize < 0 {
		add("index.pageSize must not be negative")
	}

	switch c.ObjectStore.Backend {
	case BackendHTTP:
		if c.ObjectStore.Endpoint == "" {
			add("objectStore.endpoint is required for the http backend")
		}
	case BackendS3:
		if c.ObjectStore.Bucket == "" {
			add("objectStore.bucket is required for the s3 backend")
		}
	default:
		add("objectStore.backend must be http or s3, got %q", c.ObjectStore.Backend)
	}

	switch c.Queue.Backend {
	case BackendKafka:
		if len(c.Queue.KafkaBrokers) == 0 {
			add("queue.kafkaBrokers is required for the kafka backend")
		}
	case BackendRedis:
		if c.Queue.RedisAddr == "" {
			add("queue.redisAddr is required for the redis backend")
		}
	default:
		add("queue.backend must be kafka or redis, got %q", c.Queue.Backend)
	}
	if c.Queue.Topic == "" {
		add("queue.topic is required")
	}
	if c.Queue.Group == "" {
		add("queue.group is required")
	}
	if c.Queue.ClaimIdle < 0 {
		add("queue.claimIdle must not be negative")
	}

	if c.Scheduler.Interval <= 0 {
		add("scheduler.interval must be positive")
	}
	if c.Scheduler.MaxKeys <= 0 {
		add("scheduler.maxKeys must be positive")
	}
	if c.Scheduler.LeakDelay < 0 {
		add("scheduler.leakDelay must not be negative")
	}
	if c.Scheduler.QueueThreshold < 0 {
		add("scheduler.queueThreshold must not be negative")
	}

	switch c.Consumer.Source {
	case SourceQueue, SourceIndex:
	default:
		add("consumer.source must be queue or index, got %q", c.Consumer.Source)
	}
	if c.Consumer.MinAge < 0 {
		add("consumer.minAge must not be negative")
	}

	switch strings.ToLower(c.Reconcile.SnapshotFormat) {
	case "", "jsonl", "jsonl.zst", "jsonl.lz4", "jsonl.snappy", "parquet":
	default:
		add("reconcile.snapshotFormat %q is not supported", c.Reconcile.SnapshotFormat)
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		add("observability.logLevel must be debug, info, warn or error, got %q", c.Observability.LogLevel)
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "text":
	default:
		add("observability.logFormat must be json or text, got %q", c.Observability.LogFormat)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
}
