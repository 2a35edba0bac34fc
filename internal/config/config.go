// Package config provides configuration loading and validation for reclaim.
// Supports YAML files with environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file used by Load.
const EnvConfigPath = "RECLAIM_CONFIG"

// EnvFile names an optional dotenv file read by Load before overrides are
// applied. Variables already set in the environment win.
const EnvFile = "RECLAIM_ENV_FILE"

// Backend and source names accepted by the configuration.
const (
	BackendHTTP  = "http"
	BackendOxia  = "oxia"
	BackendS3    = "s3"
	BackendKafka = "kafka"
	BackendRedis = "redis"

	SourceQueue = "queue"
	SourceIndex = "index"
)

// Config holds all configuration for the reclaim daemons.
type Config struct {
	Index         IndexConfig         `yaml:"index"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Queue         QueueConfig         `yaml:"queue"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Consumer      ConsumerConfig      `yaml:"consumer"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// IndexConfig selects the index backend and names the indexes in use.
type IndexConfig struct {
	// Backend is "http" or "oxia".
	Backend string `yaml:"backend" env:"RECLAIM_INDEX_BACKEND"`

	Endpoint        string        `yaml:"endpoint" env:"RECLAIM_INDEX_ENDPOINT"`
	Region          string        `yaml:"region" env:"RECLAIM_INDEX_REGION"`
	AccessKeyID     string        `yaml:"accessKeyId" env:"RECLAIM_INDEX_ACCESS_KEY"`
	SecretAccessKey string        `yaml:"secretAccessKey" env:"RECLAIM_INDEX_SECRET_KEY"`
	Timeout         time.Duration `yaml:"timeout" env:"RECLAIM_INDEX_TIMEOUT"`

	OxiaEndpoint  string `yaml:"oxiaEndpoint" env:"RECLAIM_OXIA_ENDPOINT"`
	OxiaNamespace string `yaml:"oxiaNamespace" env:"RECLAIM_OXIA_NAMESPACE"`
	OxiaKeyPrefix string `yaml:"oxiaKeyPrefix" env:"RECLAIM_OXIA_KEY_PREFIX"`

	ProbableDeleteIndexID        string `yaml:"probableDeleteIndexId" env:"RECLAIM_PROBABLE_DELETE_INDEX_ID"`
	GlobalInstanceIndexID        string `yaml:"globalInstanceIndexId" env:"RECLAIM_GLOBAL_INSTANCE_INDEX_ID"`
	GlobalInstanceReplicaIndexID string `yaml:"globalInstanceReplicaIndexId" env:"RECLAIM_GLOBAL_INSTANCE_REPLICA_INDEX_ID"`

	// PageSize is the LIST page size for full index scans.
	PageSize int `yaml:"pageSize" env:"RECLAIM_INDEX_PAGE_SIZE"`
}

// ObjectStoreConfig selects the storage-unit backend.
type ObjectStoreConfig struct {
	// Backend is "http" or "s3".
	Backend string `yaml:"backend" env:"RECLAIM_OBJECTSTORE_BACKEND"`

	Endpoint        string        `yaml:"endpoint" env:"RECLAIM_OBJECTSTORE_ENDPOINT"`
	Region          string        `yaml:"region" env:"RECLAIM_OBJECTSTORE_REGION"`
	AccessKeyID     string        `yaml:"accessKeyId" env:"RECLAIM_OBJECTSTORE_ACCESS_KEY"`
	SecretAccessKey string        `yaml:"secretAccessKey" env:"RECLAIM_OBJECTSTORE_SECRET_KEY"`
	Timeout         time.Duration `yaml:"timeout" env:"RECLAIM_OBJECTSTORE_TIMEOUT"`

	Bucket       string `yaml:"bucket" env:"RECLAIM_S3_BUCKET"`
	Prefix       string `yaml:"prefix" env:"RECLAIM_S3_PREFIX"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"RECLAIM_S3_PATH_STYLE"`
}

// QueueConfig selects the work queue transport.
type QueueConfig struct {
	// Backend is "kafka" or "redis".
	Backend string `yaml:"backend" env:"RECLAIM_QUEUE_BACKEND"`

	// Topic is the Kafka topic or Redis stream carrying candidates.
	Topic string `yaml:"topic" env:"RECLAIM_QUEUE_TOPIC"`

	// Group is the consumer group shared by consumers and used by the
	// scheduler to count unread messages.
	Group string `yaml:"group" env:"RECLAIM_QUEUE_GROUP"`

	KafkaBrokers []string `yaml:"kafkaBrokers" env:"RECLAIM_KAFKA_BROKERS"`

	RedisAddr     string `yaml:"redisAddr" env:"RECLAIM_REDIS_ADDR"`
	RedisPassword string `yaml:"redisPassword" env:"RECLAIM_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redisDb" env:"RECLAIM_REDIS_DB"`

	// ClaimIdle is how long a Redis entry may sit unacknowledged in
	// another consumer's pending list before this consumer claims it.
	// Zero disables claiming.
	ClaimIdle time.Duration `yaml:"claimIdle" env:"RECLAIM_QUEUE_CLAIM_IDLE"`

	DialTimeout time.Duration `yaml:"dialTimeout" env:"RECLAIM_QUEUE_DIAL_TIMEOUT"`

	// ConnectAttempts caps connection attempts at startup. Zero retries
	// until shutdown.
	ConnectAttempts int `yaml:"connectAttempts" env:"RECLAIM_QUEUE_CONNECT_ATTEMPTS"`
}

// SchedulerConfig configures the scheduler daemon.
type SchedulerConfig struct {
	Interval       time.Duration `yaml:"interval" env:"RECLAIM_SCHEDULER_INTERVAL"`
	MaxKeys        int           `yaml:"maxKeys" env:"RECLAIM_SCHEDULER_MAX_KEYS"`
	LeakDelay      time.Duration `yaml:"leakDelay" env:"RECLAIM_LEAK_DELAY"`
	QueueThreshold int64         `yaml:"queueThreshold" env:"RECLAIM_QUEUE_THRESHOLD"`
	Daemon         bool          `yaml:"daemon" env:"RECLAIM_SCHEDULER_DAEMON"`
}

// ConsumerConfig configures the consumer daemon.
type ConsumerConfig struct {
	// Source is "queue" or "index".
	Source           string        `yaml:"source" env:"RECLAIM_CONSUMER_SOURCE"`
	Daemon           bool          `yaml:"daemon" env:"RECLAIM_CONSUMER_DAEMON"`
	RetryInterval    time.Duration `yaml:"retryInterval" env:"RECLAIM_CONSUMER_RETRY_INTERVAL"`
	MaxRetryInterval time.Duration `yaml:"maxRetryInterval" env:"RECLAIM_CONSUMER_MAX_RETRY_INTERVAL"`
	ReceiveTimeout   time.Duration `yaml:"receiveTimeout" env:"RECLAIM_CONSUMER_RECEIVE_TIMEOUT"`
	ProcessTimeout   time.Duration `yaml:"processTimeout" env:"RECLAIM_CONSUMER_PROCESS_TIMEOUT"`

	// MinAge re-checks candidate age before acting. Zero disables it.
	MinAge time.Duration `yaml:"minAge" env:"RECLAIM_CONSUMER_MIN_AGE"`
}

// ReconcileConfig names the replica pair merged by "reclaimd reconcile".
type ReconcileConfig struct {
	PrimaryIndexID     string `yaml:"primaryIndexId" env:"RECLAIM_RECONCILE_PRIMARY"`
	ReplicaIndexID     string `yaml:"replicaIndexId" env:"RECLAIM_RECONCILE_REPLICA"`
	DestinationIndexID string `yaml:"destinationIndexId" env:"RECLAIM_RECONCILE_DESTINATION"`
	SnapshotPath       string `yaml:"snapshotPath" env:"RECLAIM_RECONCILE_SNAPSHOT"`
	SnapshotFormat     string `yaml:"snapshotFormat" env:"RECLAIM_RECONCILE_SNAPSHOT_FORMAT"`
}

// ObservabilityConfig configures logging, metrics and health endpoints.
type ObservabilityConfig struct {
	// HealthAddr serves /healthz and /readyz. Empty disables the server.
	HealthAddr string `yaml:"healthAddr" env:"RECLAIM_HEALTH_ADDR"`

	// MetricsAddr serves /metrics. When empty or equal to HealthAddr the
	// metrics are mounted on the health server.
	MetricsAddr string `yaml:"metricsAddr" env:"RECLAIM_METRICS_ADDR"`

	Pprof     bool   `yaml:"pprof" env:"RECLAIM_PPROF"`
	LogLevel  string `yaml:"logLevel" env:"RECLAIM_LOG_LEVEL"`
	LogFormat string `yaml:"logFormat" env:"RECLAIM_LOG_FORMAT"`

	// BacklogInterval is how often the probable-delete backlog gauges are
	// refreshed. Zero disables the scan.
	BacklogInterval time.Duration `yaml:"backlogInterval" env:"RECLAIM_BACKLOG_INTERVAL"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Backend:               BackendHTTP,
			Endpoint:              "http://127.0.0.1:28049",
			Region:                "us-east-1",
			Timeout:               30 * time.Second,
			OxiaEndpoint:          "localhost:6648",
			OxiaNamespace:         "reclaim",
			ProbableDeleteIndexID: "probable-delete",
			GlobalInstanceIndexID: "global-instances",
			PageSize:              1000,
		},
		ObjectStore: ObjectStoreConfig{
			Backend:  BackendHTTP,
			Endpoint: "http://127.0.0.1:28049",
			Region:   "us-east-1",
			Timeout:  30 * time.Second,
		},
		Queue: QueueConfig{
			Backend:      BackendKafka,
			Topic:        "reclaim-candidates",
			Group:        "reclaim-consumers",
			KafkaBrokers: []string{"localhost:9092"},
			RedisAddr:    "localhost:6379",
			ClaimIdle:    10 * time.Minute,
			DialTimeout:  10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:  5 * time.Minute,
			MaxKeys:   1000,
			LeakDelay: 15 * time.Minute,
			Daemon:    true,
		},
		Consumer: ConsumerConfig{
			Source:           SourceQueue,
			Daemon:           true,
			RetryInterval:    5 * time.Second,
			MaxRetryInterval: time.Minute,
			ReceiveTimeout:   5 * time.Second,
			ProcessTimeout:   5 * time.Minute,
		},
		Reconcile: ReconcileConfig{
			SnapshotFormat: "jsonl",
		},
		Observability: ObservabilityConfig{
			HealthAddr:      ":9090",
			LogLevel:        "info",
			LogFormat:       "json",
			BacklogInterval: time.Minute,
		},
	}
}

// Load reads the file named by RECLAIM_CONFIG, or starts from Default when
// it is unset, then applies environment overrides and validates.
func Load() (*Config, error) {
	cfg, err := LoadNoValidate()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadNoValidate is Load without validation.
func LoadNoValidate() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFromPathNoValidate(path)
	}
	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads path over Default, applies environment overrides and
// validates.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := LoadFromPathNoValidate(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPathNoValidate is LoadFromPath without validation.
func LoadFromPathNoValidate(path string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over Default. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

func loadEnvFile() error {
	path := os.Getenv(EnvFile)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}
