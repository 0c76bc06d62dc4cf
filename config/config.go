package config

import (
	// Go Internal Packages
	"strings"
	"time"

	// Local Packages
	errors "tx-tracker/errors"

	// External Packages
	"github.com/knadh/koanf/providers/env"
)

var DefaultConfig = []byte(`
application: "tx-tracker"

logger:
  level: "debug"

is_prod_mode: false

http:
  listen: ":8080"
  write_timeout: "10s"

store:
  driver: "mongo"

mongo:
  uri: "mongodb://localhost:27017"
  database: "txtracker"

postgres:
  dsn: ""

redis:
  uri: "localhost:6379"
  password: ""
  notifications_list: "tx-notifications"

ledger:
  rpc_url: "http://localhost:8000/soroban/rpc"
  timeout: "15s"

kafka:
  brokers:
    - "localhost:9092"
  consume: true
  topic: "ledger-closed"
  records_per_poll: 500
  consumer_name: "tx-tracker-feed"
  idle_timeout: "30s"

feed:
  initial_delay: "1s"
  max_delay: "30s"

poll:
  interval: "2s"
  max_attempts: 30
  after_submit: true

sweep:
  interval: "1m"
  concurrency: 8
  not_found_after: "24h"

purge:
  interval: "1h"
  retention: "720h"

notify:
  retry_interval: "5s"
`)

type Config struct {
	Application string   `koanf:"application"`
	Logger      Logger   `koanf:"logger"`
	IsProdMode  bool     `koanf:"is_prod_mode"`
	HTTP        HTTP     `koanf:"http"`
	Store       Store    `koanf:"store"`
	Mongo       Mongo    `koanf:"mongo"`
	Postgres    Postgres `koanf:"postgres"`
	Redis       Redis    `koanf:"redis"`
	Ledger      Ledger   `koanf:"ledger"`
	Kafka       Kafka    `koanf:"kafka"`
	Feed        Feed     `koanf:"feed"`
	Poll        Poll     `koanf:"poll"`
	Sweep       Sweep    `koanf:"sweep"`
	Purge       Purge    `koanf:"purge"`
	Notify      Notify   `koanf:"notify"`
}

type Logger struct {
	Level string `koanf:"level"`
}

type HTTP struct {
	Listen       string        `koanf:"listen"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type Store struct {
	Driver string `koanf:"driver"`
}

type Mongo struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

type Postgres struct {
	DSN string `koanf:"dsn"`
}

type Redis struct {
	URI               string `koanf:"uri"`
	Password          string `koanf:"password"`
	NotificationsList string `koanf:"notifications_list"`
}

type Ledger struct {
	RPCURL  string        `koanf:"rpc_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type Kafka struct {
	Brokers        []string      `koanf:"brokers"`
	Consume        bool          `koanf:"consume"`
	Topic          string        `koanf:"topic"`
	RecordsPerPoll int           `koanf:"records_per_poll"`
	ConsumerName   string        `koanf:"consumer_name"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
}

type Feed struct {
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
}

type Poll struct {
	Interval    time.Duration `koanf:"interval"`
	MaxAttempts int           `koanf:"max_attempts"`
	AfterSubmit bool          `koanf:"after_submit"`
}

// Sweep.NotFoundAfter is a heuristic: a transaction missing from the ledger for this
// long is marked failed even though absence is not proof it will never land.
type Sweep struct {
	Interval      time.Duration `koanf:"interval"`
	Concurrency   int           `koanf:"concurrency"`
	NotFoundAfter time.Duration `koanf:"not_found_after"`
}

type Purge struct {
	Interval  time.Duration `koanf:"interval"`
	Retention time.Duration `koanf:"retention"`
}

// Notify.RetryInterval is how often undelivered notifications are retried.
type Notify struct {
	RetryInterval time.Duration `koanf:"retry_interval"`
}

// envKeys maps the environment variables carrying secrets and endpoints to their
// config keys.
var envKeys = map[string]string{
	"MONGO_URI":      "mongo.uri",
	"POSTGRES_DSN":   "postgres.dsn",
	"REDIS_URI":      "redis.uri",
	"REDIS_PASSWORD": "redis.password",
	"KAFKA_BROKERS":  "kafka.brokers",
	"LEDGER_RPC_URL": "ledger.rpc_url",
	"IS_PROD_MODE":   "is_prod_mode",
}

// EnvProvider overrides connection settings from the environment. Empty and
// unknown variables are ignored; KAFKA_BROKERS is a comma separated list.
func EnvProvider() *env.Env {
	return env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		path, ok := envKeys[key]
		if !ok || value == "" {
			return "", nil
		}
		if key == "KAFKA_BROKERS" {
			return path, strings.Split(value, ",")
		}
		return path, value
	})
}

// Validate validates the configuration
func (c *Config) Validate() error {
	ve := errors.ValidationErrs()

	if c.Application == "" {
		ve.Add("application", "cannot be empty")
	}
	if c.Logger.Level == "" {
		ve.Add("logger.level", "cannot be empty")
	}
	if c.HTTP.Listen == "" {
		ve.Add("http.listen", "cannot be empty")
	}

	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			ve.Add("mongo.uri", "cannot be empty")
		}
		if c.Mongo.Database == "" {
			ve.Add("mongo.database", "cannot be empty")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			ve.Add("postgres.dsn", "cannot be empty")
		}
	case "memory":
		if c.IsProdMode {
			ve.Add("store.driver", "memory is not durable and cannot run in prod mode")
		}
	default:
		ve.Add("store.driver", "must be one of mongo, postgres, memory")
	}

	if c.Redis.URI == "" {
		ve.Add("redis.uri", "cannot be empty")
	}
	if c.Ledger.RPCURL == "" {
		ve.Add("ledger.rpc_url", "cannot be empty")
	}
	if c.Kafka.Consume {
		if len(c.Kafka.Brokers) == 0 {
			ve.Add("kafka.brokers", "cannot be empty")
		}
		if c.Kafka.Topic == "" {
			ve.Add("kafka.topic", "cannot be empty")
		}
	}
	if c.Feed.InitialDelay <= 0 {
		ve.Add("feed.initial_delay", "must be positive")
	}
	if c.Feed.MaxDelay < c.Feed.InitialDelay {
		ve.Add("feed.max_delay", "must be >= feed.initial_delay")
	}
	if c.Poll.Interval <= 0 {
		ve.Add("poll.interval", "must be positive")
	}
	if c.Poll.MaxAttempts < 1 {
		ve.Add("poll.max_attempts", "must be >= 1")
	}
	if c.Sweep.Interval <= 0 {
		ve.Add("sweep.interval", "must be positive")
	}
	if c.Sweep.Concurrency < 1 {
		ve.Add("sweep.concurrency", "must be >= 1")
	}
	if c.Sweep.NotFoundAfter <= 0 {
		ve.Add("sweep.not_found_after", "must be positive")
	}
	if c.Purge.Interval <= 0 {
		ve.Add("purge.interval", "must be positive")
	}
	if c.Purge.Retention < 0 {
		ve.Add("purge.retention", "cannot be negative")
	}
	if c.Notify.RetryInterval <= 0 {
		ve.Add("notify.retry_interval", "must be positive")
	}

	return ve.Err()
}
