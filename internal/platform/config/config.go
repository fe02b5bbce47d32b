package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	strutil "ticketrouting/pkg/platform/strings"
)

// Config is the full service configuration. Values come from defaults, an
// optional config file and TICKETS_* environment variables, in that order.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Authorizer AuthorizerConfig `mapstructure:"authorizer"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthorizerConfig controls the decision cache in front of identity resolution.
type AuthorizerConfig struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	CacheBackend   string        `mapstructure:"cache_backend"`
	CacheKeySecret string        `mapstructure:"cache_key_secret"`
	IdentityHeader string        `mapstructure:"identity_header"`
}

// RedisConfig is only consulted when the authorizer cache backend is redis.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RoutingConfig struct {
	ChannelCapacity int           `mapstructure:"channel_capacity"`
	OfferTimeout    time.Duration `mapstructure:"offer_timeout"`
}

// ConsumerConfig tunes every channel's batch consumer.
type ConsumerConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ItemTimeout       time.Duration `mapstructure:"item_timeout"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxReceiveCount   int           `mapstructure:"max_receive_count"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// KafkaConfig enables the analytics exporter when brokers are set.
type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	AnalyticsTopic string   `mapstructure:"analytics_topic"`
	ClientID       string   `mapstructure:"client_id"`
	Partitions     int32    `mapstructure:"partitions"`
}

// RabbitMQConfig switches channels to durable AMQP queues when URL is set.
type RabbitMQConfig struct {
	URL            string        `mapstructure:"url"`
	QueuePrefix    string        `mapstructure:"queue_prefix"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	// MaxBatchSize is the upper bound on items pulled per batch.
	MaxBatchSize = 10
)

// Load reads configuration. path may be empty to rely on env vars only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("tickets")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = strutil.SplitList(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("authorizer.cache_ttl", 5*time.Second)
	v.SetDefault("authorizer.cache_backend", CacheBackendMemory)
	v.SetDefault("authorizer.cache_key_secret", "")
	v.SetDefault("authorizer.identity_header", "Token")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("routing.channel_capacity", 1000)
	v.SetDefault("routing.offer_timeout", 2*time.Second)

	v.SetDefault("consumer.batch_size", MaxBatchSize)
	v.SetDefault("consumer.poll_interval", 500*time.Millisecond)
	v.SetDefault("consumer.item_timeout", 10*time.Second)
	v.SetDefault("consumer.visibility_timeout", 30*time.Second)
	v.SetDefault("consumer.max_receive_count", 5)
	v.SetDefault("consumer.concurrency", 4)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.analytics_topic", "ticket-analytics")
	v.SetDefault("kafka.client_id", "ticket-routing")
	v.SetDefault("kafka.partitions", 3)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.queue_prefix", "ticket-routing")
	v.SetDefault("rabbitmq.publish_timeout", 2*time.Second)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Authorizer.CacheTTL <= 0 {
		errs = append(errs, errors.New("authorizer.cache_ttl must be positive"))
	}
	switch c.Authorizer.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required when authorizer.cache_backend=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported authorizer.cache_backend %q", c.Authorizer.CacheBackend))
	}
	if c.Authorizer.IdentityHeader == "" {
		errs = append(errs, errors.New("authorizer.identity_header is required"))
	}
	if c.Routing.ChannelCapacity <= 0 {
		errs = append(errs, errors.New("routing.channel_capacity must be positive"))
	}
	if c.Routing.OfferTimeout <= 0 {
		errs = append(errs, errors.New("routing.offer_timeout must be positive"))
	}
	if c.RabbitMQ.URL != "" && c.RabbitMQ.PublishTimeout <= 0 {
		errs = append(errs, errors.New("rabbitmq.publish_timeout must be positive"))
	}
	if c.Consumer.BatchSize <= 0 || c.Consumer.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("consumer.batch_size must be between 1 and %d", MaxBatchSize))
	}
	if c.Consumer.ItemTimeout <= 0 {
		errs = append(errs, errors.New("consumer.item_timeout must be positive"))
	}
	if c.Consumer.VisibilityTimeout < c.Consumer.ItemTimeout {
		errs = append(errs, errors.New("consumer.visibility_timeout must be at least consumer.item_timeout"))
	}
	if c.Consumer.MaxReceiveCount <= 0 {
		errs = append(errs, errors.New("consumer.max_receive_count must be positive"))
	}
	if c.Consumer.Concurrency <= 0 {
		errs = append(errs, errors.New("consumer.concurrency must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AnalyticsTopic == "" {
		errs = append(errs, errors.New("kafka.analytics_topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}
