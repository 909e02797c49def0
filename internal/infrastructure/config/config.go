package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const configFileEnvName = "CATALOG_CONFIG_FILE"

// Process roles
const (
	RoleAPI    = "api"
	RoleWorker = "worker"
	RoleAll    = "all"
)

// Artifact store drivers
const (
	ArtifactsFilesystem = "filesystem"
	ArtifactsNATS       = "nats"
)

type Config struct {
	Role      string          `mapstructure:"role"`
	Server    ServerConfig    `mapstructure:"server"`
	OTLP      OTLPConfig      `mapstructure:"otlp"`
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type OTLPConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SlogLevel parses Level, falling back to info
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// PostgresConfig selects the record store; an empty URL keeps records in memory
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig selects the cache; an empty Addr keeps the cache in memory
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// KafkaConfig selects the job queue; no brokers means an in-process queue
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	ConsumerGroup     string   `mapstructure:"consumer_group"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
	MaxMessageBytes   int32    `mapstructure:"max_message_bytes"`
}

type ArtifactsConfig struct {
	Driver        string `mapstructure:"driver"`
	Root          string `mapstructure:"root"`
	NATSURL       string `mapstructure:"nats_url"`
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type CacheConfig struct {
	ListTTL   time.Duration `mapstructure:"list_ttl"`
	ShowTTL   time.Duration `mapstructure:"show_ttl"`
	RecordTTL time.Duration `mapstructure:"record_ttl"`
}

type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	Buffer         int           `mapstructure:"buffer"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Backoff        time.Duration `mapstructure:"backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// envBindings keeps the plain environment names working next to the
// CATALOG_ prefixed ones.
var envBindings = map[string][]string{
	"server.host":        {"SERVER_HOST"},
	"server.port":        {"SERVER_PORT"},
	"otlp.enabled":       {"OTEL_ENABLED"},
	"otlp.endpoint":      {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"otlp.service_name":  {"OTEL_SERVICE_NAME"},
	"otlp.environment":   {"OTEL_ENVIRONMENT"},
	"log.level":          {"LOG_LEVEL"},
	"postgres.url":       {"DATABASE_URL"},
	"redis.addr":         {"REDIS_ADDR"},
	"redis.password":     {"REDIS_PASSWORD"},
	"kafka.brokers":      {"KAFKA_BROKERS"},
	"artifacts.nats_url": {"NATS_URL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("role", RoleAll)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", int64(16<<20))

	v.SetDefault("otlp.enabled", true)
	v.SetDefault("otlp.endpoint", "localhost:4317")
	v.SetDefault("otlp.service_name", "catalog-media-api")
	v.SetDefault("otlp.environment", "development")

	v.SetDefault("log.level", "info")

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "catalog:")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "catalog.media.pending")
	v.SetDefault("kafka.consumer_group", "catalog-media-ingest")
	v.SetDefault("kafka.partitions", 6)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("kafka.max_message_bytes", 16<<20)

	v.SetDefault("artifacts.driver", ArtifactsFilesystem)
	v.SetDefault("artifacts.root", "./storage")
	v.SetDefault("artifacts.nats_url", "nats://localhost:4222")
	v.SetDefault("artifacts.bucket", "catalog-artifacts")
	v.SetDefault("artifacts.public_base_url", "http://localhost:8080/storage")

	v.SetDefault("cache.list_ttl", 600*time.Second)
	v.SetDefault("cache.show_ttl", 60*time.Second)
	v.SetDefault("cache.record_ttl", 10*time.Minute)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.buffer", 128)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.backoff", 200*time.Millisecond)
	v.SetDefault("worker.max_backoff", 5*time.Second)
	v.SetDefault("worker.process_timeout", 2*time.Minute)
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// CATALOG_* environment variables and command line flags, in increasing
// order of precedence.
func LoadConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("catalog-media-api", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	fs.String("role", RoleAll, "process role: api, worker or all")
	fs.String("port", "", "HTTP listen port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key, "CATALOG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.BindPFlag("role", fs.Lookup("role")); err != nil {
		return nil, err
	}
	if fs.Changed("port") {
		port, _ := fs.GetString("port")
		v.Set("server.port", port)
	}

	path := *configFile
	if env, ok := os.LookupEnv(configFileEnvName); ok && path == "" {
		path = env
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the process cannot start with
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{RoleAPI, RoleWorker, RoleAll}, c.Role) {
		errs = append(errs, fmt.Errorf("role: must be api, worker or all, got %q", c.Role))
	}
	if !slices.Contains([]string{ArtifactsFilesystem, ArtifactsNATS}, c.Artifacts.Driver) {
		errs = append(errs, fmt.Errorf("artifacts.driver: must be filesystem or nats, got %q", c.Artifacts.Driver))
	}
	if c.Role == RoleWorker && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: a standalone worker needs a broker"))
	}
	if c.Role == RoleAPI && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: a standalone api needs a broker to reach the workers"))
	}
	if c.Cache.ListTTL <= 0 || c.Cache.ShowTTL <= 0 || c.Cache.RecordTTL <= 0 {
		errs = append(errs, errors.New("cache: TTLs must be positive"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency: must be positive"))
	}

	return errors.Join(errs...)
}

// Addr returns the HTTP listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
