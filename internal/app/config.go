package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/shop/internal/telemetry"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// EnvPrefix — префикс переменных окружения конфигурации.
const EnvPrefix = "SHOP"

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	MetricsAddr    string
	RequestTimeout time.Duration

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// Пустой RedisAddr отключает кэш каталога.
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ProductCacheTTL time.Duration

	// KafkaBrokers — список через запятую; пустой отключает публикацию outbox.
	KafkaBrokers  string
	KafkaClientID string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// RetryMaxAttempts — попытки операций движка при конфликте версий.
	RetryMaxAttempts int

	TraceExporter string
	TraceEndpoint string
	TraceInsecure bool
	Environment   string

	LogLevel string

	// Если задан BootstrapAdminEmail, при старте создаётся администратор.
	BootstrapAdminName  string
	BootstrapAdminEmail string
}

// DefaultConfig возвращает базовые настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":50051",
		MetricsAddr:    ":9090",
		RequestTimeout: 15 * time.Second,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		ProductCacheTTL: time.Minute,

		KafkaClientID: "shop-service",
		KafkaTopic:    "shop.order.events",
		KafkaDLQTopic: "shop.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		RetryMaxAttempts: 3,

		TraceExporter: telemetry.ExporterNone,
		Environment:   "local",

		LogLevel: "info",

		BootstrapAdminName: "Administrator",
	}
}

// LoadConfig читает настройки из переменных окружения SHOP_* и, если задан, из файла.
// Переменные окружения имеют приоритет над файлом.
func LoadConfig(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		HTTPAddr:       v.GetString("http_addr"),
		GRPCAddr:       v.GetString("grpc_addr"),
		MetricsAddr:    v.GetString("metrics_addr"),
		RequestTimeout: v.GetDuration("request_timeout"),

		StorageDriver:       strings.ToLower(strings.TrimSpace(v.GetString("storage_driver"))),
		PostgresDSN:         v.GetString("postgres_dsn"),
		PostgresAutoMigrate: v.GetBool("postgres_auto_migrate"),

		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		ProductCacheTTL: v.GetDuration("product_cache_ttl"),

		KafkaBrokers:  v.GetString("kafka_brokers"),
		KafkaClientID: v.GetString("kafka_client_id"),
		KafkaTopic:    v.GetString("kafka_topic"),
		KafkaDLQTopic: v.GetString("kafka_dlq_topic"),

		OutboxPollInterval: v.GetDuration("outbox_poll_interval"),
		OutboxBatchSize:    v.GetInt("outbox_batch_size"),
		OutboxMaxAttempts:  v.GetInt("outbox_max_attempts"),
		OutboxRetryDelay:   v.GetDuration("outbox_retry_delay"),

		IdempotencyTTL:              v.GetDuration("idempotency_ttl"),
		IdempotencyCleanupInterval:  v.GetDuration("idempotency_cleanup_interval"),
		IdempotencyCleanupBatchSize: v.GetInt("idempotency_cleanup_batch_size"),

		RetryMaxAttempts: v.GetInt("retry_max_attempts"),

		TraceExporter: v.GetString("trace_exporter"),
		TraceEndpoint: v.GetString("trace_endpoint"),
		TraceInsecure: v.GetBool("trace_insecure"),
		Environment:   v.GetString("environment"),

		LogLevel: v.GetString("log_level"),

		BootstrapAdminName:  v.GetString("bootstrap_admin_name"),
		BootstrapAdminEmail: v.GetString("bootstrap_admin_email"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	defaults := map[string]any{
		"http_addr":                      cfg.HTTPAddr,
		"grpc_addr":                      cfg.GRPCAddr,
		"metrics_addr":                   cfg.MetricsAddr,
		"request_timeout":                cfg.RequestTimeout,
		"storage_driver":                 cfg.StorageDriver,
		"postgres_dsn":                   cfg.PostgresDSN,
		"postgres_auto_migrate":          cfg.PostgresAutoMigrate,
		"redis_addr":                     cfg.RedisAddr,
		"redis_password":                 cfg.RedisPassword,
		"redis_db":                       cfg.RedisDB,
		"product_cache_ttl":              cfg.ProductCacheTTL,
		"kafka_brokers":                  cfg.KafkaBrokers,
		"kafka_client_id":                cfg.KafkaClientID,
		"kafka_topic":                    cfg.KafkaTopic,
		"kafka_dlq_topic":                cfg.KafkaDLQTopic,
		"outbox_poll_interval":           cfg.OutboxPollInterval,
		"outbox_batch_size":              cfg.OutboxBatchSize,
		"outbox_max_attempts":            cfg.OutboxMaxAttempts,
		"outbox_retry_delay":             cfg.OutboxRetryDelay,
		"idempotency_ttl":                cfg.IdempotencyTTL,
		"idempotency_cleanup_interval":   cfg.IdempotencyCleanupInterval,
		"idempotency_cleanup_batch_size": cfg.IdempotencyCleanupBatchSize,
		"retry_max_attempts":             cfg.RetryMaxAttempts,
		"trace_exporter":                 cfg.TraceExporter,
		"trace_endpoint":                 cfg.TraceEndpoint,
		"trace_insecure":                 cfg.TraceInsecure,
		"environment":                    cfg.Environment,
		"log_level":                      cfg.LogLevel,
		"bootstrap_admin_name":           cfg.BootstrapAdminName,
		"bootstrap_admin_email":          cfg.BootstrapAdminEmail,
	}
	// SetDefault нужен и для того, чтобы AutomaticEnv увидел ключ.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires postgres_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch strings.ToLower(strings.TrimSpace(c.TraceExporter)) {
	case "", telemetry.ExporterNone, telemetry.ExporterStdout:
	case telemetry.ExporterOTLP:
		if strings.TrimSpace(c.TraceEndpoint) == "" {
			errs = append(errs, errors.New("otlp trace exporter requires trace_endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown trace exporter %q", c.TraceExporter))
	}

	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox_batch_size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox_max_attempts must be positive"))
	}
	if c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency_cleanup_batch_size must be positive"))
	}

	return errors.Join(errs...)
}

// KafkaBrokerList разбирает KafkaBrokers.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
