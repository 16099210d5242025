// Package cli собирает служебную утилиту shopctl на cobra: миграции схемы, seed каталога,
// создание пользователей и повтор событий из DLQ.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
	"github.com/vladislavdragonenkov/shop/internal/storage/rediscache"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

const envPrefix = "SHOP"

var (
	errDSNRequired     = errors.New("postgres dsn is required: pass --dsn or set SHOP_POSTGRES_DSN")
	errBrokersRequired = errors.New("kafka brokers are required: pass --brokers or set SHOP_KAFKA_BROKERS")
)

// Backend — хранилища, с которыми работают seed и users.
type Backend struct {
	Products domain.ProductRepository
	Users    domain.UserRepository
	Close    func() error
}

// Migrator — операции над схемой БД.
type Migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationStatus, error)
	Close() error
}

// Replayer повторно публикует события из DLQ.
type Replayer interface {
	Replay(ctx context.Context, opts kafka.ReplayOptions) (kafka.ReplayStats, error)
}

// Settings — параметры подключения, собранные из флагов, окружения и config-файла.
type Settings struct {
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KafkaBrokers  []string
	KafkaClientID string
	KafkaTopic    string
	KafkaDLQTopic string
}

// Option настраивает shopctl.
type Option func(*runtime)

// WithOutput перенаправляет вывод команд.
func WithOutput(w io.Writer) Option {
	return func(r *runtime) { r.out = w }
}

// WithBackend подменяет открытие хранилищ.
func WithBackend(open func(ctx context.Context, s Settings) (Backend, error)) Option {
	return func(r *runtime) { r.openBackend = open }
}

// WithMigrator подменяет открытие мигратора.
func WithMigrator(open func(ctx context.Context, dsn string) (Migrator, error)) Option {
	return func(r *runtime) { r.openMigrator = open }
}

// WithReplayer подменяет подключение к Kafka для dlq replay.
func WithReplayer(open func(s Settings, logger *log.Entry) (Replayer, func() error, error)) Option {
	return func(r *runtime) { r.openReplayer = open }
}

type runtime struct {
	v      *viper.Viper
	out    io.Writer
	logger *log.Logger

	openBackend  func(ctx context.Context, s Settings) (Backend, error)
	openMigrator func(ctx context.Context, dsn string) (Migrator, error)
	openReplayer func(s Settings, logger *log.Entry) (Replayer, func() error, error)
}

// NewRootCommand создаёт корневую команду shopctl.
func NewRootCommand(opts ...Option) *cobra.Command {
	rt := &runtime{
		v:            viper.New(),
		out:          os.Stdout,
		logger:       log.New(),
		openBackend:  openPostgresBackend,
		openMigrator: openPostgresMigrator,
		openReplayer: dialKafkaReplayer,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger.SetOutput(os.Stderr)
	rt.logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:           "shopctl",
		Short:         "Maintenance tool for the shop service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.GetVersion(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.init()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (yaml/json/toml)")
	flags.String("dsn", "", "postgres DSN")
	flags.String("redis-addr", "", "redis address; product cache is invalidated on writes when set")
	flags.String("brokers", "", "comma-separated kafka brokers")
	flags.String("log-level", "info", "log level")

	rt.v.SetEnvPrefix(envPrefix)
	rt.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	rt.v.AutomaticEnv()
	_ = rt.v.BindPFlag("config", flags.Lookup("config"))
	_ = rt.v.BindPFlag("postgres_dsn", flags.Lookup("dsn"))
	_ = rt.v.BindPFlag("redis_addr", flags.Lookup("redis-addr"))
	_ = rt.v.BindPFlag("kafka_brokers", flags.Lookup("brokers"))
	_ = rt.v.BindPFlag("log_level", flags.Lookup("log-level"))
	rt.v.SetDefault("kafka_client_id", "shopctl")
	rt.v.SetDefault("kafka_topic", kafka.TopicOrderEvents)
	rt.v.SetDefault("kafka_dlq_topic", kafka.TopicDeadLetterQueue)

	root.AddCommand(
		newMigrateCommand(rt),
		newSeedCommand(rt),
		newUsersCommand(rt),
		newDLQCommand(rt),
	)
	return root
}

// Execute запускает shopctl с аргументами процесса.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (rt *runtime) init() error {
	if path := rt.v.GetString("config"); path != "" {
		rt.v.SetConfigFile(path)
		if err := rt.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	level, err := log.ParseLevel(rt.v.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	rt.logger.SetLevel(level)
	return nil
}

func (rt *runtime) settings() Settings {
	return Settings{
		PostgresDSN:   strings.TrimSpace(rt.v.GetString("postgres_dsn")),
		RedisAddr:     strings.TrimSpace(rt.v.GetString("redis_addr")),
		RedisPassword: rt.v.GetString("redis_password"),
		RedisDB:       rt.v.GetInt("redis_db"),
		KafkaBrokers:  splitList(rt.v.GetString("kafka_brokers")),
		KafkaClientID: rt.v.GetString("kafka_client_id"),
		KafkaTopic:    rt.v.GetString("kafka_topic"),
		KafkaDLQTopic: rt.v.GetString("kafka_dlq_topic"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (rt *runtime) entry(command string) *log.Entry {
	return rt.logger.WithField("command", command)
}

func openPostgresMigrator(ctx context.Context, dsn string) (Migrator, error) {
	if dsn == "" {
		return nil, errDSNRequired
	}
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func dialKafkaReplayer(s Settings, logger *log.Entry) (Replayer, func() error, error) {
	if len(s.KafkaBrokers) == 0 {
		return nil, nil, errBrokersRequired
	}
	replayer, closeFn, err := kafka.DialReplayer(s.KafkaBrokers, s.KafkaClientID, s.KafkaTopic, logger)
	if err != nil {
		return nil, nil, err
	}
	return replayer, closeFn, nil
}

// openPostgresBackend открывает PostgreSQL и, если задан redis, оборачивает каталог кэшем,
// чтобы записи из CLI сбрасывали закэшированные карточки.
func openPostgresBackend(ctx context.Context, s Settings) (Backend, error) {
	if s.PostgresDSN == "" {
		return Backend{}, errDSNRequired
	}
	store, err := postgres.Open(ctx, s.PostgresDSN)
	if err != nil {
		return Backend{}, err
	}

	backend := Backend{
		Products: postgres.NewProductRepository(store),
		Users:    postgres.NewUserRepository(store),
		Close:    store.Close,
	}
	if s.RedisAddr != "" {
		client := rediscache.NewClient(s.RedisAddr, s.RedisPassword, s.RedisDB)
		backend.Products = rediscache.New(backend.Products, client)
		backend.Close = func() error {
			return errors.Join(client.Close(), store.Close())
		}
	}
	return backend, nil
}
