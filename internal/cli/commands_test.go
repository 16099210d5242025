package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
)

type fakeMigrator struct {
	upSteps   []int
	downSteps []int
	closed    bool
	err       error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.upSteps = append(f.upSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.downSteps = append(f.downSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationStatus, error) {
	applied := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return postgres.MigrationStatus{
		Version: 1,
		Applied: 1,
		Pending: 1,
		Migrations: []postgres.MigrationState{
			{Version: 1, Name: "init", AppliedAt: &applied},
			{Version: 2, Name: "timeline"},
		},
	}, nil
}

func (f *fakeMigrator) Close() error {
	f.closed = true
	return nil
}

type fakeReplayer struct {
	opts  kafka.ReplayOptions
	stats kafka.ReplayStats
}

func (f *fakeReplayer) Replay(_ context.Context, opts kafka.ReplayOptions) (kafka.ReplayStats, error) {
	f.opts = opts
	return f.stats, nil
}

type harness struct {
	products domain.ProductRepository
	users    domain.UserRepository
	migrator *fakeMigrator
	replayer *fakeReplayer
	closed   bool
	dsn      string
	settings Settings
}

func newHarness() *harness {
	return &harness{
		products: memory.NewProductRepository(),
		users:    memory.NewUserRepository(),
		migrator: &fakeMigrator{},
		replayer: &fakeReplayer{stats: kafka.ReplayStats{Processed: 3, Replayed: 2, Skipped: 1}},
	}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(
		WithOutput(&out),
		WithBackend(func(_ context.Context, s Settings) (Backend, error) {
			h.settings = s
			return Backend{Products: h.products, Users: h.users}, nil
		}),
		WithMigrator(func(_ context.Context, dsn string) (Migrator, error) {
			h.dsn = dsn
			if dsn == "" {
				return nil, errDSNRequired
			}
			return h.migrator, nil
		}),
		WithReplayer(func(s Settings, _ *log.Entry) (Replayer, func() error, error) {
			h.settings = s
			if len(s.KafkaBrokers) == 0 {
				return nil, nil, errBrokersRequired
			}
			return h.replayer, func() error { h.closed = true; return nil }, nil
		}),
	)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateUpAndStatus(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "migrate", "up", "--dsn", "postgres://test")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, h.migrator.upSteps)
	assert.True(t, h.migrator.closed)
	assert.Equal(t, "postgres://test", h.dsn)
	assert.Contains(t, out, "version: 1 applied: 1 pending: 1")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "pending")
}

func TestMigrateDownUsesSteps(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "migrate", "down", "--steps", "2", "--dsn", "postgres://test")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, h.migrator.downSteps)

	_, err = h.run(t, "migrate", "down", "--steps", "0", "--dsn", "postgres://test")
	require.Error(t, err)
}

func TestMigrateReadsDSNFromEnv(t *testing.T) {
	t.Setenv("SHOP_POSTGRES_DSN", "postgres://from-env")
	h := newHarness()

	_, err := h.run(t, "migrate", "status")
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-env", h.dsn)
}

func TestMigrateReadsDSNFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("postgres_dsn: postgres://from-file\n"), 0o600))
	h := newHarness()

	_, err := h.run(t, "--config", path, "migrate", "status")
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-file", h.dsn)
}

func TestMigrateRequiresDSN(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "migrate", "status")
	require.ErrorIs(t, err, errDSNRequired)
}

func TestMigrateErrorIsReturned(t *testing.T) {
	h := newHarness()
	h.migrator.err = errors.New("lock timeout")

	_, err := h.run(t, "migrate", "up", "--dsn", "postgres://test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
	assert.True(t, h.migrator.closed)
}

func TestSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
products:
  - name: Honey
    price_minor: 500
    stock: 3
users:
  - name: Ops
    email: ops@shop.test
    role: admin
`), 0o600))
	h := newHarness()

	out, err := h.run(t, "seed", "--file", path, "--redis-addr", "localhost:6379")
	require.NoError(t, err)
	assert.Contains(t, out, "products: 1 created, 0 skipped")
	assert.Contains(t, out, "users: 1 created, 0 skipped")
	assert.Equal(t, "localhost:6379", h.settings.RedisAddr)

	out, err = h.run(t, "seed", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "products: 0 created, 1 skipped")

	products, err := h.products.List(context.Background(), domain.ProductFilter{IncludeHidden: true})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, int64(500), products[0].PriceMinor)
}

func TestSeedRequiresFile(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "seed")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "file"))
}

func TestUsersCreate(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "users", "create", "--name", "Root", "--email", "Root@Shop.test", "--role", "admin")
	require.NoError(t, err)

	var created userOutput
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "root@shop.test", created.Email)
	assert.Equal(t, "admin", created.Role)

	_, err = h.run(t, "users", "create", "--name", "Again", "--email", "root@shop.test")
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	_, err = h.run(t, "users", "create", "--name", "Bad", "--email", "bad@shop.test", "--role", "owner")
	require.ErrorIs(t, err, domain.ErrRoleInvalid)
}

func TestInvalidLogLevel(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "--log-level", "loud", "migrate", "status", "--dsn", "postgres://test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestDLQReplayDryRunByDefault(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "dlq", "replay", "--brokers", "k1:9092, k2:9092")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, h.settings.KafkaBrokers)
	assert.Equal(t, kafka.TopicOrderEvents, h.settings.KafkaTopic)
	assert.True(t, h.replayer.opts.DryRun)
	assert.Equal(t, kafka.TopicDeadLetterQueue, h.replayer.opts.SourceTopic)
	assert.Equal(t, 100, h.replayer.opts.Limit)
	assert.True(t, h.closed)
	assert.Contains(t, out, "mode: dry-run processed: 3 replayed: 2 skipped: 1")
}

func TestDLQReplayExecute(t *testing.T) {
	t.Setenv("SHOP_KAFKA_BROKERS", "k1:9092")
	h := newHarness()

	out, err := h.run(t, "dlq", "replay", "--execute", "--limit", "5", "--source", "custom.dlq", "--from-newest")
	require.NoError(t, err)
	assert.False(t, h.replayer.opts.DryRun)
	assert.True(t, h.replayer.opts.FromNewest)
	assert.Equal(t, "custom.dlq", h.replayer.opts.SourceTopic)
	assert.Equal(t, 5, h.replayer.opts.Limit)
	assert.Contains(t, out, "mode: execute")
}

func TestDLQReplayRequiresBrokers(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "dlq", "replay")
	require.ErrorIs(t, err, errBrokersRequired)
}
