package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/seed"
	"github.com/vladislavdragonenkov/shop/internal/service/accounts"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
)

func newMigrateCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	var upSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if upSteps < 0 {
				return errors.New("--steps must be non-negative")
			}
			return rt.withMigrator(cmd, func(m Migrator) error {
				if err := m.MigrateUp(cmd.Context(), upSteps); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				rt.entry("migrate up").WithField("steps", upSteps).Info("migrations applied")
				return printStatus(cmd, rt, m)
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply, 0 applies all")

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if downSteps <= 0 {
				return errors.New("--steps must be positive")
			}
			return rt.withMigrator(cmd, func(m Migrator) error {
				if err := m.MigrateDown(cmd.Context(), downSteps); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				rt.entry("migrate down").WithField("steps", downSteps).Info("migrations rolled back")
				return printStatus(cmd, rt, m)
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withMigrator(cmd, func(m Migrator) error {
				return printStatus(cmd, rt, m)
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func (rt *runtime) withMigrator(cmd *cobra.Command, fn func(Migrator) error) error {
	m, err := rt.openMigrator(cmd.Context(), rt.settings().PostgresDSN)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			rt.logger.WithError(cerr).Warn("close migrator failed")
		}
	}()
	return fn(m)
}

func printStatus(cmd *cobra.Command, rt *runtime, m Migrator) error {
	status, err := m.MigrationStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}

	fmt.Fprintf(rt.out, "version: %d applied: %d pending: %d\n", status.Version, status.Applied, status.Pending)
	tw := tabwriter.NewWriter(rt.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
	for _, state := range status.Migrations {
		applied := "pending"
		if state.AppliedAt != nil {
			applied = state.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", state.Version, state.Name, applied)
	}
	return tw.Flush()
}

func newSeedCommand(rt *runtime) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load products and users from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := seed.LoadFile(file)
			if err != nil {
				return err
			}
			return rt.withBackend(cmd, func(b Backend) error {
				logger := rt.entry("seed")
				res, err := seed.Apply(cmd.Context(),
					catalog.NewService(b.Products, logger),
					accounts.NewService(b.Users, logger),
					data, logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(rt.out, "products: %d created, %d skipped\nusers: %d created, %d skipped\n",
					res.ProductsCreated, res.ProductsSkipped, res.UsersCreated, res.UsersSkipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type userOutput struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func newUsersCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	var name, email, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user; admins can only be created here or by another admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withBackend(cmd, func(b Backend) error {
				logger := rt.entry("users create")
				svc := accounts.NewService(b.Users, logger)
				user, err := svc.Register(cmd.Context(), domain.SystemCaller(), accounts.RegisterInput{
					Name:  name,
					Email: email,
					Role:  role,
				})
				if err != nil {
					return err
				}
				logger.WithFields(log.Fields{"user_id": user.ID, "role": user.Role}).Info("user created")

				out, err := json.MarshalIndent(userOutput{
					ID:    user.ID,
					Name:  user.Name,
					Email: user.Email,
					Role:  string(user.Role),
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(rt.out, string(out))
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "email")
	create.Flags().StringVar(&role, "role", string(domain.RoleClient), "role: admin|client")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}

func (rt *runtime) withBackend(cmd *cobra.Command, fn func(Backend) error) error {
	b, err := rt.openBackend(cmd.Context(), rt.settings())
	if err != nil {
		return err
	}
	defer func() {
		if b.Close == nil {
			return
		}
		if cerr := b.Close(); cerr != nil {
			rt.logger.WithError(cerr).Warn("close storage failed")
		}
	}()
	return fn(b)
}

func newDLQCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered order events",
	}

	var (
		source      string
		limit       int
		idleTimeout time.Duration
		fromNewest  bool
		execute     bool
	)
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Republish dead-lettered events to the order events topic (dry-run unless --execute)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			s := rt.settings()
			if source == "" {
				source = s.KafkaDLQTopic
			}

			logger := rt.entry("dlq replay")
			replayer, closeFn, err := rt.openReplayer(s, logger)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer func() {
					if cerr := closeFn(); cerr != nil {
						logger.WithError(cerr).Warn("close kafka connections failed")
					}
				}()
			}

			stats, err := replayer.Replay(cmd.Context(), kafka.ReplayOptions{
				SourceTopic: source,
				Limit:       limit,
				IdleTimeout: idleTimeout,
				FromNewest:  fromNewest,
				DryRun:      !execute,
			})
			mode := "dry-run"
			if execute {
				mode = "execute"
			}
			fmt.Fprintf(rt.out, "mode: %s processed: %d replayed: %d skipped: %d\n",
				mode, stats.Processed, stats.Replayed, stats.Skipped)
			return err
		},
	}
	replay.Flags().StringVar(&source, "source", "", "DLQ topic (default kafka_dlq_topic)")
	replay.Flags().IntVar(&limit, "limit", 100, "maximum number of messages to scan")
	replay.Flags().DurationVar(&idleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this long without messages")
	replay.Flags().BoolVar(&fromNewest, "from-newest", false, "scan the most recent messages first")
	replay.Flags().BoolVar(&execute, "execute", false, "publish events; without it only candidates are logged")

	cmd.AddCommand(replay)
	return cmd
}
