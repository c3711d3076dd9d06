package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quantnex/quantnex/internal/config"
	"github.com/quantnex/quantnex/internal/domain/user"
	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/db"
	"github.com/quantnex/quantnex/internal/platform/validation"
	"github.com/quantnex/quantnex/internal/server"
	"github.com/quantnex/quantnex/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "quantnex-server",
		Short:         "QUANT-NEX clinical oncology API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(userCmd())
	return rootCmd
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env, os.Stdout)
			cfg.LogWarnings(logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to start server")
				return err
			}
			return srv.Run(ctx)
		},
	}
}

// withPool opens a pool for the postgres-only subcommands.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func tenantFlag(cmd *cobra.Command, cfg *config.Config) string {
	if tenant, _ := cmd.Flags().GetString("tenant"); tenant != "" {
		return tenant
	}
	return cfg.DefaultTenant
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				tenant := tenantFlag(cmd, cfg)
				if err := db.CreateTenantSchema(ctx, pool, tenant, nil); err != nil {
					return err
				}
				schema := db.SchemaName(tenant)
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				schema := db.SchemaName(tenantFlag(cmd, cfg))
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
				if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(createCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with an explicit role (e.g. the first admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := createUserRequest(cmd)
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg.Env, cmd.ErrOrStderr())
				svc := user.NewService(user.NewPGRepo(pool), logger)
				return db.WithTenant(ctx, pool, tenantFlag(cmd, cfg), func(ctx context.Context) error {
					u, err := svc.CreateWithRole(ctx, req)
					if err != nil {
						return describe(err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (id %d)\n", u.Role, u.Username, u.ID)
					return nil
				})
			})
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("password", "", "Initial password (min 8 characters)")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("role", "admin", "Role: admin, doctor or researcher")
	createCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(createCmd)
	return cmd
}

func createUserRequest(cmd *cobra.Command) (*user.CreateUserRequest, error) {
	flags := cmd.Flags()
	req := &user.CreateUserRequest{}
	req.Username, _ = flags.GetString("username")
	req.Email, _ = flags.GetString("email")
	req.Password, _ = flags.GetString("password")
	req.Name, _ = flags.GetString("name")
	req.Role, _ = flags.GetString("role")
	for _, f := range []struct{ flag, v string }{
		{"username", req.Username}, {"email", req.Email}, {"password", req.Password},
	} {
		if f.v == "" {
			return nil, fmt.Errorf("--%s is required", f.flag)
		}
	}
	if err := validation.New().Validate(req); err != nil {
		return nil, describe(err)
	}
	return req, nil
}

// describe flattens an AppError's field errors for terminal output.
func describe(err error) error {
	appErr := apperr.From(err)
	if appErr == nil || len(appErr.Fields) == 0 {
		return err
	}
	msg := appErr.Message
	for _, f := range appErr.Fields {
		msg += fmt.Sprintf("; %s %s", f.Field, f.Message)
	}
	return fmt.Errorf("%s", msg)
}
