package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/postgres"
	"github.com/pscheid92/commhub/internal/adapter/redis"
	"github.com/pscheid92/commhub/internal/bootstrap"
	"github.com/pscheid92/commhub/internal/platform/config"
	"github.com/pscheid92/commhub/internal/platform/correlation"
	"github.com/pscheid92/commhub/internal/platform/logging"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const connectTimeout = 30 * time.Second

type rootOptions struct {
	timeout time.Duration
	logJSON bool
}

// environment is the connected runtime shared by the subcommands.
type environment struct {
	cfg     *config.Config
	metrics *bootstrap.Metrics
	pool    *pgxpool.Pool
	redis   *goredis.Client
}

func (e *environment) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// connector opens the runtime; replaced in tests.
type connector func(ctx context.Context, withRedis bool) (*environment, error)

func NewRootCommand() *cobra.Command {
	return newRootCommand(connect)
}

func newRootCommand(open connector) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "commhubctl",
		Short:        "Operate the communication hub",
		Long:         "Run database migrations and trigger background runs once, outside the scheduler.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "maximum duration of the command")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "log as JSON instead of text")

	cmd.AddCommand(newMigrateCommand(opts, open))
	cmd.AddCommand(newTaskCommand(opts, open, "process-scheduled", "Send due scheduled Instagram messages and queue auto-reminders",
		func(ctx context.Context, svc *bootstrap.Services) (any, error) { return svc.Scheduled.Run(ctx) }))
	cmd.AddCommand(newTaskCommand(opts, open, "process-jobs", "Claim and run pending background jobs",
		func(ctx context.Context, svc *bootstrap.Services) (any, error) { return svc.Jobs.Run(ctx) }))
	cmd.AddCommand(newTaskCommand(opts, open, "refresh-tokens", "Refresh provider tokens that expire soon",
		func(ctx context.Context, svc *bootstrap.Services) (any, error) {
			return svc.Tokens.RefreshExpiring(ctx)
		}))
	cmd.AddCommand(newTaskCommand(opts, open, "gmail-sync", "Sync every connected Gmail inbox",
		func(ctx context.Context, svc *bootstrap.Services) (any, error) { return svc.Gmail.SyncAll(ctx) }))

	return cmd
}

func (o *rootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	format := "text"
	if o.logJSON {
		format = "json"
	}
	logging.InitLogger("info", format)

	ctx := correlation.WithID(cmd.Context(), correlation.NewID())
	return context.WithTimeout(ctx, o.timeout)
}

func newMigrateCommand(opts *rootOptions, open connector) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			env, err := open(ctx, false)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := postgres.RunMigrationsWithLock(ctx, env.pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		},
	}
}

type taskFunc func(ctx context.Context, svc *bootstrap.Services) (any, error)

func newTaskCommand(opts *rootOptions, open connector, name, short string, run taskFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			env, err := open(ctx, true)
			if err != nil {
				return err
			}
			defer env.Close()

			svc, err := bootstrap.NewServices(ctx, env.cfg, env.pool, env.redis, nil, env.metrics, clockwork.NewRealClock())
			if err != nil {
				return fmt.Errorf("failed to wire services: %w", err)
			}

			start := time.Now()
			result, err := run(ctx, svc)
			if err != nil {
				return fmt.Errorf("%s failed: %w", name, err)
			}
			slog.InfoContext(ctx, "Task finished", "task", name, "duration", time.Since(start))
			return printResult(cmd.OutOrStdout(), name, result)
		},
	}
}

func printResult(w io.Writer, task string, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"task": task, "result": result}); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func connect(ctx context.Context, withRedis bool) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	env := &environment{cfg: cfg, metrics: bootstrap.NewMetrics()}
	env.pool, err = postgres.Connect(connectCtx, cfg.DatabaseURL, env.metrics.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if withRedis {
		env.redis, err = redis.NewClient(connectCtx, cfg.RedisURL, env.metrics.Provider)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}
	return env, nil
}
