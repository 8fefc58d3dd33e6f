package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/httpserver"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/adapter/postgres"
	"github.com/pscheid92/commhub/internal/adapter/redis"
	"github.com/pscheid92/commhub/internal/adapter/websocket"
	"github.com/pscheid92/commhub/internal/app"
	"github.com/pscheid92/commhub/internal/bootstrap"
	"github.com/pscheid92/commhub/internal/platform/config"
	"github.com/pscheid92/commhub/internal/platform/logging"
	"github.com/pscheid92/commhub/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, dbm *metrics.DBMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, dbm)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config, pm *metrics.ProviderMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, pm)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupWebsocket starts the centrifuge node on the shared Redis broker and
// returns the upgrade handler.
func setupWebsocket(cfg *config.Config, wsMetrics *metrics.WebSocketMetrics) (*centrifuge.Node, http.Handler) {
	node, err := websocket.NewNode(wsMetrics, cfg.LogLevel)
	if err != nil {
		slog.Error("Failed to create websocket node", "error", err)
		os.Exit(1)
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to parse Redis URL for websocket broker", "error", err)
		os.Exit(1)
	}
	if err := websocket.SetupRedis(node, opts.Addr); err != nil {
		slog.Error("Failed to set up websocket broker", "error", err)
		os.Exit(1)
	}

	if err := node.Run(); err != nil {
		slog.Error("Failed to run websocket node", "error", err)
		os.Exit(1)
	}

	handler := centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		CheckOrigin: websocket.NewOriginPolicy(cfg.WebSocketOrigins(), !cfg.IsProduction()).CheckOrigin,
	})
	return node, handler
}

func setupScheduler(cfg *config.Config, rdb *goredis.Client, svc *bootstrap.Services, m *metrics.SchedulerMetrics, clock clockwork.Clock) *app.Scheduler {
	if !cfg.SchedulerEnabled {
		slog.Info("Background scheduler disabled")
		return nil
	}

	lease := redis.NewLeaderElector(rdb, app.LeaderKey, uuid.NewString(), app.LeaderTTL)
	scheduler := app.NewScheduler(lease, m, clock)
	if err := scheduler.Register(app.DefaultTasks(svc.Scheduled, svc.Jobs, svc.Tokens, svc.Gmail)...); err != nil {
		slog.Error("Failed to register scheduled tasks", "error", err)
		os.Exit(1)
	}
	scheduler.Start(context.Background())
	return scheduler
}

func runGracefulShutdown(srv *httpserver.Server, scheduler *app.Scheduler, inbound *app.InboundService, node *centrifuge.Node) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if scheduler != nil {
			scheduler.Stop(ctx)
		}
		inbound.Wait()
		if err := node.Shutdown(ctx); err != nil {
			slog.Error("Websocket node shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	m := bootstrap.NewMetrics()

	pool := setupDB(cfg, m.DB)
	defer pool.Close()

	redisClient := setupRedis(cfg, m.Provider)
	defer func() { _ = redisClient.Close() }()

	node, wsHandler := setupWebsocket(cfg, m.WebSocket)
	publisher := websocket.NewPublisher(node, m.WebSocket)

	svc, err := bootstrap.NewServices(context.Background(), cfg, pool, redisClient, publisher, m, clock)
	if err != nil {
		slog.Error("Failed to wire services", "error", err)
		os.Exit(1)
	}

	scheduler := setupScheduler(cfg, redisClient, svc, m.Scheduler, clock)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Instagram:        svc.Instagram,
		Gmail:            svc.Gmail,
		Slack:            svc.Slack,
		Inbound:          svc.Inbound,
		Scheduled:        svc.Scheduled,
		Jobs:             svc.Jobs,
		Tokens:           svc.Tokens,
		WebsocketHandler: wsHandler,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
		Registry:         m.Registry,
		HTTPMetrics:      m.HTTP,
		WebhookMetrics:   m.Webhook,
		SchedulerMetrics: m.Scheduler,
	})

	done := runGracefulShutdown(srv, scheduler, svc.Inbound, node)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
