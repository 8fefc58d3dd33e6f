package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/commhub/internal/platform/correlation"
)

const cronTimeout = 4 * time.Minute

func (s *Server) registerCronRoutes() {
	g := s.echo.Group("/cron", s.requireCronSecret)
	g.POST("/instagram/process-scheduled", s.cronHandler("process_scheduled", func(ctx context.Context) (any, error) {
		return s.scheduled.Run(ctx)
	}))
	g.POST("/instagram/process-jobs", s.cronHandler("process_jobs", func(ctx context.Context) (any, error) {
		return s.jobs.Run(ctx)
	}))
	g.POST("/tokens/refresh", s.cronHandler("refresh_tokens", func(ctx context.Context) (any, error) {
		return s.tokens.RefreshExpiring(ctx)
	}))
	g.POST("/gmail/sync", s.cronHandler("gmail_sync", func(ctx context.Context) (any, error) {
		return s.gmail.SyncAll(ctx)
	}))
}

// cronHandler runs one background task on demand and reports its result.
func (s *Server) cronHandler(task string, run func(ctx context.Context) (any, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Detached: a scheduler that hangs up mid-run must not abort sends.
		ctx, cancel := context.WithTimeout(correlation.Detach(c.Request().Context()), cronTimeout)
		defer cancel()

		start := time.Now()
		result, err := run(ctx)
		s.observeCron(task, err, time.Since(start))
		if err != nil {
			return err
		}

		slog.InfoContext(ctx, "Cron task finished", "task", task, "duration", time.Since(start))
		if err := c.JSON(http.StatusOK, map[string]any{"success": true, "result": result}); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}

func (s *Server) observeCron(task string, err error, elapsed time.Duration) {
	if s.schedulerMetrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.schedulerMetrics.RunsTotal.WithLabelValues(task, outcome).Inc()
	s.schedulerMetrics.RunDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}
