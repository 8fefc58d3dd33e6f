package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/platform/correlation"
	"github.com/robfig/cron/v3"
)

const (
	LeaderKey      = "scheduler:leader"
	LeaderTTL      = 30 * time.Second
	renewInterval  = 10 * time.Second
	taskTimeout    = 4 * time.Minute
	releaseTimeout = 5 * time.Second
)

// Lease is the distributed lock that picks the one instance running tasks.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// Task is a background run triggered by a standard five-field cron spec.
type Task struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs cron tasks on the instance that holds the leader lease.
// Followers keep the schedule but skip every tick.
type Scheduler struct {
	cron    *cron.Cron
	lease   Lease
	metrics *metrics.SchedulerMetrics
	clock   clockwork.Clock

	leader atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(lease Lease, m *metrics.SchedulerMetrics, clock clockwork.Clock) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		lease:   lease,
		metrics: m,
		clock:   clock,
	}
}

// DefaultTasks is the production schedule of background runs.
func DefaultTasks(scheduled *ScheduledProcessor, jobs *JobProcessor, tokens *TokenManager, gmail *GmailService) []Task {
	return []Task{
		{Name: "process_scheduled", Spec: "*/5 * * * *", Run: func(ctx context.Context) error {
			_, err := scheduled.Run(ctx)
			return err
		}},
		{Name: "process_jobs", Spec: "* * * * *", Run: func(ctx context.Context) error {
			_, err := jobs.Run(ctx)
			return err
		}},
		{Name: "refresh_tokens", Spec: "*/30 * * * *", Run: func(ctx context.Context) error {
			_, err := tokens.RefreshExpiring(ctx)
			return err
		}},
		{Name: "gmail_sync", Spec: "*/15 * * * *", Run: func(ctx context.Context) error {
			_, err := gmail.SyncAll(ctx)
			return err
		}},
	}
}

func (s *Scheduler) Register(tasks ...Task) error {
	for _, t := range tasks {
		if _, err := s.cron.AddFunc(t.Spec, func() { s.run(t) }); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", t.Spec, t.Name, err)
		}
	}
	return nil
}

// Start begins competing for the lease and starts the cron clock.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(correlation.Detach(ctx))

	s.campaign(s.ctx)
	s.wg.Go(s.leaseLoop)
	s.cron.Start()
	slog.Info("Scheduler started", "tasks", len(s.cron.Entries()))
}

// Stop waits for running tasks, stops the lease loop, and releases the lease
// so another instance can take over immediately.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("Scheduler stop timed out waiting for running tasks")
	}

	s.cancel()
	s.wg.Wait()

	if s.leader.Swap(false) {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.lease.Release(releaseCtx); err != nil {
			slog.Warn("Failed to release scheduler lease", "error", err)
		}
		s.setLeaderGauge(false)
	}
	slog.Info("Scheduler stopped")
}

// IsLeader reports whether this instance currently runs tasks.
func (s *Scheduler) IsLeader() bool {
	return s.leader.Load()
}

func (s *Scheduler) leaseLoop() {
	ticker := s.clock.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
			s.campaign(s.ctx)
		}
	}
}

// campaign renews the lease when held and tries to acquire it otherwise.
func (s *Scheduler) campaign(ctx context.Context) {
	if s.leader.Load() {
		err := s.lease.Renew(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Lost scheduler leadership", "error", err)
		s.leader.Store(false)
		s.setLeaderGauge(false)
		return
	}

	ok, err := s.lease.TryAcquire(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("Failed to acquire scheduler lease", "error", err)
		}
		return
	}
	if ok {
		slog.Info("Acquired scheduler leadership")
		s.leader.Store(true)
		s.setLeaderGauge(true)
	}
}

func (s *Scheduler) run(t Task) {
	if !s.leader.Load() {
		s.observe(t.Name, "skipped", 0)
		return
	}

	ctx := correlation.WithID(s.ctx, correlation.NewID())
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := s.clock.Now()
	err := t.Run(ctx)
	elapsed := s.clock.Since(start)

	if err != nil {
		slog.ErrorContext(ctx, "Scheduled task failed", "task", t.Name, "duration", elapsed, "error", err)
		s.observe(t.Name, "error", elapsed)
		return
	}
	slog.DebugContext(ctx, "Scheduled task finished", "task", t.Name, "duration", elapsed)
	s.observe(t.Name, "success", elapsed)
}

func (s *Scheduler) observe(task, outcome string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RunsTotal.WithLabelValues(task, outcome).Inc()
	if outcome != "skipped" {
		s.metrics.RunDuration.WithLabelValues(task).Observe(elapsed.Seconds())
	}
}

func (s *Scheduler) setLeaderGauge(leader bool) {
	if s.metrics == nil {
		return
	}
	if leader {
		s.metrics.IsLeader.Set(1)
		return
	}
	s.metrics.IsLeader.Set(0)
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
