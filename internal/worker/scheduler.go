package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/legal-settlement/internal/observability"
	"github.com/ayo6706/legal-settlement/internal/service"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is one periodic maintenance task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// ReconciliationJobs lists the maintenance jobs of svc, all on the same interval.
func ReconciliationJobs(svc *service.ReconciliationService, interval time.Duration) []Job {
	return []Job{
		{Name: "retry_settlements", Interval: interval, Run: svc.RetrySettlements},
		{Name: "promote_holds", Interval: interval, Run: svc.PromoteHolds},
		{Name: "expire_orders", Interval: interval, Run: svc.ExpireOrders},
		{Name: "report_manual_queue", Interval: interval, Run: svc.ReportManualQueue},
		{Name: "purge_idempotency_keys", Interval: time.Hour, Run: svc.PurgeIdempotencyKeys},
		{Name: "verify_wallets", Interval: 24 * time.Hour, Run: svc.VerifyWallets},
	}
}

// Scheduler runs Jobs with gocron. A job still running when its next tick
// arrives is skipped rather than run twice.
type Scheduler struct {
	scheduler gocron.Scheduler
	jobs      []Job
}

func NewScheduler(jobs ...Job) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, jobs: jobs}, nil
}

// Start registers every job and starts the scheduler. Jobs run once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("job %s: interval must be positive", job.Name)
		}
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(job.Interval),
			gocron.NewTask(runJob, ctx, job),
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.Name, err)
		}
	}
	s.scheduler.Start()
	zap.L().Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	zap.L().Info("scheduler stopped")
	return nil
}

func runJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		observability.IncrementWorkerRun(job.Name, "failed")
		zap.L().Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(job.Name, "success")
	zap.L().Debug("scheduled job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
}
