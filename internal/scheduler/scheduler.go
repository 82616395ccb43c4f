package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	allocationdomain "github.com/smallbiznis/drawline/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	auditcontext "github.com/smallbiznis/drawline/internal/auditcontext"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/events"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	"github.com/smallbiznis/drawline/internal/observability/push"
	raffledomain "github.com/smallbiznis/drawline/internal/raffle/domain"
	"github.com/smallbiznis/drawline/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireReservations = "expire_reservations"
	JobAutoCancelStale    = "auto_cancel_stale"
	JobDeliveryGrace      = "delivery_grace"
	JobOutboxRelay        = "outbox_relay"
	JobRetentionPurge     = "retention_purge"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Policy        *config.PolicyHolder
	AllocationSvc allocationdomain.Service
	RaffleSvc     raffledomain.Service
	Relay         *events.Relay                `optional:"true"`
	AuditSvc      auditdomain.Service          `optional:"true"`
	Attempts      *ratelimit.DBLimiter         `optional:"true"`
	Redis         *redis.Client                `optional:"true"`
	Metrics       *obsmetrics.SchedulerMetrics `optional:"true"`
	Pusher        push.Pusher                  `optional:"true"`
	Config        Config                       `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	policy        *config.PolicyHolder
	allocationSvc allocationdomain.Service
	raffleSvc     raffledomain.Service
	relay         *events.Relay
	auditSvc      auditdomain.Service
	attempts      *ratelimit.DBLimiter
	locker        *jobLocker
	metrics       *obsmetrics.SchedulerMetrics
	pusher        push.Pusher
	gatherer      prometheus.Gatherer
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Policy == nil || p.AllocationSvc == nil || p.RaffleSvc == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		policy:        p.Policy,
		allocationSvc: p.AllocationSvc,
		raffleSvc:     p.RaffleSvc,
		relay:         p.Relay,
		auditSvc:      p.AuditSvc,
		attempts:      p.Attempts,
		locker:        newJobLocker(p.Redis),
		metrics:       metrics,
		pusher:        p.Pusher,
		gatherer:      prometheus.DefaultGatherer,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	release, acquired, err := s.acquireJobLock(ctx, name)
	if err != nil {
		// Redis trouble must not stall the sweeps; SKIP LOCKED keeps
		// concurrent instances correct.
		s.log.Warn("job lock unavailable, running unlocked", zap.String("job", name), zap.Error(err))
	} else if !acquired {
		s.metrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		return nil
	}
	defer release()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run := s.startJobRun(ctx, name, s.cfg.BatchSize)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err = fn(ctx, run)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context, *jobRun) error
	}{
		{JobExpireReservations, s.ExpireReservationsJob},
		{JobAutoCancelStale, s.AutoCancelStaleJob},
		{JobDeliveryGrace, s.DeliveryGraceJob},
		{JobOutboxRelay, s.OutboxRelayJob},
		{JobRetentionPurge, s.RetentionPurgeJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		if lag := time.Since(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		s.pushMetrics(ctx)
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pushMetrics ships the registry once per cycle. Push failures are
// logged and dropped.
func (s *Scheduler) pushMetrics(ctx context.Context) {
	if s.pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	if err := s.pusher.Push(pushCtx, s.gatherer); err != nil {
		s.log.Warn("scheduler metrics push failed", zap.Error(err))
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// ExpireReservationsJob releases reservations whose TTL strictly elapsed.
func (s *Scheduler) ExpireReservationsJob(ctx context.Context, run *jobRun) error {
	released, err := s.allocationSvc.ReleaseExpired(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(released)
	s.metrics.AddBatchProcessed(JobExpireReservations, "tickets", released)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.release.failed", JobExpireReservations, err)
	}
	return err
}

func (s *Scheduler) AutoCancelStaleJob(ctx context.Context, run *jobRun) error {
	canceled, err := s.raffleSvc.AutoCancelStale(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(canceled)
	s.metrics.AddBatchProcessed(JobAutoCancelStale, "raffles", canceled)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.auto_cancel.failed", JobAutoCancelStale, err)
	}
	return err
}

func (s *Scheduler) DeliveryGraceJob(ctx context.Context, run *jobRun) error {
	confirmed, err := s.raffleSvc.AutoConfirmDelivery(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(confirmed)
	s.metrics.AddBatchProcessed(JobDeliveryGrace, "raffles", confirmed)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.delivery_grace.failed", JobDeliveryGrace, err)
	}
	return err
}

// OutboxRelayJob drains full batches until the outbox is empty or a send
// fails.
func (s *Scheduler) OutboxRelayJob(ctx context.Context, run *jobRun) error {
	if s.relay == nil {
		return nil
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sent, err := s.relay.RelayBatch(ctx, s.cfg.BatchSize)
		run.AddProcessed(sent)
		s.metrics.AddBatchProcessed(JobOutboxRelay, "events", sent)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.relay.failed", JobOutboxRelay, err)
			return err
		}
		if sent < s.cfg.BatchSize {
			return nil
		}
	}
}

// RetentionPurgeJob deletes rate-limit attempts and audit logs past their
// retention window.
func (s *Scheduler) RetentionPurgeJob(ctx context.Context, run *jobRun) error {
	now := s.clock.Now()
	retention := s.policy.Get().Retention
	var jobErr error

	if s.attempts != nil {
		purged, err := s.drain(ctx, func(ctx context.Context) (int64, error) {
			return s.attempts.Purge(ctx, now.Add(-retention.RateLimitAttempts), s.cfg.BatchSize)
		})
		run.AddProcessed(int(purged))
		s.metrics.AddBatchProcessed(JobRetentionPurge, "rate_limit_attempts", int(purged))
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.purge.failed", JobRetentionPurge, err, zap.String("resource", "rate_limit_attempts"))
			jobErr = errors.Join(jobErr, err)
		}
	}
	if s.auditSvc != nil {
		purged, err := s.drain(ctx, func(ctx context.Context) (int64, error) {
			return s.auditSvc.Purge(ctx, now.Add(-retention.AuditLogs), s.cfg.BatchSize)
		})
		run.AddProcessed(int(purged))
		s.metrics.AddBatchProcessed(JobRetentionPurge, "audit_logs", int(purged))
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.purge.failed", JobRetentionPurge, err, zap.String("resource", "audit_logs"))
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}

func (s *Scheduler) drain(ctx context.Context, batch func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := batch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(s.cfg.BatchSize) {
			return total, nil
		}
	}
}
