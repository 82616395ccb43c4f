package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const jobLockPrefix = "drawline:scheduler:"

// Deletes the key only while it still holds our token. Returns 1 when the
// lock was ours, 0 when it expired or another instance took it.
const jobUnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// jobLocker is a SET NX PX lease per job name, shared by every scheduler
// instance pointed at the same redis.
type jobLocker struct {
	client *redis.Client
	unlock *redis.Script
	prefix string
}

func newJobLocker(client *redis.Client) *jobLocker {
	if client == nil {
		return nil
	}
	return &jobLocker{
		client: client,
		unlock: redis.NewScript(jobUnlockScript),
		prefix: jobLockPrefix,
	}
}

func (l *jobLocker) key(job string) string {
	return l.prefix + job
}

func (l *jobLocker) acquire(ctx context.Context, job string, ttl time.Duration) (string, bool, error) {
	if job == "" {
		return "", false, errors.New("job name is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("job lock ttl must be positive")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(job), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// release reports whether the lease was still held when the job finished.
func (l *jobLocker) release(ctx context.Context, job, token string) (bool, error) {
	n, err := l.unlock.Run(ctx, l.client, []string{l.key(job)}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// acquireJobLock takes the per-job redis lock when redis is configured.
// Without a locker every instance runs every job.
func (s *Scheduler) acquireJobLock(ctx context.Context, job string) (func(), bool, error) {
	noop := func() {}
	if s.locker == nil {
		return noop, true, nil
	}
	token, ok, err := s.locker.acquire(ctx, job, s.cfg.LockTTL)
	if err != nil {
		return noop, false, err
	}
	if !ok {
		s.log.Debug("scheduler.job.lock_held", zap.String("job", job))
		return noop, false, nil
	}
	return func() {
		// The job context may already be done; release on a fresh one.
		held, err := s.locker.release(context.Background(), job, token)
		switch {
		case err != nil:
			s.log.Warn("failed to release job lock", zap.String("job", job), zap.Error(err))
		case !held:
			// The job outlived LockTTL, so another instance may have run it too.
			s.metrics.IncJobLockLost(job)
			s.log.Warn("scheduler.job.lock_lost",
				zap.String("job", job),
				zap.Duration("lock_ttl", s.cfg.LockTTL),
			)
		}
	}, true, nil
}
