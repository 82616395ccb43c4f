package scheduler

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	obsmetrics "github.com/smallbiznis/drawline/internal/observability/metrics"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// lockReplies answers SET NX with acquired and the unlock script with held.
func lockReplies(acquired bool, held int64) testutil.RedisReplier {
	return func(cmd redis.Cmder) error {
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			c.SetVal(acquired)
		case *redis.Cmd:
			c.SetVal(held)
		}
		return nil
	}
}

func lockedScheduler(t *testing.T, reply testutil.RedisReplier) (*Scheduler, *testutil.FakeRedis, *prometheus.Registry) {
	t.Helper()
	client, fake := testutil.NewRedis(t, reply)
	registry := prometheus.NewRegistry()
	return &Scheduler{
		log:     zap.NewNop(),
		cfg:     Config{}.withDefaults(),
		genID:   testutil.NewNode(t),
		metrics: obsmetrics.NewSchedulerMetricsForTest(registry),
		locker:  newJobLocker(client),
	}, fake, registry
}

func counterValue(t *testing.T, registry *prometheus.Registry, name, job string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestJobLockKeysAndReleasesOwnToken(t *testing.T) {
	s, fake, registry := lockedScheduler(t, lockReplies(true, 1))

	ran := false
	require.NoError(t, s.runJob(context.Background(), JobOutboxRelay, func(ctx context.Context, run *jobRun) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	cmds := fake.Commands()
	require.Len(t, cmds, 2)
	set := cmds[0]
	assert.Equal(t, "set", set[0])
	assert.Equal(t, "drawline:scheduler:outbox_relay", set[1])
	assert.Contains(t, set, "nx")
	token := set[2]

	unlock := cmds[1]
	assert.Equal(t, "evalsha", unlock[0])
	assert.Equal(t, []any{1, "drawline:scheduler:outbox_relay", token}, unlock[2:])
	assert.Zero(t, counterValue(t, registry, "drawline_scheduler_job_locks_lost_total", JobOutboxRelay))
}

func TestJobLockHeldElsewhereSkipsJob(t *testing.T) {
	s, fake, _ := lockedScheduler(t, lockReplies(false, 0))

	ran := false
	require.NoError(t, s.runJob(context.Background(), JobExpireReservations, func(ctx context.Context, run *jobRun) error {
		ran = true
		return nil
	}))
	assert.False(t, ran)
	assert.Len(t, fake.Commands(), 1)
}

func TestJobLockLostIsCounted(t *testing.T) {
	s, _, registry := lockedScheduler(t, lockReplies(true, 0))

	require.NoError(t, s.runJob(context.Background(), JobRetentionPurge, func(ctx context.Context, run *jobRun) error {
		return nil
	}))
	assert.Equal(t, float64(1), counterValue(t, registry, "drawline_scheduler_job_locks_lost_total", JobRetentionPurge))
}

func TestJobLockErrorRunsUnlocked(t *testing.T) {
	s, _, _ := lockedScheduler(t, func(cmd redis.Cmder) error { return assert.AnError })

	ran := false
	require.NoError(t, s.runJob(context.Background(), JobDeliveryGrace, func(ctx context.Context, run *jobRun) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestNewJobLockerWithoutRedis(t *testing.T) {
	assert.Nil(t, newJobLocker(nil))
}
