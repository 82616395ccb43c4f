package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/drawline/internal/clock"
	"github.com/smallbiznis/drawline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sortedSetWindow answers the sliding window script the way redis runs it:
// drop scores <= now-window, add now, return the cardinality.
func sortedSetWindow(t *testing.T) testutil.RedisReplier {
	sets := map[string][]int64{}
	return func(cmd redis.Cmder) error {
		c, ok := cmd.(*redis.Cmd)
		if !ok {
			return errors.New("unexpected command")
		}
		args := c.Args()
		require.Equal(t, "evalsha", args[0])
		require.Equal(t, 1, args[2])
		key := args[3].(string)
		now := args[4].(int64)
		window := args[5].(int64)

		kept := sets[key][:0]
		for _, score := range sets[key] {
			if score > now-window {
				kept = append(kept, score)
			}
		}
		sets[key] = append(kept, now)
		c.SetVal(int64(len(sets[key])))
		return nil
	}
}

func TestRedisLimiterWindowExcludesItsStart(t *testing.T) {
	client, fake := testutil.NewRedis(t, sortedSetWindow(t))
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	limiter := NewRedisLimiter(client, clk)
	ctx := context.Background()

	allowed, err := limiter.CheckAndRecord(ctx, " 1.2.3.4 ", "login", time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	clk.Advance(time.Minute - time.Millisecond)
	allowed, err = limiter.CheckAndRecord(ctx, "1.2.3.4", "login", time.Minute, 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	// The first attempt sits exactly on now-window and is out; the denied one
	// a millisecond later is still in.
	clk.Advance(time.Millisecond)
	allowed, err = limiter.CheckAndRecord(ctx, "1.2.3.4", "login", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, allowed)

	cmds := fake.Commands()
	require.Len(t, cmds, 3)
	first := cmds[0]
	assert.Equal(t, "ratelimit:login:1.2.3.4", first[3])
	assert.Equal(t, clk.Now().Add(-time.Minute).UnixMilli(), first[4])
	assert.Equal(t, int64(60_000), first[5])
	assert.NotEqual(t, first[6], cmds[1][6], "every attempt is its own member")
}

func TestRedisLimiterRejectsBadInput(t *testing.T) {
	client, fake := testutil.NewRedis(t, sortedSetWindow(t))
	limiter := NewRedisLimiter(client, clock.NewFakeClock(time.Now()))

	_, err := limiter.CheckAndRecord(context.Background(), "", "login", time.Minute, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = limiter.CheckAndRecord(context.Background(), "id", "login", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, fake.Commands())

	assert.Nil(t, NewRedisLimiter(nil, clock.NewFakeClock(time.Now())))
}
