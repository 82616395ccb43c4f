package testutil

import (
	"context"
	"sync"
	"testing"

	redis "github.com/redis/go-redis/v9"
)

// RedisReplier answers one intercepted command. Returning an error fails the
// command; otherwise set the value on cmd (for example cmd.(*redis.Cmd).SetVal).
type RedisReplier func(cmd redis.Cmder) error

// FakeRedis records every command sent through a client and answers them in
// process, so no server is dialed.
type FakeRedis struct {
	mu    sync.Mutex
	cmds  [][]any
	reply RedisReplier
}

// NewRedis returns a client whose commands are served by reply.
func NewRedis(t *testing.T, reply RedisReplier) (*redis.Client, *FakeRedis) {
	t.Helper()
	fake := &FakeRedis{reply: reply}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(fake)
	t.Cleanup(func() { _ = client.Close() })
	return client, fake
}

// Commands returns the argument lists seen so far, in order.
func (f *FakeRedis) Commands() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]any, len(f.cmds))
	copy(out, f.cmds)
	return out
}

func (f *FakeRedis) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (f *FakeRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cmds = append(f.cmds, cmd.Args())
		if f.reply == nil {
			return nil
		}
		return f.reply(cmd)
	}
}

func (f *FakeRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if err := f.ProcessHook(nil)(ctx, cmd); err != nil {
				return err
			}
		}
		return nil
	}
}
