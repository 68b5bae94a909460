//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"context"
	"strconv"
	"time"

	"github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/core/history"
	"github.com/redis/go-redis/v9"
)

// RedisFactory creates streams that record outcomes for the Redis history signal.
type RedisFactory struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// RedisStream keeps the sorted sets read by [history.Redis]: decisions are
// tallied per principal and alerts are counted per source address. Entries
// older than the read window are trimmed on every write.
type RedisStream struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisFactory wraps an existing client.
func NewRedisFactory(client redis.UniversalClient, timeout time.Duration) Factory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisFactory{client: client, timeout: timeout}
}

// NewStream creates a new [RedisStream].
func (f *RedisFactory) NewStream() (Stream, error) {
	return &RedisStream{client: f.client, timeout: f.timeout}, nil
}

func (s *RedisStream) record(ctx context.Context, key string, window time.Duration, ev *Event) error {
	at := ev.Timestamp.UnixMilli()
	cutoff := ev.Timestamp.Add(-window).UnixMilli()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at), Member: ev.ID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.PExpire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	return err
}

// Send records the event. Analysis summaries carry nothing the history
// signal reads and are skipped.
func (s *RedisStream) Send(ev *Event) error {
	if ev == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	switch ev.Type {
	case TypeDecision:
		if ev.Username == "" {
			return nil
		}
		outcome := history.OutcomeFailure
		if ev.Decision == "allow" {
			outcome = history.OutcomeSuccess
		}
		err = s.record(ctx, history.UserKey(ev.Username, outcome), history.UserWindow, ev)
	case TypeAlert:
		if ev.SourceIP == "" {
			return nil
		}
		err = s.record(ctx, history.EventKey(ev.SourceIP), history.EventWindow, ev)
	default:
		return nil
	}

	if err != nil {
		return common.NewErrorf(common.Unavailable, "redis: %v", err)
	}
	return nil
}

// Close is a no-op. The client belongs to the caller.
func (s *RedisStream) Close() {}
