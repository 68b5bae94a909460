//
//  Copyright © Manetu Inc. All rights reserved.
//

package history

import (
	"context"
	"strconv"
	"time"

	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/redis/go-redis/v9"
)

// Windows over which history is tallied.
const (
	UserWindow  = 24 * time.Hour
	EventWindow = time.Hour
)

// Outcome labels used in Redis keys.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// UserKey is the sorted set of a principal's outcomes, scored by unix milliseconds.
func UserKey(username, outcome string) string {
	return "zt:history:" + username + ":" + outcome
}

// EventKey is the sorted set of security events from an address, scored by unix milliseconds.
func EventKey(sourceIP string) string {
	return "zt:events:" + sourceIP
}

// RedisConfig holds connection settings for the history store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisConfigFromViper reads the redis.* keys.
func RedisConfigFromViper() RedisConfig {
	return RedisConfig{
		Addr:     config.VConfig.GetString(config.RedisAddr),
		Password: config.VConfig.GetString(config.RedisPassword),
		DB:       config.VConfig.GetInt(config.RedisDB),
	}
}

// NewRedisClient dials and pings the store.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Redis reads history that the audit recorder keeps in sorted sets.
type Redis struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, now: time.Now}
}

func since(now time.Time, window time.Duration) string {
	return strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
}

// UserHistory counts the principal's outcomes inside [UserWindow].
func (r *Redis) UserHistory(ctx context.Context, username string) (*Ratio, error) {
	from := since(r.now(), UserWindow)

	pipe := r.client.Pipeline()
	ok := pipe.ZCount(ctx, UserKey(username, OutcomeSuccess), from, "+inf")
	bad := pipe.ZCount(ctx, UserKey(username, OutcomeFailure), from, "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warnf(agent, "UserHistory", "redis query failed for %s: %v", username, err)
		return nil, err
	}

	return &Ratio{Success: int(ok.Val()), Failure: int(bad.Val())}, nil
}

// SecurityEvents counts events from the address inside [EventWindow].
func (r *Redis) SecurityEvents(ctx context.Context, sourceIP string) (int, error) {
	n, err := r.client.ZCount(ctx, EventKey(sourceIP), since(r.now(), EventWindow), "+inf").Result()
	if err != nil {
		logger.Warnf(agent, "SecurityEvents", "redis query failed for %s: %v", sourceIP, err)
		return 0, err
	}
	return int(n), nil
}
