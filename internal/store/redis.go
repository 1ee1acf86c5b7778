package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client and the async batch result cache.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

func resultKey(jobID string) string { return "clockin:result:" + jobID }

// SaveResult caches a finished async batch result under its job id.
func (r *Redis) SaveResult(ctx context.Context, jobID string, payload any, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, resultKey(jobID), data, ttl).Err()
}

// GetResult fetches a cached batch result. ok=false means still pending or
// expired.
func (r *Redis) GetResult(ctx context.Context, jobID string, out any) (bool, error) {
	data, err := r.Client.Get(ctx, resultKey(jobID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, out)
}
