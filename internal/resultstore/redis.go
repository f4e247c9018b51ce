package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"cppjudge/pkg/models"
)

const keyPrefix = "check_outcome:"

// Redis is the Store backed by a Redis instance. The key TTL models the
// submission expiry natively, and GETDEL models consume-on-read, so no
// sweeper goroutine is needed.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to redisURL (redis://[:password@]host:port[/db])
// and verifies the connection before returning.
func NewRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// Put stores the outcome JSON under the submission token with the
// configured expiry.
func (r *Redis) Put(ctx context.Context, token string, outcome models.CheckOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, keyPrefix+token, data, r.ttl).Err()
}

// Consume atomically reads and deletes the outcome for token.
func (r *Redis) Consume(ctx context.Context, token string) models.CheckOutcome {
	data, err := r.client.GetDel(ctx, keyPrefix+token).Bytes()
	if err != nil {
		return unauthorized()
	}
	var outcome models.CheckOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return unauthorized()
	}
	return outcome
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
