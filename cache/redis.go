package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient wraps redis.Client.
// A nil *RedisClient is usable: locks are always granted and publishes are
// dropped, so the pipeline keeps working when Redis is down.
type RedisClient struct {
	client *redis.Client
	tokens sync.Map // lock key -> token of the lock this process holds
}

// NewRedisClient creates a new Redis client
func NewRedisClient(host, port, password string) *RedisClient {
	addr := fmt.Sprintf("%s:%s", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0, // use default DB
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  Failed to connect to Redis at %s: %v", addr, err)
		client.Close()
		return nil
	}

	log.Printf("✅ Connected to Redis at %s", addr)
	return &RedisClient{client: client}
}

func (r *RedisClient) ready() bool {
	return r != nil && r.client != nil
}

// releaseScript deletes a lock only while it still holds the caller's token,
// so a run that outlived its TTL cannot drop a lock another run now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock takes a run lock with SET NX under a fresh token. It reports
// false when another holder owns the key. Without Redis every lock is granted.
func (r *RedisClient) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !r.ready() {
		return true, nil
	}

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("AcquireLock %s: %w", key, err)
	}
	if ok {
		r.tokens.Store(key, token)
	}
	return ok, nil
}

// ReleaseLock removes a run lock taken by AcquireLock, provided the lock
// still carries the token it was taken with
func (r *RedisClient) ReleaseLock(ctx context.Context, key string) error {
	if !r.ready() {
		return nil
	}

	token, ok := r.tokens.LoadAndDelete(key)
	if !ok {
		return nil
	}
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("ReleaseLock %s: %w", key, err)
	}
	if n == 0 {
		log.Printf("⚠️ Run lock %s expired and was taken by another holder", key)
	}
	return nil
}

// Publish sends a message to a channel
func (r *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if !r.ready() {
		return nil
	}

	jsonBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, channel, jsonBytes).Err()
}

// Subscribe subscribes to a channel
func (r *RedisClient) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if !r.ready() {
		return nil
	}
	return r.client.Subscribe(ctx, channel)
}

// Ping reports whether Redis answers
func (r *RedisClient) Ping(ctx context.Context) error {
	if !r.ready() {
		return fmt.Errorf("redis client not initialized")
	}
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.ready() {
		return r.client.Close()
	}
	return nil
}
