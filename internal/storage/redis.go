package storage

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// The namespace is used as hash tag, so that all keys of a namespace are
// stored in the same Redis Cluster slot (required by MGET and MULTI / EXEC).
const kvKeyTempl = "%slora:device:{%s}:%s" // prefix | namespace | key

// Redis implements a Redis backed KV.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedis creates a new Redis store using the given client.
func NewRedis(client redis.UniversalClient, keyPrefix string) *Redis {
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Client returns the underlying Redis client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Get returns the present values for the given keys. The values are read
// using a single MGET, which is atomic.
func (r *Redis) Get(ctx context.Context, namespace string, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if len(keys) == 0 {
		return out, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = r.key(namespace, k)
	}

	vals, err := r.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		kvErrorCounter(TypeRedis).Inc()
		return nil, errors.Wrap(err, "mget error")
	}

	for i, v := range vals {
		switch v := v.(type) {
		case nil:
			continue
		case string:
			out[keys[i]] = []byte(v)
		default:
			return nil, errors.Errorf("unexpected redis value type: %T", v)
		}
	}

	kvGetCounter(TypeRedis).Inc()
	return out, nil
}

// Set stores the given values within a MULTI / EXEC transaction.
func (r *Redis) Set(ctx context.Context, namespace string, values map[string][]byte) error {
	pipe := r.client.TxPipeline()
	for k, v := range values {
		pipe.Set(ctx, r.key(namespace, k), v, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		kvErrorCounter(TypeRedis).Inc()
		return errors.Wrap(err, "exec error")
	}

	log.WithFields(log.Fields{
		"namespace": namespace,
		"keys":      len(values),
	}).Debug("storage: redis values saved")

	kvSetCounter(TypeRedis).Inc()
	return nil
}

// Ping pings the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping error")
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(namespace, key string) string {
	return GetRedisKey(kvKeyTempl, r.keyPrefix, namespace, key)
}
