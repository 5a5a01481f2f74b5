// Package cas is a content-addressable blob store for large
// "dataflow/reference" content, grounded on the teacher's pluggable
// CASClient interface with a Redis-backed default implementation.
package cas

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// Client is a pluggable content-addressable store: Put returns a stable
// reference for data, Get resolves a reference back to bytes.
type Client interface {
	Put(ctx context.Context, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// RedisClient stores blobs in Redis keyed by their SHA-256 digest, with no
// expiry and no local caching - every Get round-trips to Redis so a
// takeover process always observes the latest write.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient wraps rdb as a cas.Client.
func NewRedisClient(rdb *redis.Client) *RedisClient {
	return &RedisClient{rdb: rdb}
}

func (c *RedisClient) Put(ctx context.Context, data []byte) (string, error) {
	ref := fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	if err := c.rdb.Set(ctx, casKey(ref), data, 0).Err(); err != nil {
		return "", model.WrapError(model.ErrBackend, err, "failed to store blob %s in CAS", ref)
	}
	return ref, nil
}

func (c *RedisClient) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, casKey(ref)).Bytes()
	if err == redis.Nil {
		return nil, model.NewError(model.ErrNotFound, "CAS entry %s not found", ref)
	}
	if err != nil {
		return nil, model.WrapError(model.ErrBackend, err, "failed to fetch blob %s from CAS", ref)
	}
	return data, nil
}

func casKey(ref string) string { return "dataflow:cas:" + ref }
