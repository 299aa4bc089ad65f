// Package redisstore keeps JSON snapshots in Redis, each with a revision
// counter that moves on every write.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
)

// ErrNotFound is returned by Load for a key that was never written.
var ErrNotFound = errors.New("redis snapshot not found")

type Option func(*redis.Options)

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

// New connects to addr and pings it; an unreachable server is an error.
func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}
	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func revKey(key string) string { return key + ":rev" }

// Load returns the snapshot under key with its revision.
func (c *Client) Load(ctx context.Context, key string) ([]byte, int64, error) {
	start := time.Now()
	var data, rev *redis.StringCmd
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		data = p.Get(ctx, key)
		rev = p.Get(ctx, revKey(key))
		return nil
	})
	if errors.Is(data.Err(), redis.Nil) {
		observability.ObserveStoreOp("load", nil, time.Since(start).Seconds())
		return nil, 0, ErrNotFound
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.ObserveStoreOp("load", err, time.Since(start).Seconds())
		return nil, 0, fmt.Errorf("redis load %q: %w", key, err)
	}
	observability.ObserveStoreOp("load", nil, time.Since(start).Seconds())

	b, _ := data.Bytes()
	n, err := rev.Int64()
	if err != nil {
		// written before revisions were tracked
		n = 0
	}
	return b, n, nil
}

// Store replaces the snapshot under key and bumps its revision in one
// transaction. It returns the new revision.
func (c *Client) Store(ctx context.Context, key string, data []byte) (int64, error) {
	start := time.Now()
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, data, 0)
		incr = p.Incr(ctx, revKey(key))
		return nil
	})
	observability.ObserveStoreOp("store", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis store %q: %w", key, err)
	}
	return incr.Val(), nil
}

// Revision reads only the revision counter; 0 means never written.
func (c *Client) Revision(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, revKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis revision %q: %w", key, err)
	}
	return n, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
