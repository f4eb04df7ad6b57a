// Package ratelease provides a Redis-backed lease store for work-item
// claims, so a claim made by one Scheduler process is visible to (and can
// expire for) any other process in the fleet.
//
// This is a thin complement to store.Gateway.ClaimWriteItem's own
// Postgres-row lease columns: the Gateway is authoritative for who holds a
// claim, while ratelease gives the Scheduler a fast, TTL-native way to
// check "is my lease about to expire" without a round trip to Postgres on
// every heartbeat.
package ratelease

import (
	stdctx "context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	pingTimeout  = 2 * time.Second
)

// ErrNotHeld is returned when a lease lookup or renewal targets a work
// item this process (or any process) does not currently hold a lease for.
var ErrNotHeld = errors.New("ratelease: lease not held")

// NewClient parses redisURL and returns a ready-to-use client.
func NewClient(ctx stdctx.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelease: invalid redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = readTimeout
	opts.WriteTimeout = writeTimeout

	client := redis.NewClient(opts)
	if err := Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("ratelease client connected", slog.String("addr", opts.Addr))
	return client, nil
}

// Ping verifies the client can reach Redis within pingTimeout.
func Ping(ctx stdctx.Context, client *redis.Client) error {
	pingCtx, cancel := stdctx.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ratelease: ping failed: %w", err)
	}
	return nil
}

func key(workItemID string) string {
	return "ratelease:claim:" + workItemID
}

// Store holds work-item claim leases in Redis with native TTL expiry.
type Store struct {
	client *redis.Client
}

// New constructs a Store over an already-connected client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Acquire records that worker holds the lease for workItemID until ttl
// elapses. It does not itself enforce exclusivity — store.Gateway's
// ClaimWriteItem is the authority on who may claim; this just mirrors the
// resulting lease for fast local checks.
func (s *Store) Acquire(ctx stdctx.Context, workItemID, worker string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key(workItemID), worker, ttl).Err(); err != nil {
		return fmt.Errorf("ratelease: acquire failed: %w", err)
	}
	return nil
}

// Renew extends an existing lease by ttl. Returns ErrNotHeld if the lease
// already expired (or was never acquired), so the caller knows to treat
// its claim as lost rather than silently re-creating one.
func (s *Store) Renew(ctx stdctx.Context, workItemID, worker string, ttl time.Duration) error {
	holder, err := s.client.Get(ctx, key(workItemID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotHeld
		}
		return fmt.Errorf("ratelease: renew lookup failed: %w", err)
	}
	if holder != worker {
		return ErrNotHeld
	}
	if err := s.client.Expire(ctx, key(workItemID), ttl).Err(); err != nil {
		return fmt.Errorf("ratelease: renew failed: %w", err)
	}
	return nil
}

// Release drops the lease early, e.g. after CompleteWriteItem succeeds.
func (s *Store) Release(ctx stdctx.Context, workItemID string) error {
	if err := s.client.Del(ctx, key(workItemID)).Err(); err != nil {
		return fmt.Errorf("ratelease: release failed: %w", err)
	}
	return nil
}

// Holder returns the worker currently holding the lease, if any.
func (s *Store) Holder(ctx stdctx.Context, workItemID string) (string, error) {
	holder, err := s.client.Get(ctx, key(workItemID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotHeld
		}
		return "", fmt.Errorf("ratelease: holder lookup failed: %w", err)
	}
	return holder, nil
}
