// Package mutex is the distributed lease used to guard entitlement-graph
// and billing transactions across pods: a Redis Lua acquire/refresh/release
// protocol with bounded contention waits and a refresh heartbeat. Holders
// refresh faster than the lease expires; a refresh miss surfaces as ErrLost
// and the caller rolls back.
package mutex

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLost is returned by a held Lease's background refresh failing, or by
// Release when the lease already expired — the caller must roll back its
// transaction.
var ErrLost = errors.New("mutex: lease lost")

const acquireScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`

const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Config fixes the acquire/retry/lease parameters.
type Config struct {
	Retries       int
	RetryDelay    time.Duration
	LeaseDuration time.Duration
	RefreshEvery  time.Duration
}

// DefaultConfig: 350 acquire attempts at 30ms apart, a 5s lease refreshed
// every 2s.
func DefaultConfig() Config {
	return Config{
		Retries:       350,
		RetryDelay:    30 * time.Millisecond,
		LeaseDuration: 5 * time.Second,
		RefreshEvery:  2 * time.Second,
	}
}

// Locker acquires leases over a Redis client.
type Locker struct {
	rdb     *redis.Client
	cfg     Config
	acquire *redis.Script
	refresh *redis.Script
	release *redis.Script
}

// NewLocker builds a Locker.
func NewLocker(rdb *redis.Client, cfg Config) *Locker {
	return &Locker{
		rdb:     rdb,
		cfg:     cfg,
		acquire: redis.NewScript(acquireScript),
		refresh: redis.NewScript(refreshScript),
		release: redis.NewScript(releaseScript),
	}
}

// Lease is a held lock; its background refresh goroutine runs until
// Release is called or the lease is lost.
type Lease struct {
	locker *Locker
	key    string
	token  string
	lost   chan struct{}
	stop   chan struct{}
}

// Acquire blocks, retrying up to cfg.Retries times at cfg.RetryDelay
// intervals, until it holds the lease for key or returns an error.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("mutex: token: %w", err)
	}
	fullKey := "mutex:" + key

	for attempt := 0; attempt < l.cfg.Retries; attempt++ {
		res, err := l.acquire.Run(ctx, l.rdb, []string{fullKey}, token, l.cfg.LeaseDuration.Milliseconds()).Int()
		if err != nil {
			return nil, fmt.Errorf("mutex: acquire: %w", err)
		}
		if res == 1 {
			lease := &Lease{locker: l, key: fullKey, token: token, lost: make(chan struct{}), stop: make(chan struct{})}
			go lease.refreshLoop()
			return lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("mutex: acquire_timeout for %q after %d attempts", key, l.cfg.Retries)
}

func (l *Lease) refreshLoop() {
	ticker := time.NewTicker(l.locker.cfg.RefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ok, err := l.locker.refresh.Run(context.Background(), l.locker.rdb, []string{l.key}, l.token, l.locker.cfg.LeaseDuration.Milliseconds()).Int()
			if err != nil || ok != 1 {
				close(l.lost)
				return
			}
		}
	}
}

// Lost returns a channel closed if the lease expires or fails to refresh
// mid-operation. The caller must select on it and abort/rollback.
func (l *Lease) Lost() <-chan struct{} { return l.lost }

// Release drops the lease if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	close(l.stop)
	ok, err := l.locker.release.Run(ctx, l.locker.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("mutex: release: %w", err)
	}
	if ok != 1 {
		return ErrLost
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
