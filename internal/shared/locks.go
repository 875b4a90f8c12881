package shared

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// Locker guards a critical section identified by key across callers.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// FlowLockKey builds redis keys for orchestrated flows rooted at a document.
func FlowLockKey(flow, kind string, id int64) string {
	return fmt.Sprintf("orderflow:flow:%s:%s:%d", flow, kind, id)
}

// RedisLocker obtains short-lived distributed locks through redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisLocker wraps a redislock client. ttl bounds how long a crashed holder
// can block others.
func NewRedisLocker(client *redislock.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	}
}

// Acquire obtains key or fails with ErrConcurrentModification once retries run out.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: lock %s is held", ErrConcurrentModification, key)
	}
	if err != nil {
		return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

// LocalLocker is an in-process Locker used when no redis is configured.
type LocalLocker struct {
	mu KeyedMutex
}

// Acquire blocks until key is free.
func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	return l.mu.Lock(key), nil
}

// KeyedMutex serializes work per key while unrelated keys proceed in parallel.
// The zero value is ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockAll acquires every distinct key in sorted order, so two callers locking
// overlapping sets can never deadlock.
func (k *KeyedMutex) LockAll(keys []string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, key)
	}
	sort.Strings(uniq)
	unlocks := make([]func(), 0, len(uniq))
	for _, key := range uniq {
		unlocks = append(unlocks, k.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
