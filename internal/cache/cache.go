// Package cache provides a bounded, expiring key/value cache owned by the
// component that creates it. Nothing in here is process-global.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 5 * time.Minute
)

// Opts sizes a TTL cache.
type Opts struct {
	Size int
	TTL  time.Duration
}

// TTL is a size-bounded LRU whose entries expire after a fixed time.
type TTL[K ~string, V any] struct {
	lru *expirable.LRU[K, V]

	// flight collapses concurrent builds of the same key.
	flight singleflight.Group
}

// New creates a TTL cache.
func New[K ~string, V any](opts Opts) *TTL[K, V] {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](opts.Size, nil, opts.TTL)}
}

// Get returns the live value for key.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key, resetting its expiry.
func (c *TTL[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// GetOrCreate returns the cached value for key or builds, stores and returns
// a new one. Concurrent callers for the same key share one build; other keys
// build in parallel. A build error is returned and nothing is cached.
func (c *TTL[K, V]) GetOrCreate(key K, build func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.flight.Do(string(key), func() (interface{}, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate drops key. Callers arriving after Invalidate start a fresh
// build instead of joining one already in flight.
func (c *TTL[K, V]) Invalidate(key K) {
	c.flight.Forget(string(key))
	c.lru.Remove(key)
}

// Len reports the number of entries, including ones that expired but have
// not been reaped yet.
func (c *TTL[K, V]) Len() int {
	return c.lru.Len()
}
