// Package cache provides read-through caches over store collections that
// are invalidated by control commands instead of being patched in place.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader loads the full contents of a cached collection.
type Loader[K comparable, V any] func(ctx context.Context) (map[K]V, error)

// ReadThrough caches a whole map and reloads it on the first read after
// Invalidate. Concurrent reloads are collapsed into one.
type ReadThrough[K comparable, V any] struct {
	load Loader[K, V]

	mu    sync.RWMutex
	data  map[K]V
	valid bool
	gen   uint64
	group singleflight.Group
}

// NewReadThrough creates an empty cache.
func NewReadThrough[K comparable, V any](load Loader[K, V]) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{load: load}
}

// Get returns the value for key, loading the collection if needed.
func (c *ReadThrough[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	data, err := c.snapshot(ctx)
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

// All returns a copy of the cached collection.
func (c *ReadThrough[K, V]) All(ctx context.Context) (map[K]V, error) {
	data, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[K]V, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out, nil
}

// Invalidate drops the cached contents.
func (c *ReadThrough[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.data = nil
	c.gen++
}

func (c *ReadThrough[K, V]) snapshot(ctx context.Context) (map[K]V, error) {
	c.mu.RLock()
	if c.valid {
		data := c.data
		c.mu.RUnlock()
		return data, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.group.Do("load", func() (any, error) {
		data, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// an Invalidate during the load wins, the next read reloads
		if c.gen == gen {
			c.data, c.valid = data, true
		}
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[K]V), nil
}
