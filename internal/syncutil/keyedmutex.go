// Package syncutil holds the locking and scheduling helpers shared by the
// stores and background sweeps.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyedMutex serializes work per key over a fixed pool of shards. Two keys
// that hash to the same shard share a lock; memory stays bounded no matter
// how many orders pass through.
//
// The zero value is ready to use.
type KeyedMutex struct {
	once   sync.Once
	shards [shardCount]chan struct{}
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
		}
	})
}

func (m *KeyedMutex) shard(key string) chan struct{} {
	m.init()
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Lock blocks until key's shard is free and returns the unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	ch := m.shard(key)
	ch <- struct{}{}
	return func() { <-ch }
}

// LockContext is Lock that gives up when ctx is done. On error the lock is
// not held.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shard(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
