// Package syncutil holds concurrency helpers shared by the services that
// serialize state transitions per aggregate ID (transactions, escrow
// accounts, disputes, onboarding applications).
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed pool of mutexes addressed by string key. Memory
// stays bounded no matter how many IDs pass through; two IDs hashing to
// the same shard occasionally contend, which is harmless for correctness.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns the matching unlock.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}
