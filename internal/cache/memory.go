package cache

import (
	"context"
	"sync"
)

// NewMemory returns a process-local cache for tests and cache-less runs.
func NewMemory() *Cache {
	return &Cache{b: &memoryBackend{entries: map[memoryKey][]byte{}}}
}

type memoryKey struct {
	kind string
	key  string
}

type memoryBackend struct {
	mu      sync.Mutex
	entries map[memoryKey][]byte
}

func (b *memoryBackend) get(ctx context.Context, kind, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.entries[memoryKey{kind, key}]
	return payload, ok, ctx.Err()
}

func (b *memoryBackend) put(ctx context.Context, kind, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[memoryKey{kind, key}] = append([]byte(nil), payload...)
	return nil
}

func (b *memoryBackend) delete(ctx context.Context, kind, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, memoryKey{kind, key})
	return nil
}
