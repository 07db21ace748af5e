// Package cache keeps per-process read mirrors of document collections.
package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
)

const snapshotKey = "\x00snapshot"

// Mirror holds the last snapshot of a collection. It goes stale when no
// snapshot arrived within its TTL; callers then reload from the store.
type Mirror[T any] struct {
	mu    sync.RWMutex
	items *gocache.Cache
	ttl   time.Duration
	// gen counts installed snapshots.
	gen uint64
}

func NewMirror[T any](ttl time.Duration) *Mirror[T] {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Mirror[T]{
		items: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Replace swaps in a full snapshot.
func (m *Mirror[T]) Replace(items map[string]T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceLocked(items)
}

// replaceIf installs items only when no snapshot arrived since gen was read.
func (m *Mirror[T]) replaceIf(gen uint64, items map[string]T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.replaceLocked(items)
	return true
}

func (m *Mirror[T]) generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

func (m *Mirror[T]) replaceLocked(items map[string]T) {
	m.gen++
	m.items.Flush()
	// The marker is written first so it never outlives the items.
	m.items.Set(snapshotKey, time.Now(), gocache.DefaultExpiration)
	for id, item := range items {
		m.items.Set(id, item, gocache.DefaultExpiration)
	}
}

// Invalidate marks the mirror stale.
func (m *Mirror[T]) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Flush()
}

// Fresh reports whether a snapshot arrived within the TTL.
func (m *Mirror[T]) Fresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items.Get(snapshotKey)
	return ok
}

func (m *Mirror[T]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero T
	v, ok := m.items.Get(id)
	if !ok || id == snapshotKey {
		return zero, false
	}
	item, ok := v.(T)
	return item, ok
}

// List returns the mirrored items in no particular order.
func (m *Mirror[T]) List() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.items.Items()
	out := make([]T, 0, len(all))
	for id, entry := range all {
		if id == snapshotKey {
			continue
		}
		if item, ok := entry.Object.(T); ok {
			out = append(out, item)
		}
	}
	return out
}

// Decoder turns a stored document into a mirrored item.
type Decoder[T any] func(repository.Document) (T, error)

// Load reads the whole collection and replaces the mirror. When a
// subscription snapshot lands while the read is in flight, the newer
// snapshot wins and is returned instead.
func Load[T any](ctx context.Context, store repository.DocumentStore, collection string, m *Mirror[T], decode Decoder[T]) ([]T, error) {
	gen := m.generation()
	docs, err := store.Query(ctx, collection, repository.Query{})
	if err != nil {
		return nil, err
	}
	items, err := decodeAll(docs, decode)
	if err != nil {
		return nil, err
	}
	if !m.replaceIf(gen, items) && m.Fresh() {
		return m.List(), nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out, nil
}

// Watch keeps m in sync with collection through a store subscription.
// onSnapshot, if set, runs after every successful replace.
func Watch[T any](ctx context.Context, store repository.DocumentStore, collection string, m *Mirror[T], decode Decoder[T], log *logger.Logger, onSnapshot func([]T)) (repository.Unsubscribe, error) {
	return store.Subscribe(ctx, collection, repository.Query{}, func(docs []repository.Document, err error) {
		if err != nil {
			log.Error(err, "Mirror subscription failed", "collection", collection)
			m.Invalidate()
			return
		}
		items, err := decodeAll(docs, decode)
		if err != nil {
			log.Error(err, "Failed to decode snapshot", "collection", collection)
			m.Invalidate()
			return
		}
		m.Replace(items)
		if onSnapshot != nil {
			list := make([]T, 0, len(items))
			for _, item := range items {
				list = append(list, item)
			}
			onSnapshot(list)
		}
	})
}

func decodeAll[T any](docs []repository.Document, decode Decoder[T]) (map[string]T, error) {
	items := make(map[string]T, len(docs))
	for _, doc := range docs {
		item, err := decode(doc)
		if err != nil {
			return nil, err
		}
		items[doc.ID] = item
	}
	return items, nil
}
