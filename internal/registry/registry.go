// Package registry maps internal vector ids to chunk ids and back.
//
// The in-memory lookup is an arena slice indexed by internal id plus a map keyed
// by chunk id. Every registration is written through to the chunk_vectors table
// before memory is updated, so a restart rebuilds the same lookup with Load.
// Entries written by other processes sharing the database are picked up by Sync.
package registry

import (
	"context"
	"fmt"
	"sync"

	"ragassist/internal/contextutil"
	"ragassist/internal/storage"
)

// Registry is safe for concurrent use.
type Registry struct {
	store storage.VectorEntryStore

	mu            sync.RWMutex
	chunkByVector []string // "" marks an id with no live chunk
	vectorByChunk map[string]int64
	synced        int64 // highest internal id read from the store
}

// Load builds a registry from every persisted entry.
func Load(ctx context.Context, store storage.VectorEntryStore) (*Registry, error) {
	entries, err := store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector registry: %w", err)
	}

	r := &Registry{
		store:         store,
		vectorByChunk: make(map[string]int64, len(entries)),
		synced:        -1,
	}
	for _, e := range entries {
		r.put(e.ChunkID, e.InternalID)
		r.synced = max(r.synced, e.InternalID)
	}

	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "vector registry loaded", "entries", len(entries))
	return r, nil
}

// Sync reads entries registered since the last Load or Sync, including those
// written by other processes, and adds them to the lookup.
func (r *Registry) Sync(ctx context.Context) error {
	r.mu.RLock()
	after := r.synced
	r.mu.RUnlock()

	entries, err := r.store.ListAfter(ctx, after)
	if err != nil {
		return fmt.Errorf("failed to sync vector registry: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if e.InternalID <= r.synced {
			continue
		}
		if _, ok := r.vectorByChunk[e.ChunkID]; !ok {
			r.put(e.ChunkID, e.InternalID)
		}
	}
	r.synced = max(r.synced, entries[len(entries)-1].InternalID)

	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "vector registry synced", "entries", len(entries), "synced", r.synced)
	return nil
}

// Register records entries in one transaction.
// Returns storage.ErrDuplicateChunk if any chunk is already registered; nothing is recorded then.
func (r *Registry) Register(ctx context.Context, entries []storage.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if _, ok := r.vectorByChunk[e.ChunkID]; ok || seen[e.ChunkID] {
			return fmt.Errorf("%w: chunk %s", storage.ErrDuplicateChunk, e.ChunkID)
		}
		if e.InternalID < 0 {
			return fmt.Errorf("invalid internal id %d for chunk %s", e.InternalID, e.ChunkID)
		}
		seen[e.ChunkID] = true
	}

	if err := r.store.InsertBatch(ctx, entries); err != nil {
		return fmt.Errorf("failed to persist vector entries: %w", err)
	}

	for _, e := range entries {
		r.put(e.ChunkID, e.InternalID)
	}
	return nil
}

// Resolve returns the chunk id behind an internal vector id.
func (r *Registry) Resolve(internalID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if internalID < 0 || internalID >= int64(len(r.chunkByVector)) {
		return "", false
	}
	chunkID := r.chunkByVector[internalID]
	return chunkID, chunkID != ""
}

// Lookup returns the internal vector id registered for a chunk.
func (r *Registry) Lookup(chunkID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.vectorByChunk[chunkID]
	return id, ok
}

// Unregistered returns the chunk ids without a vector, preserving input order.
func (r *Registry) Unregistered(chunkIDs []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := make([]string, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if _, ok := r.vectorByChunk[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending
}

// Forget drops in-memory entries for chunks whose rows were removed from the database.
// Their vectors stay in the index and no longer resolve.
func (r *Registry) Forget(chunkIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, chunkID := range chunkIDs {
		id, ok := r.vectorByChunk[chunkID]
		if !ok {
			continue
		}
		delete(r.vectorByChunk, chunkID)
		r.chunkByVector[id] = ""
	}
}

// Len returns the number of registered chunks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vectorByChunk)
}

// put must be called with the write lock held (or before the registry is shared).
func (r *Registry) put(chunkID string, internalID int64) {
	if grow := internalID + 1 - int64(len(r.chunkByVector)); grow > 0 {
		r.chunkByVector = append(r.chunkByVector, make([]string, grow)...)
	}
	r.chunkByVector[internalID] = chunkID
	r.vectorByChunk[chunkID] = internalID
}
