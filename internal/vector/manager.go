package vector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lectern-search/lectern/internal/models"
	"github.com/lectern-search/lectern/internal/store"
)

// Manager owns the current index generation. Rebuilds are exclusive; readers
// see an atomically swapped pointer, so queries running during a rebuild keep
// the previous generation. A search against an index whose revision no longer
// matches the store fails fast with ErrIndexNotReady: results computed against
// an index known to be inconsistent with the store are never returned.
type Manager struct {
	store  store.Store
	path   string // persistence path; empty disables save/load
	logger *zap.Logger

	rebuildMu sync.Mutex
	current   atomic.Pointer[Index]
}

// NewManager creates a manager over the given store. path, when non-empty, is
// where the index is persisted after each successful rebuild. logger may be nil.
func NewManager(st store.Store, path string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, path: path, logger: logger}
}

// LoadPersisted adopts a previously saved index if one exists. The revision
// tag decides whether it is trusted: a stale file is adopted but every search
// against it reports ErrIndexNotReady until the next rebuild.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	idx, err := Load(m.path, m.store.Dimensions())
	if err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}
	if idx == nil {
		return nil
	}
	rev, err := m.store.Revision(ctx)
	if err != nil {
		return err
	}
	m.current.Store(idx)
	if idx.Revision() != rev {
		m.logger.Warn("persisted vector index is stale, rebuild required",
			zap.Int64("index_revision", idx.Revision()), zap.Int64("store_revision", rev))
		return nil
	}
	m.logger.Info("loaded persisted vector index",
		zap.Int("size", idx.Size()), zap.Int64("revision", idx.Revision()))
	return nil
}

// Rebuild streams the full corpus from the store and constructs a fresh index
// generation. Only one rebuild runs at a time. The store revision is read
// before streaming; if the store mutates mid-stream the new generation is
// already stale and the next search reports it.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	rev, err := m.store.Revision(ctx)
	if err != nil {
		return fmt.Errorf("read store revision: %w", err)
	}
	var entries []Entry
	err = m.store.AllChunks(ctx, func(ch *models.Chunk) error {
		entries = append(entries, Entry{ChunkID: ch.ID, Vector: ch.Embedding})
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream chunks: %w", err)
	}
	idx, err := Build(entries, m.store.Dimensions(), rev)
	if err != nil {
		return err
	}
	if m.path != "" {
		if err := idx.Save(m.path); err != nil {
			return fmt.Errorf("persist vector index: %w", err)
		}
	}
	m.current.Store(idx)
	m.logger.Info("vector index rebuilt",
		zap.Int("size", idx.Size()), zap.Int64("revision", rev))
	return nil
}

// IsStale reports whether the current index no longer reflects the store.
// An unbuilt index is stale.
func (m *Manager) IsStale(ctx context.Context) (bool, error) {
	idx := m.current.Load()
	if idx == nil {
		return true, nil
	}
	rev, err := m.store.Revision(ctx)
	if err != nil {
		return true, err
	}
	return idx.Revision() != rev, nil
}

// Search runs a similarity query against the current generation, failing fast
// with ErrIndexNotReady when no index has been built or the index is stale.
func (m *Manager) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	idx := m.current.Load()
	if idx == nil {
		return nil, fmt.Errorf("no index built: %w", ErrIndexNotReady)
	}
	rev, err := m.store.Revision(ctx)
	if err != nil {
		return nil, err
	}
	if idx.Revision() != rev {
		return nil, fmt.Errorf("index at revision %d, store at %d: %w",
			idx.Revision(), rev, ErrIndexNotReady)
	}
	return idx.Search(query, k)
}

// Size returns the current index size, or 0 when unbuilt.
func (m *Manager) Size() int {
	if idx := m.current.Load(); idx != nil {
		return idx.Size()
	}
	return 0
}

// Revision returns the current index revision, or -1 when unbuilt.
func (m *Manager) Revision() int64 {
	if idx := m.current.Load(); idx != nil {
		return idx.Revision()
	}
	return -1
}
