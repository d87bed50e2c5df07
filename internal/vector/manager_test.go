package vector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lectern-search/lectern/internal/models"
	"github.com/lectern-search/lectern/internal/store"
)

func newManagerStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "m.db"), 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func putBookWithChunks(t *testing.T, s store.Store, bookID string, vecs ...[]float32) {
	t.Helper()
	ctx := context.Background()
	if err := s.PutBook(ctx, &models.Book{ID: bookID, Title: bookID, TotalPages: 50}); err != nil {
		t.Fatal(err)
	}
	chunks := make([]*models.Chunk, len(vecs))
	for i, v := range vecs {
		chunks[i] = &models.Chunk{
			ID: bookID + "#00000" + string(rune('0'+i)), BookID: bookID, Seq: i,
			Text: "text", StartPage: i + 1, EndPage: i + 1,
			CharStart: i * 10, CharEnd: i*10 + 4, Embedding: v,
		}
	}
	if err := s.PutChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestManagerSearchBeforeBuild(t *testing.T) {
	m := NewManager(newManagerStore(t), "", nil)
	_, err := m.Search(context.Background(), []float32{1, 0}, 1)
	if !errors.Is(err, ErrIndexNotReady) {
		t.Errorf("expected ErrIndexNotReady, got %v", err)
	}
}

func TestManagerRebuildEmptyStore(t *testing.T) {
	m := NewManager(newManagerStore(t), "", nil)
	if err := m.Rebuild(context.Background()); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
	// Still not ready after the failed build.
	_, err := m.Search(context.Background(), []float32{1, 0}, 1)
	if !errors.Is(err, ErrIndexNotReady) {
		t.Errorf("expected ErrIndexNotReady, got %v", err)
	}
}

func TestManagerRebuildAndSearch(t *testing.T) {
	s := newManagerStore(t)
	putBookWithChunks(t, s, "b1", []float32{1, 0}, []float32{0, 1})
	m := NewManager(s, "", nil)
	ctx := context.Background()

	if err := m.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Size() != 2 {
		t.Errorf("size = %d", m.Size())
	}
	stale, err := m.IsStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("freshly rebuilt index should not be stale")
	}

	hits, err := m.Search(ctx, []float32{0.9, 0.1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "b1#000000" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestManagerStaleAfterDelete(t *testing.T) {
	s := newManagerStore(t)
	putBookWithChunks(t, s, "b1", []float32{1, 0})
	m := NewManager(s, "", nil)
	ctx := context.Background()

	if err := m.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteBook(ctx, "b1"); err != nil {
		t.Fatal(err)
	}

	stale, err := m.IsStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("index should be stale after store mutation")
	}
	if _, err := m.Search(ctx, []float32{1, 0}, 1); !errors.Is(err, ErrIndexNotReady) {
		t.Errorf("expected ErrIndexNotReady on stale index, got %v", err)
	}
}

func TestManagerPersistence(t *testing.T) {
	s := newManagerStore(t)
	putBookWithChunks(t, s, "b1", []float32{1, 0})
	path := filepath.Join(t.TempDir(), "vectors.idx")
	ctx := context.Background()

	m1 := NewManager(s, path, nil)
	if err := m1.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}

	// A second manager over the same unchanged store trusts the saved index.
	m2 := NewManager(s, path, nil)
	if err := m2.LoadPersisted(ctx); err != nil {
		t.Fatal(err)
	}
	hits, err := m2.Search(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestManagerPersistedStaleIndexNotTrusted(t *testing.T) {
	s := newManagerStore(t)
	putBookWithChunks(t, s, "b1", []float32{1, 0})
	path := filepath.Join(t.TempDir(), "vectors.idx")
	ctx := context.Background()

	m1 := NewManager(s, path, nil)
	if err := m1.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	// Mutate the store after the index was persisted.
	putBookWithChunks(t, s, "b2", []float32{0, 1})

	m2 := NewManager(s, path, nil)
	if err := m2.LoadPersisted(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := m2.Search(ctx, []float32{1, 0}, 1); !errors.Is(err, ErrIndexNotReady) {
		t.Errorf("expected ErrIndexNotReady for stale persisted index, got %v", err)
	}
}
