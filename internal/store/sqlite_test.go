package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lectern-search/lectern/internal/models"
)

func newTestStore(t *testing.T, dims int) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path, dims)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testChunk(id, bookID string, seq int, embedding []float32) *models.Chunk {
	return &models.Chunk{
		ID: id, BookID: bookID, Seq: seq, Text: "some passage text",
		StartPage: 1, EndPage: 1, CharStart: seq * 10, CharEnd: seq*10 + 10,
		Embedding: embedding,
	}
}

func TestBookCRUD(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()

	book := &models.Book{ID: "b1", Title: "Alice", Author: "Carroll", TotalPages: 120}
	if err := s.PutBook(ctx, book); err != nil {
		t.Fatal(err)
	}
	if book.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if err := s.PutBook(ctx, book); !errors.Is(err, ErrDuplicateBook) {
		t.Errorf("expected ErrDuplicateBook, got %v", err)
	}

	got, err := s.GetBook(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Alice" || got.Author != "Carroll" || got.TotalPages != 120 {
		t.Errorf("got %+v", got)
	}

	if _, err := s.GetBook(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	books, err := s.ListBooks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 {
		t.Errorf("expected 1 book, got %d", len(books))
	}

	if err := s.DeleteBook(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteBook(ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	_ = s.PutBook(ctx, &models.Book{ID: "b1", Title: "T", TotalPages: 10})
	want := &models.Chunk{
		ID: "b1#000000", BookID: "b1", Seq: 0,
		Text:      "Exact text with   spacing\nand newline.",
		StartPage: 3, EndPage: 4, CharStart: 100, CharEnd: 138,
		Embedding: []float32{0.25, -1.5, 3.625},
	}
	if err := s.PutChunks(ctx, []*models.Chunk{want}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetChunk(ctx, "b1#000000")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != want.Text {
		t.Errorf("text round-trip mismatch: %q", got.Text)
	}
	if len(got.Embedding) != 3 {
		t.Fatalf("embedding length %d", len(got.Embedding))
	}
	for i := range want.Embedding {
		if got.Embedding[i] != want.Embedding[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], want.Embedding[i])
		}
	}
	if got.StartPage != 3 || got.EndPage != 4 || got.CharStart != 100 || got.CharEnd != 138 {
		t.Errorf("provenance mismatch: %+v", got)
	}
}

func TestPutChunksDuplicate(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	_ = s.PutBook(ctx, &models.Book{ID: "b1", Title: "T", TotalPages: 1})

	chunks := []*models.Chunk{testChunk("b1#000000", "b1", 0, []float32{1, 0})}
	if err := s.PutChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	err := s.PutChunks(ctx, []*models.Chunk{testChunk("b1#000000", "b1", 0, []float32{0, 1})})
	if !errors.Is(err, ErrDuplicateChunk) {
		t.Errorf("expected ErrDuplicateChunk, got %v", err)
	}
}

func TestPutChunksForeignKeyViolationNotDuplicate(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()

	err := s.PutChunks(ctx, []*models.Chunk{testChunk("ghost#000000", "ghost", 0, []float32{1, 0})})
	if err == nil {
		t.Fatal("expected error for chunk referencing a missing book")
	}
	if errors.Is(err, ErrDuplicateChunk) {
		t.Errorf("foreign key violation reported as duplicate chunk: %v", err)
	}
}

func TestPutChunksDimensionMismatch(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()
	_ = s.PutBook(ctx, &models.Book{ID: "b1", Title: "T", TotalPages: 1})

	err := s.PutChunks(ctx, []*models.Chunk{testChunk("b1#000000", "b1", 0, []float32{1, 0})})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	// Nothing should have been written.
	n, _ := s.CountChunks(ctx)
	if n != 0 {
		t.Errorf("expected 0 chunks, got %d", n)
	}
}

func TestDimensionPinning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinned.db")
	s, err := NewSQLiteStore(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := NewSQLiteStore(path, 16); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on reopen, got %v", err)
	}
	s2, err := NewSQLiteStore(path, 8)
	if err != nil {
		t.Fatalf("reopen with same dims: %v", err)
	}
	s2.Close()
}

func TestReplaceBookSwapsContent(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()

	first := &models.Book{ID: "b1", Title: "First", TotalPages: 1}
	if err := s.ReplaceBook(ctx, first, []*models.Chunk{testChunk("b1#000000", "b1", 0, []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	second := &models.Book{ID: "b1", Title: "Second", TotalPages: 2}
	if err := s.ReplaceBook(ctx, second, []*models.Chunk{testChunk("b1#000001", "b1", 1, []float32{0, 1})}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetBook(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Second" {
		t.Errorf("title = %q", got.Title)
	}
	if _, err := s.GetChunk(ctx, "b1#000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old chunk should be gone, got %v", err)
	}
	if _, err := s.GetChunk(ctx, "b1#000001"); err != nil {
		t.Errorf("new chunk missing: %v", err)
	}
}

func TestReplaceBookFailureLeavesPreviousIntact(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()

	first := &models.Book{ID: "b1", Title: "First", TotalPages: 1}
	if err := s.ReplaceBook(ctx, first, []*models.Chunk{testChunk("b1#000000", "b1", 0, []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	rev, err := s.Revision(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A duplicate ID inside the batch fails the insert mid-transaction; the
	// whole replace must roll back, previous content included.
	bad := &models.Book{ID: "b1", Title: "Second", TotalPages: 1}
	err = s.ReplaceBook(ctx, bad, []*models.Chunk{
		testChunk("b1#000001", "b1", 1, []float32{0, 1}),
		testChunk("b1#000001", "b1", 1, []float32{0, 1}),
	})
	if !errors.Is(err, ErrDuplicateChunk) {
		t.Fatalf("expected ErrDuplicateChunk, got %v", err)
	}

	got, err := s.GetBook(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "First" {
		t.Errorf("previous book lost, title = %q", got.Title)
	}
	if _, err := s.GetChunk(ctx, "b1#000000"); err != nil {
		t.Errorf("previous chunk lost: %v", err)
	}
	n, _ := s.CountChunks(ctx)
	if n != 1 {
		t.Errorf("chunk count = %d, want 1", n)
	}
	if rev2, _ := s.Revision(ctx); rev2 != rev {
		t.Errorf("revision moved on a failed replace: %d -> %d", rev, rev2)
	}
}

func TestDeleteBookCascades(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	_ = s.PutBook(ctx, &models.Book{ID: "b1", Title: "T", TotalPages: 1})
	_ = s.PutChunks(ctx, []*models.Chunk{
		testChunk("b1#000000", "b1", 0, []float32{1, 0}),
		testChunk("b1#000001", "b1", 1, []float32{0, 1}),
	})

	if err := s.DeleteBook(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	n, _ := s.CountChunks(ctx)
	if n != 0 {
		t.Errorf("expected cascade to remove chunks, got %d", n)
	}
	if _, err := s.GetChunk(ctx, "b1#000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevisionBumpsOnMutation(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()

	rev0, err := s.Revision(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rev0 != 0 {
		t.Errorf("fresh store revision = %d", rev0)
	}

	_ = s.PutBook(ctx, &models.Book{ID: "b1", Title: "T", TotalPages: 1})
	rev1, _ := s.Revision(ctx)
	if rev1 <= rev0 {
		t.Errorf("revision did not advance after PutBook: %d", rev1)
	}

	_ = s.PutChunks(ctx, []*models.Chunk{testChunk("b1#000000", "b1", 0, []float32{1, 0})})
	rev2, _ := s.Revision(ctx)
	if rev2 <= rev1 {
		t.Errorf("revision did not advance after PutChunks: %d", rev2)
	}

	_ = s.DeleteBook(ctx, "b1")
	rev3, _ := s.Revision(ctx)
	if rev3 <= rev2 {
		t.Errorf("revision did not advance after DeleteBook: %d", rev3)
	}
}

func TestAllChunksStreams(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	_ = s.PutBook(ctx, &models.Book{ID: "b1", Title: "T", TotalPages: 1})
	_ = s.PutChunks(ctx, []*models.Chunk{
		testChunk("b1#000000", "b1", 0, []float32{1, 0}),
		testChunk("b1#000001", "b1", 1, []float32{0, 1}),
	})

	var ids []string
	err := s.AllChunks(ctx, func(ch *models.Chunk) error {
		ids = append(ids, ch.ID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "b1#000000" || ids[1] != "b1#000001" {
		t.Errorf("ids = %v", ids)
	}

	stop := errors.New("stop")
	count := 0
	err = s.AllChunks(ctx, func(ch *models.Chunk) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) || count != 1 {
		t.Errorf("expected early stop after 1, got count=%d err=%v", count, err)
	}
}

func TestGetBookBySourcePath(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	_ = s.PutBook(ctx, &models.Book{
		ID: "b1", Title: "T", TotalPages: 1,
		SourcePath: "/library/alice.pdf", SourceMtime: 42, SourceSize: 1000,
	})

	got, err := s.GetBookBySourcePath(ctx, "/library/alice.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "b1" || got.SourceMtime != 42 {
		t.Errorf("got %+v", got)
	}
	if _, err := s.GetBookBySourcePath(ctx, "/library/other.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
