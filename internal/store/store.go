// Package store defines durable persistence for books and their embedded chunks.
package store

import (
	"context"
	"errors"

	"github.com/lectern-search/lectern/internal/models"
)

var (
	// ErrNotFound is returned when a book or chunk does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateChunk is returned when a chunk ID collides within a book.
	ErrDuplicateChunk = errors.New("duplicate chunk id")
	// ErrDuplicateBook is returned when a book ID already exists.
	ErrDuplicateBook = errors.New("duplicate book id")
	// ErrDimensionMismatch is returned when an embedding's dimensionality does
	// not match the store's declared dimension. A store is bound to exactly one
	// embedding dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Store is the system of record for books and chunks. Chunks arrive with their
// embeddings already computed; the store never calls the embedding service.
// Every mutation bumps the corpus revision, which the vector index uses to
// detect staleness.
type Store interface {
	PutBook(ctx context.Context, book *models.Book) error
	GetBook(ctx context.Context, id string) (*models.Book, error)
	GetBookBySourcePath(ctx context.Context, path string) (*models.Book, error)
	ListBooks(ctx context.Context) ([]*models.Book, error)
	// DeleteBook removes a book and cascades to all of its chunks.
	DeleteBook(ctx context.Context, id string) error
	// ReplaceBook writes a book and its chunks in one transaction, removing
	// any existing book with the same ID first. On failure the previous book
	// is untouched; a book row without its chunks is never committed.
	ReplaceBook(ctx context.Context, book *models.Book, chunks []*models.Chunk) error

	// PutChunks inserts a batch of chunks in a single transaction, so a
	// partially written chunk row is never observable.
	PutChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksForBook(ctx context.Context, bookID string) ([]*models.Chunk, error)
	// AllChunks streams every chunk to fn, one row at a time. Used only for
	// index (re)builds. Iteration stops at the first error from fn.
	AllChunks(ctx context.Context, fn func(*models.Chunk) error) error

	CountBooks(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	// Revision returns the corpus revision, a monotonic counter bumped on
	// every mutation.
	Revision(ctx context.Context) (int64, error)
	// Dimensions returns the embedding dimensionality this store is bound to.
	Dimensions() int

	Close() error
}
