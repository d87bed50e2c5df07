// Package models defines core data structures for books, chunks, and retrieval results.
package models

import "time"

// Book is a single work in the private collection. Created once at ingestion
// and immutable thereafter; removed only by explicit deletion, which cascades
// to its chunks.
type Book struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Author     string    `json:"author,omitempty"`
	TotalPages int       `json:"total_pages"`
	// Source* fields tie a book to the file it was ingested from, for
	// incremental sync. Empty for books ingested through the API.
	SourcePath  string    `json:"source_path,omitempty"`
	SourceMtime int64     `json:"source_mtime,omitempty"`
	SourceSize  int64     `json:"source_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is a bounded contiguous span of a book's text with provenance and,
// once embedded, a fixed-dimension embedding vector. Immutable after it is
// written to the store.
type Chunk struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	StartPage int       `json:"start_page"`
	EndPage   int       `json:"end_page"`
	CharStart int       `json:"char_start"`
	CharEnd   int       `json:"char_end"`
	Embedding []float32 `json:"-"`
}
