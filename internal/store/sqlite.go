package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/lectern-search/lectern/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	dims int
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. The store is pinned to the given embedding dimensionality on
// first open; reopening with a different dimensionality fails with
// ErrDimensionMismatch. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, dims int) (*SQLiteStore, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// Pragmas go in the DSN so every pooled connection gets them; a plain
	// Exec would only configure whichever connection it happened to grab.
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := pinDimensions(db, dims); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, dims: dims}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		total_pages INTEGER NOT NULL,
		source_path TEXT NOT NULL DEFAULT '',
		source_mtime INTEGER NOT NULL DEFAULT 0,
		source_size INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_books_source_path ON books(source_path);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		start_page INTEGER NOT NULL,
		end_page INTEGER NOT NULL,
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE,
		UNIQUE (book_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_book_id ON chunks(book_id);
	`
	_, err := db.Exec(schema)
	return err
}

const (
	metaKeyDimensions = "dimensions"
	metaKeyRevision   = "corpus_revision"
)

// pinDimensions records the dimensionality on first open and verifies it on
// subsequent opens.
func pinDimensions(db *sql.DB, dims int) error {
	var stored string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaKeyDimensions).Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, metaKeyDimensions, strconv.Itoa(dims))
		return err
	}
	if err != nil {
		return err
	}
	got, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("corrupt dimensions value %q: %w", stored, err)
	}
	if got != dims {
		return fmt.Errorf("store has dimension %d, requested %d: %w", got, dims, ErrDimensionMismatch)
	}
	return nil
}

// bumpRevision increments the corpus revision within tx.
func bumpRevision(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, '1')
		 ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)`,
		metaKeyRevision)
	return err
}

// PutBook inserts a book. The row is immutable once written.
func (s *SQLiteStore) PutBook(ctx context.Context, book *models.Book) error {
	if book.ID == "" || book.Title == "" {
		return fmt.Errorf("book needs id and title")
	}
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO books (id, title, author, total_pages, source_path, source_mtime, source_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.Title, book.Author, book.TotalPages,
		book.SourcePath, book.SourceMtime, book.SourceSize, book.CreatedAt)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("book %s: %w", book.ID, ErrDuplicateBook)
		}
		return err
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

const bookColumns = `id, title, author, total_pages, source_path, source_mtime, source_size, created_at`

func scanBook(row interface{ Scan(...any) error }) (*models.Book, error) {
	var b models.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.TotalPages,
		&b.SourcePath, &b.SourceMtime, &b.SourceSize, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBook returns a book by ID.
func (s *SQLiteStore) GetBook(ctx context.Context, id string) (*models.Book, error) {
	book, err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	return book, err
}

// GetBookBySourcePath returns the book ingested from the given file path.
func (s *SQLiteStore) GetBookBySourcePath(ctx context.Context, path string) (*models.Book, error) {
	book, err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE source_path = ? AND source_path != ''`, path))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("book at %s: %w", path, ErrNotFound)
	}
	return book, err
}

// ListBooks returns all books ordered by title.
func (s *SQLiteStore) ListBooks(ctx context.Context) ([]*models.Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books ORDER BY title, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// DeleteBook removes a book; the foreign key cascade removes its chunks.
func (s *SQLiteStore) DeleteBook(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// validateChunks checks every chunk against the store's dimensionality and
// invariants before any row is written.
func (s *SQLiteStore) validateChunks(chunks []*models.Chunk) error {
	for _, ch := range chunks {
		if ch.Text == "" {
			return fmt.Errorf("chunk %s has empty text", ch.ID)
		}
		if ch.StartPage > ch.EndPage {
			return fmt.Errorf("chunk %s has start page %d after end page %d", ch.ID, ch.StartPage, ch.EndPage)
		}
		if ch.CharStart >= ch.CharEnd {
			return fmt.Errorf("chunk %s has empty char range [%d,%d)", ch.ID, ch.CharStart, ch.CharEnd)
		}
		if len(ch.Embedding) != s.dims {
			return fmt.Errorf("chunk %s has embedding of length %d, store expects %d: %w",
				ch.ID, len(ch.Embedding), s.dims, ErrDimensionMismatch)
		}
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []*models.Chunk) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, book_id, seq, text, start_page, end_page, char_start, char_end, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		_, err := stmt.ExecContext(ctx, ch.ID, ch.BookID, ch.Seq, ch.Text,
			ch.StartPage, ch.EndPage, ch.CharStart, ch.CharEnd, encodeEmbedding(ch.Embedding))
		if err != nil {
			if isUniqueConstraintErr(err) {
				return fmt.Errorf("chunk %s: %w", ch.ID, ErrDuplicateChunk)
			}
			return err
		}
	}
	return nil
}

// PutChunks inserts chunks in one transaction.
func (s *SQLiteStore) PutChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.validateChunks(chunks); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceBook atomically swaps in a book and its chunks: any existing book
// with the same ID is removed, then the book row and all chunk rows are
// written, in a single transaction. On failure nothing is committed, so the
// previously stored book survives and a book row without its chunks is never
// observable.
func (s *SQLiteStore) ReplaceBook(ctx context.Context, book *models.Book, chunks []*models.Chunk) error {
	if book.ID == "" || book.Title == "" {
		return fmt.Errorf("book needs id and title")
	}
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now()
	}
	if err := s.validateChunks(chunks); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, book.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO books (id, title, author, total_pages, source_path, source_mtime, source_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.Title, book.Author, book.TotalPages,
		book.SourcePath, book.SourceMtime, book.SourceSize, book.CreatedAt)
	if err != nil {
		return err
	}
	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

const chunkColumns = `id, book_id, seq, text, start_page, end_page, char_start, char_end, embedding`

func scanChunk(row interface{ Scan(...any) error }) (*models.Chunk, error) {
	var ch models.Chunk
	var blob []byte
	err := row.Scan(&ch.ID, &ch.BookID, &ch.Seq, &ch.Text,
		&ch.StartPage, &ch.EndPage, &ch.CharStart, &ch.CharEnd, &blob)
	if err != nil {
		return nil, err
	}
	ch.Embedding = decodeEmbedding(blob)
	return &ch, nil
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	ch, err := scanChunk(s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return ch, err
}

// GetChunksForBook returns all chunks of a book ordered by sequence.
func (s *SQLiteStore) GetChunksForBook(ctx context.Context, bookID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE book_id = ? ORDER BY seq`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// AllChunks streams every chunk to fn in chunk ID order.
func (s *SQLiteStore) AllChunks(ctx context.Context, fn func(*models.Chunk) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return err
		}
		if err := fn(ch); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountBooks returns the total number of books.
func (s *SQLiteStore) CountBooks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n)
	return n, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStore) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Revision returns the corpus revision; zero for a store never written to.
func (s *SQLiteStore) Revision(ctx context.Context) (int64, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, metaKeyRevision).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// Dimensions returns the embedding dimensionality the store is bound to.
func (s *SQLiteStore) Dimensions() int {
	return s.dims
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueConstraintErr reports whether err is a unique or primary key
// violation. Other constraint failures, foreign keys in particular, must not
// be mistaken for duplicate IDs.
func isUniqueConstraintErr(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// encodeEmbedding serializes a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(f))
	}
	return out
}

// decodeEmbedding deserializes a little-endian float32 vector.
func decodeEmbedding(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
