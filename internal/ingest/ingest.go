// Package ingest turns book files into stored, embedded chunks: extract page
// texts, chunk them, embed the chunks, and write book and chunks to the store.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lectern-search/lectern/internal/bookid"
	"github.com/lectern-search/lectern/internal/chunker"
	"github.com/lectern-search/lectern/internal/embedding"
	"github.com/lectern-search/lectern/internal/extract"
	"github.com/lectern-search/lectern/internal/models"
	"github.com/lectern-search/lectern/internal/store"
)

// ingestWorkers bounds concurrent file ingestion. Embedding calls dominate
// the cost, so a small pool keeps the service busy without flooding it.
const ingestWorkers = 4

// Ingestor ingests books into the store.
type Ingestor struct {
	store     store.Store
	embedder  embedding.Embedder
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	logger    *zap.Logger
}

// New creates an ingestor. logger may be nil.
func New(st store.Store, embedder embedding.Embedder, extractor *extract.Extractor, ck *chunker.Chunker, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		store:     st,
		embedder:  embedder,
		extractor: extractor,
		chunker:   ck,
		logger:    logger,
	}
}

// IngestFile ingests a single file. The book ID is derived from the absolute
// path, so re-ingesting a changed file replaces its book. Returns the book
// and whether anything was written; an unchanged file (same path, mtime, and
// size as the stored book) is skipped.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (*models.Book, bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, false, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, fmt.Errorf("not a regular file: %s", absPath)
	}
	if !ing.extractor.Supported(filepath.Ext(absPath)) {
		return nil, false, fmt.Errorf("unsupported format %q", filepath.Ext(absPath))
	}

	id := bookid.FromPath(absPath)
	if existing, err := ing.store.GetBook(ctx, id); err == nil {
		if existing.SourcePath == absPath &&
			existing.SourceMtime == info.ModTime().UnixNano() &&
			existing.SourceSize == info.Size() {
			ing.logger.Debug("skipping unchanged file", zap.String("path", absPath))
			return existing, false, nil
		}
	}

	pages, err := ing.extractor.Extract(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("extract %s: %w", absPath, err)
	}
	text, pm, err := chunker.JoinPages(pages)
	if err != nil {
		return nil, false, fmt.Errorf("join pages of %s: %w", absPath, err)
	}

	book := &models.Book{
		ID:          id,
		Title:       titleFromPath(absPath),
		TotalPages:  len(pages),
		SourcePath:  absPath,
		SourceMtime: info.ModTime().UnixNano(),
		SourceSize:  info.Size(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := ing.ingest(ctx, book, text, pm); err != nil {
		return nil, false, err
	}
	ing.logger.Info("book ingested",
		zap.String("book_id", id), zap.String("path", absPath), zap.Int("pages", len(pages)))
	return book, true, nil
}

// IngestText ingests raw text supplied through the API as a single-page book
// with a random ID.
func (ing *Ingestor) IngestText(ctx context.Context, title, author, text string) (*models.Book, error) {
	book := &models.Book{
		ID:         "book:" + uuid.New().String(),
		Title:      title,
		Author:     author,
		TotalPages: 1,
		CreatedAt:  time.Now().UTC(),
	}
	pm, err := chunker.SinglePageMap(len(text))
	if err != nil {
		return nil, err
	}
	if err := ing.ingest(ctx, book, text, pm); err != nil {
		return nil, err
	}
	ing.logger.Info("text ingested", zap.String("book_id", book.ID), zap.String("title", title))
	return book, nil
}

// ingest chunks and embeds text, then replaces any existing book with the
// same ID. The book and its chunks land in one store transaction, so a
// failure at any point leaves the previous book intact and never commits a
// book without its content. That matters for the skip-unchanged check: a
// stored book row is proof of a complete ingest.
func (ing *Ingestor) ingest(ctx context.Context, book *models.Book, text string, pm *chunker.PageMap) error {
	chunks, err := ing.chunker.Chunk(text, book.ID, pm)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", book.ID, err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = chunker.Normalize(ch.Text)
	}
	embeddings, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	if err := ing.store.ReplaceBook(ctx, book, chunks); err != nil {
		return fmt.Errorf("store book: %w", err)
	}
	return nil
}

// DirStats summarizes a directory ingestion or sync run.
type DirStats struct {
	Ingested int
	Skipped  int
	Deleted  int
	Failed   int
}

// IngestDir walks dir recursively and ingests every supported file through a
// small worker pool. Per-file failures are logged and counted, not fatal.
func (ing *Ingestor) IngestDir(ctx context.Context, dir string) (DirStats, error) {
	var stats DirStats
	files, err := ing.listFiles(dir)
	if err != nil {
		return stats, err
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		paths = make(chan string)
	)
	for i := 0; i < ingestWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				_, ingested, err := ing.IngestFile(ctx, path)
				mu.Lock()
				switch {
				case err != nil:
					stats.Failed++
					ing.logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
				case ingested:
					stats.Ingested++
				default:
					stats.Skipped++
				}
				mu.Unlock()
			}
		}()
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			close(paths)
			wg.Wait()
			return stats, ctx.Err()
		case paths <- path:
		}
	}
	close(paths)
	wg.Wait()
	return stats, nil
}

// Sync reconciles the store with the given library directories: new and
// changed files are ingested, unchanged files are skipped, and books whose
// source file disappeared are deleted. Books without a source path (API
// ingested) are never touched.
func (ing *Ingestor) Sync(ctx context.Context, dirs []string) (DirStats, error) {
	var stats DirStats
	onDisk := make(map[string]bool)
	for _, dir := range dirs {
		dirStats, err := ing.IngestDir(ctx, dir)
		stats.Ingested += dirStats.Ingested
		stats.Skipped += dirStats.Skipped
		stats.Failed += dirStats.Failed
		if err != nil {
			return stats, err
		}
		files, err := ing.listFiles(dir)
		if err != nil {
			return stats, err
		}
		for _, f := range files {
			onDisk[f] = true
		}
	}

	books, err := ing.store.ListBooks(ctx)
	if err != nil {
		return stats, err
	}
	for _, book := range books {
		if book.SourcePath == "" || onDisk[book.SourcePath] {
			continue
		}
		if !underAny(book.SourcePath, dirs) {
			continue
		}
		if err := ing.store.DeleteBook(ctx, book.ID); err != nil {
			return stats, fmt.Errorf("delete book %s: %w", book.ID, err)
		}
		stats.Deleted++
		ing.logger.Info("book removed, source file gone",
			zap.String("book_id", book.ID), zap.String("path", book.SourcePath))
	}
	return stats, nil
}

// Delete removes a book and its chunks.
func (ing *Ingestor) Delete(ctx context.Context, bookID string) error {
	return ing.store.DeleteBook(ctx, bookID)
}

func (ing *Ingestor) listFiles(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var files []string
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !ing.extractor.Supported(filepath.Ext(path)) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func underAny(path string, dirs []string) bool {
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// titleFromPath derives a display title from the file name: extension
// stripped, underscores as spaces.
func titleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ReplaceAll(base, "_", " ")
}
