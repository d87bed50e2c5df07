// Package retriever runs the question-to-passages pipeline: embed the query,
// search the vector index with overfetch, hydrate chunks from the store,
// filter, dedupe near-identical passages, optionally boost with lexical
// matching, and attach citations.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lectern-search/lectern/internal/embedding"
	"github.com/lectern-search/lectern/internal/lexical"
	"github.com/lectern-search/lectern/internal/models"
	"github.com/lectern-search/lectern/internal/store"
	"github.com/lectern-search/lectern/internal/vector"
)

// ErrEmptyQuery is returned when the question is empty or whitespace.
var ErrEmptyQuery = errors.New("empty query")

// Options tune the retrieval pipeline.
type Options struct {
	// TopK is the number of passages returned.
	TopK int
	// Overfetch multiplies TopK for the raw vector search, leaving headroom
	// for filtering and dedupe.
	Overfetch int
	// MinScore drops candidates below this cosine similarity.
	MinScore float64
	// PageGap controls dedupe: two chunks from the same book whose page spans
	// overlap or sit within this many pages of each other count as the same
	// passage, and only the higher-scoring one survives.
	PageGap int
	// LexicalBoost, when positive, blends a normalized lexical match score
	// into the ranking: combined = score + LexicalBoost * lexScore. Zero
	// disables the lexical pass entirely.
	LexicalBoost float64
}

// Retriever answers questions with ranked, cited passages.
type Retriever struct {
	embedder embedding.Embedder
	manager  *vector.Manager
	store    store.Store
	scorer   *lexical.Scorer
	opts     Options
	logger   *zap.Logger
}

// New creates a retriever. scorer may be nil when opts.LexicalBoost is zero;
// logger may be nil.
func New(embedder embedding.Embedder, manager *vector.Manager, st store.Store, scorer *lexical.Scorer, opts Options, logger *zap.Logger) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = 4
	}
	if opts.PageGap < 0 {
		opts.PageGap = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		manager:  manager,
		store:    st,
		scorer:   scorer,
		opts:     opts,
		logger:   logger,
	}
}

type candidate struct {
	chunk *models.Chunk
	score float64
}

// Retrieve returns up to TopK passages for the question, ranked best first
// with dense 1-based ranks. An empty result is not an error: it means the
// collection holds nothing relevant above the score floor.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]*models.RetrievalResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuery
	}

	qvec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fetch := r.opts.TopK * r.opts.Overfetch
	hits, err := r.manager.Search(ctx, qvec, fetch)
	if err != nil {
		if errors.Is(err, vector.ErrIndexNotReady) {
			// An empty collection has no index to build; that is "nothing
			// relevant", not an availability failure.
			n, countErr := r.store.CountChunks(ctx)
			if countErr == nil && n == 0 {
				return nil, nil
			}
		}
		return nil, err
	}

	candidates := make([]candidate, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < r.opts.MinScore {
			continue
		}
		chunk, err := r.store.GetChunk(ctx, hit.ChunkID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// The revision check makes this unreachable in practice, but a
				// dangling hit should not fail the whole query.
				r.logger.Warn("vector hit has no chunk", zap.String("chunk_id", hit.ChunkID))
				continue
			}
			return nil, fmt.Errorf("hydrate chunk %s: %w", hit.ChunkID, err)
		}
		candidates = append(candidates, candidate{chunk: chunk, score: hit.Score})
	}

	candidates = r.dedupe(candidates)

	if r.opts.LexicalBoost > 0 && r.scorer != nil {
		candidates, err = r.boost(ctx, question, candidates)
		if err != nil {
			return nil, err
		}
	}

	if len(candidates) > r.opts.TopK {
		candidates = candidates[:r.opts.TopK]
	}

	titles := make(map[string]string)
	results := make([]*models.RetrievalResult, 0, len(candidates))
	for i, c := range candidates {
		title, ok := titles[c.chunk.BookID]
		if !ok {
			book, err := r.store.GetBook(ctx, c.chunk.BookID)
			if err != nil {
				return nil, fmt.Errorf("resolve citation for %s: %w", c.chunk.ID, err)
			}
			title = book.Title
			titles[c.chunk.BookID] = title
		}
		results = append(results, &models.RetrievalResult{
			ChunkID: c.chunk.ID,
			Text:    c.chunk.Text,
			Score:   c.score,
			Rank:    i + 1,
			Citation: models.Citation{
				BookTitle: title,
				StartPage: c.chunk.StartPage,
				EndPage:   c.chunk.EndPage,
			},
		})
	}

	r.logger.Debug("retrieval complete",
		zap.Int("hits", len(hits)), zap.Int("results", len(results)))
	return results, nil
}

// dedupe collapses candidates from the same book whose page spans overlap or
// sit within PageGap pages of each other, keeping the higher-scoring one.
// Candidates arrive sorted best first, so a linear keep-first scan suffices.
func (r *Retriever) dedupe(candidates []candidate) []candidate {
	kept := candidates[:0]
	for _, c := range candidates {
		dup := false
		for _, k := range kept {
			if k.chunk.BookID != c.chunk.BookID {
				continue
			}
			if pagesNear(k.chunk, c.chunk, r.opts.PageGap) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}
	return kept
}

func pagesNear(a, b *models.Chunk, gap int) bool {
	// Overlapping or within gap pages: a ends close enough to where b starts,
	// in either order.
	return a.StartPage <= b.EndPage+gap && b.StartPage <= a.EndPage+gap
}

// boost re-sorts candidates by score plus the weighted lexical match score.
// Candidate scores are rewritten to the combined value so the returned slice
// stays non-increasing.
func (r *Retriever) boost(ctx context.Context, question string, candidates []candidate) ([]candidate, error) {
	texts := make([]lexical.Candidate, len(candidates))
	for i, c := range candidates {
		texts[i] = lexical.Candidate{ID: c.chunk.ID, Text: c.chunk.Text}
	}
	lexScores, err := r.scorer.Score(ctx, question, texts)
	if err != nil {
		return nil, fmt.Errorf("lexical scoring: %w", err)
	}
	for i := range candidates {
		candidates[i].score += r.opts.LexicalBoost * lexScores[candidates[i].chunk.ID]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunk.ID < candidates[j].chunk.ID
	})
	return candidates, nil
}
