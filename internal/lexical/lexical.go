// Package lexical scores retrieval candidates against the query text using a
// throwaway in-memory Bleve index. The scores are used as an optional boost on
// top of vector similarity; the package never persists anything.
package lexical

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// Candidate is one chunk to score.
type Candidate struct {
	ID   string
	Text string
}

// Scorer builds a per-query index over candidates and returns match scores.
type Scorer struct{}

// NewScorer returns a lexical scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score indexes the candidate texts in memory and runs a match query against
// them. It returns a map from candidate ID to a score normalized into [0, 1],
// where 1 is the best lexical match. Candidates with no lexical overlap are
// absent from the map.
func (s *Scorer) Score(ctx context.Context, query string, candidates []Candidate) (map[string]float64, error) {
	if len(candidates) == 0 || query == "" {
		return map[string]float64{}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so query words
	// match the exact words in the chunk text.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	defer index.Close()

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := index.Index(c.ID, map[string]string{"text": c.Text}); err != nil {
			return nil, fmt.Errorf("failed to index candidate %s: %w", c.ID, err)
		}
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = len(candidates)
	results, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	out := make(map[string]float64, len(results.Hits))
	if len(results.Hits) == 0 {
		return out, nil
	}
	max := results.Hits[0].Score
	for _, hit := range results.Hits {
		if hit.Score > max {
			max = hit.Score
		}
	}
	for _, hit := range results.Hits {
		if max > 0 {
			out[hit.ID] = hit.Score / max
		}
	}
	return out, nil
}
