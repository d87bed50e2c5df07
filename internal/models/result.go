package models

import "fmt"

// Citation points a retrieved passage back to its place in the collection.
type Citation struct {
	BookTitle string `json:"book_title"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

// PageRange renders the citation's page span, e.g. "p. 12" or "pp. 10-12".
func (c Citation) PageRange() string {
	if c.StartPage == c.EndPage {
		return fmt.Sprintf("p. %d", c.StartPage)
	}
	return fmt.Sprintf("pp. %d-%d", c.StartPage, c.EndPage)
}

// RetrievalResult is one ranked passage returned for a question.
// Ranks are dense and 1-based; scores are non-increasing with rank.
type RetrievalResult struct {
	ChunkID  string   `json:"chunk_id"`
	Text     string   `json:"text"`
	Score    float64  `json:"score"`
	Rank     int      `json:"rank"`
	Citation Citation `json:"citation"`
}

// GenerationRequest is the context block handed to the generation service.
type GenerationRequest struct {
	Question  string     `json:"question"`
	Context   string     `json:"context"`
	Citations []Citation `json:"citations"`
}
