package generate

import (
	"context"
	"fmt"

	"github.com/lectern-search/lectern/internal/models"
)

// MockGenerator is a deterministic generator for tests and offline use. It
// echoes the question and names the cited sources.
type MockGenerator struct{}

// NewMockGenerator returns a generator that never calls a network service.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate returns a canned answer referencing the citations.
func (g *MockGenerator) Generate(ctx context.Context, req *models.GenerationRequest) (string, error) {
	if len(req.Citations) == 0 {
		return fmt.Sprintf("No passages in the collection answer %q.", req.Question), nil
	}
	answer := fmt.Sprintf("Answer to %q based on %d passage(s):", req.Question, len(req.Citations))
	for i, c := range req.Citations {
		answer += fmt.Sprintf(" [%d] %s, %s.", i+1, c.BookTitle, c.PageRange())
	}
	return answer, nil
}

// Close is a no-op.
func (g *MockGenerator) Close() error {
	return nil
}
