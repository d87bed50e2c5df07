// Package embedding provides the gateway to the external embedding service.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrService is returned on transport or quota failure after retries are
	// exhausted.
	ErrService = errors.New("embedding service error")
	// ErrTimeout is returned when the service did not answer in time. Kept
	// distinct from ErrService so callers can tell a slow service from a
	// broken one.
	ErrTimeout = errors.New("embedding service timeout")
)

// Embedder produces vector embeddings for text. Implementations are
// deterministic for identical input and model version, and return vectors of
// exactly Dimensions() components.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
