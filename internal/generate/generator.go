// Package generate provides the gateway to the external answer generation
// service. Retrieval works without it; generation only consumes the assembled
// context.
package generate

import (
	"context"
	"errors"

	"github.com/lectern-search/lectern/internal/models"
)

// ErrService is returned when the generation service fails.
var ErrService = errors.New("generation service error")

// Generator produces an answer grounded in the assembled context.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerationRequest) (string, error)
	Close() error
}
