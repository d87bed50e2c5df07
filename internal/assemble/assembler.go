// Package assemble turns ranked passages into the context block handed to the
// generation service, with citation markers the model can echo back.
package assemble

import (
	"fmt"
	"strings"

	"github.com/lectern-search/lectern/internal/models"
	"github.com/lectern-search/lectern/pkg/utils"
)

// Assembler renders retrieval results into a bounded context block.
type Assembler struct {
	maxContextChars int
}

// New creates an assembler. maxContextChars bounds the rendered context;
// non-positive means unlimited.
func New(maxContextChars int) *Assembler {
	return &Assembler{maxContextChars: maxContextChars}
}

// Assemble renders passages in rank order, each prefixed with a numbered
// citation marker. When the budget is exceeded, the lowest-ranked passages are
// dropped first; rank 1 is always included, truncated if it alone overflows.
// The returned request carries one citation per included passage, in marker
// order.
func (a *Assembler) Assemble(question string, results []*models.RetrievalResult) *models.GenerationRequest {
	req := &models.GenerationRequest{Question: question}
	if len(results) == 0 {
		return req
	}

	var b strings.Builder
	for i, res := range results {
		block := renderPassage(i+1, res)
		if a.maxContextChars > 0 {
			sep := 0
			if b.Len() > 0 {
				sep = 2
			}
			if b.Len()+sep+len(block) > a.maxContextChars {
				if i == 0 {
					block = utils.Truncate(block, a.maxContextChars)
					b.WriteString(block)
					req.Citations = append(req.Citations, res.Citation)
				}
				break
			}
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		req.Citations = append(req.Citations, res.Citation)
	}
	req.Context = b.String()
	return req
}

func renderPassage(marker int, res *models.RetrievalResult) string {
	return fmt.Sprintf("[%d] %s, %s\n%s", marker, res.Citation.BookTitle, res.Citation.PageRange(), res.Text)
}
