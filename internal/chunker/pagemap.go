// Package chunker splits book text into overlapping, provenance-carrying passages.
package chunker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPageMap is returned when a character offset has no page mapping.
var ErrInvalidPageMap = errors.New("offset outside page map")

// PageSpan marks the character offset at which a page begins.
type PageSpan struct {
	Start int
	Page  int
}

// PageMap is a monotonic mapping from character offsets of a book's full text
// to page numbers. It is an explicit, pure lookup structure: page boundaries
// are recorded at construction, never inferred from formatting.
type PageMap struct {
	spans   []PageSpan
	textLen int
}

// NewPageMap builds a PageMap from spans covering [0, textLen). Spans must be
// non-empty, start at offset 0, and be strictly increasing in both offset and
// page number.
func NewPageMap(spans []PageSpan, textLen int) (*PageMap, error) {
	if len(spans) == 0 {
		return nil, fmt.Errorf("page map needs at least one span: %w", ErrInvalidPageMap)
	}
	if spans[0].Start != 0 {
		return nil, fmt.Errorf("first span must start at offset 0, got %d: %w", spans[0].Start, ErrInvalidPageMap)
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Start <= spans[i-1].Start || spans[i].Page <= spans[i-1].Page {
			return nil, fmt.Errorf("spans must be strictly increasing at index %d: %w", i, ErrInvalidPageMap)
		}
	}
	if textLen <= 0 || spans[len(spans)-1].Start >= textLen {
		return nil, fmt.Errorf("text length %d does not cover spans: %w", textLen, ErrInvalidPageMap)
	}
	out := make([]PageSpan, len(spans))
	copy(out, spans)
	return &PageMap{spans: out, textLen: textLen}, nil
}

// PageAt returns the page number containing the given character offset.
func (m *PageMap) PageAt(offset int) (int, error) {
	if offset < 0 || offset >= m.textLen {
		return 0, fmt.Errorf("offset %d out of range [0,%d): %w", offset, m.textLen, ErrInvalidPageMap)
	}
	// First span with Start > offset; the one before it contains the offset.
	i := sort.Search(len(m.spans), func(i int) bool { return m.spans[i].Start > offset })
	return m.spans[i-1].Page, nil
}

// LastPage returns the highest page number in the map.
func (m *PageMap) LastPage() int {
	return m.spans[len(m.spans)-1].Page
}

// JoinPages concatenates per-page texts (page numbers starting at 1) into a
// single string separated by newlines and returns the matching PageMap.
// Pages that are empty still occupy a span so their numbering is preserved.
func JoinPages(pageTexts []string) (string, *PageMap, error) {
	if len(pageTexts) == 0 {
		return "", nil, fmt.Errorf("no pages: %w", ErrInvalidPageMap)
	}
	var b strings.Builder
	spans := make([]PageSpan, 0, len(pageTexts))
	for i, text := range pageTexts {
		spans = append(spans, PageSpan{Start: b.Len(), Page: i + 1})
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}
	full := b.String()
	pm, err := NewPageMap(spans, len(full))
	if err != nil {
		return "", nil, err
	}
	return full, pm, nil
}

// SinglePageMap maps all of a text of the given length to page 1. Used for
// books ingested from sources without page structure.
func SinglePageMap(textLen int) (*PageMap, error) {
	return NewPageMap([]PageSpan{{Start: 0, Page: 1}}, textLen)
}
