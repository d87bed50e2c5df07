package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lectern-search/lectern/internal/models"
)

// ErrEmptyInput is returned when there is no text to chunk.
var ErrEmptyInput = errors.New("empty input text")

// Chunker splits text into overlapping passages bounded by chunkSize characters.
// Splitting prefers sentence boundaries; a single sentence longer than the
// chunk size falls back to fixed-size character windows. Chunking is
// deterministic: the same text and configuration always yield the same
// boundaries.
type Chunker struct {
	chunkSize int
	overlap   int
}

// DefaultChunkSize is the default passage size in characters.
const DefaultChunkSize = 1000

// New creates a chunker with the given target size and overlap in characters.
// Non-positive sizes fall back to DefaultChunkSize; an overlap that is not
// smaller than the chunk size is clamped to a quarter of it.
func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// unit is a sentence (or sentence fragment from window fallback) with its
// character extent in the original text.
type unit struct {
	start, end int
}

// Chunk splits text into Chunks for bookID, resolving page ranges through pm.
// The returned chunks carry no embeddings. Chunk IDs are "<bookID>#<seq>" with
// a zero-padded sequence so lexicographic order matches chunk order.
func (c *Chunker) Chunk(text, bookID string, pm *PageMap) ([]*models.Chunk, error) {
	if len(text) == 0 {
		return nil, fmt.Errorf("book %s: %w", bookID, ErrEmptyInput)
	}
	units := c.splitUnits(text)
	if len(units) == 0 {
		return nil, fmt.Errorf("book %s has no sentences: %w", bookID, ErrEmptyInput)
	}

	var chunks []*models.Chunk
	startIdx := 0
	for startIdx < len(units) {
		start := units[startIdx].start
		endIdx := startIdx
		for endIdx+1 < len(units) && units[endIdx+1].end-start <= c.chunkSize {
			endIdx++
		}
		end := units[endIdx].end

		seq := len(chunks)
		startPage, err := pm.PageAt(start)
		if err != nil {
			return nil, err
		}
		endPage, err := pm.PageAt(end - 1)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, &models.Chunk{
			ID:        ChunkID(bookID, seq),
			BookID:    bookID,
			Seq:       seq,
			Text:      text[start:end],
			StartPage: startPage,
			EndPage:   endPage,
			CharStart: start,
			CharEnd:   end,
		})

		if endIdx == len(units)-1 {
			break
		}
		startIdx = c.nextStart(units, startIdx, end)
	}
	return chunks, nil
}

// ChunkID returns the chunk identifier for the given book and sequence number.
func ChunkID(bookID string, seq int) string {
	return fmt.Sprintf("%s#%06d", bookID, seq)
}

// nextStart picks the first unit of the following chunk: the latest unit
// starting within the overlap window at the tail of the current chunk, so
// consecutive chunks repeat a suffix of their predecessor. Always advances
// past prevIdx.
func (c *Chunker) nextStart(units []unit, prevIdx, chunkEnd int) int {
	target := chunkEnd - c.overlap
	next := prevIdx + 1
	for i := len(units) - 1; i > prevIdx; i-- {
		if units[i].start <= target && units[i].start < chunkEnd {
			next = i
			break
		}
	}
	return next
}

// splitUnits segments text into sentence units, then splits any unit longer
// than the chunk size into fixed-size character windows. Window boundaries
// are backed off to rune starts so a chunk never begins or ends inside a
// multi-byte rune.
func (c *Chunker) splitUnits(text string) []unit {
	sentences := splitSentences(text)
	units := make([]unit, 0, len(sentences))
	step := c.chunkSize - c.overlap
	if step <= 0 {
		step = 1
	}
	for _, s := range sentences {
		if s.end-s.start <= c.chunkSize {
			units = append(units, s)
			continue
		}
		off := s.start
		for {
			end := off + c.chunkSize
			if end >= s.end {
				units = append(units, unit{start: off, end: s.end})
				break
			}
			for end > off && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == off {
				_, n := utf8.DecodeRuneInString(text[off:])
				end = off + n
			}
			units = append(units, unit{start: off, end: end})
			next := off + step
			if next > end {
				next = end
			}
			for next < end && !utf8.RuneStart(text[next]) {
				next++
			}
			off = next
		}
	}
	return units
}

// splitSentences scans text for sentence boundaries: a '.', '!', or '?'
// (optionally followed by closing quotes or brackets) before whitespace, or a
// paragraph break. Whitespace-only spans are skipped.
func splitSentences(text string) []unit {
	var units []unit
	start := -1
	i := 0
	for i < len(text) {
		ch := text[i]
		if start < 0 {
			if !isSpaceByte(ch) {
				start = i
			}
			i++
			continue
		}
		switch {
		case ch == '.' || ch == '!' || ch == '?':
			end := i + 1
			for end < len(text) && isClosingByte(text[end]) {
				end++
			}
			if end >= len(text) || isSpaceByte(text[end]) {
				units = append(units, unit{start: start, end: end})
				start = -1
				i = end
				continue
			}
			i++
		case ch == '\n' && i+1 < len(text) && text[i+1] == '\n':
			units = append(units, unit{start: start, end: i})
			start = -1
			i += 2
		default:
			i++
		}
	}
	if start >= 0 {
		end := len(text)
		for end > start && isSpaceByte(text[end-1]) {
			end--
		}
		if end > start {
			units = append(units, unit{start: start, end: end})
		}
	}
	return units
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isClosingByte(b byte) bool {
	return b == '"' || b == '\'' || b == ')' || b == ']'
}

// Normalize collapses runs of whitespace in s to single spaces and trims the
// ends. Used on chunk text before embedding, never on stored text.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
