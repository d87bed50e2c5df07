// Package vector provides the in-memory similarity index over chunk embeddings.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/lectern-search/lectern/pkg/utils"
)

var (
	// ErrEmptyCorpus is returned when building an index over zero entries.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrIndexNotReady is returned when searching an unbuilt or stale index.
	ErrIndexNotReady = errors.New("vector index not ready")
	// ErrDegenerateVector is returned for zero vectors, which have no direction
	// and cannot participate in cosine similarity.
	ErrDegenerateVector = errors.New("degenerate zero vector")
)

// Entry is a (chunk ID, embedding) pair fed to Build.
type Entry struct {
	ChunkID string
	Vector  []float32
}

// Hit is a single similarity search result.
type Hit struct {
	ChunkID string
	Score   float64 // cosine similarity; higher is more relevant
}

// Index is an immutable brute-force similarity index. All vectors are
// L2-normalized at build time so inner product equals cosine similarity.
// Derived data: rebuildable at any time from the store, never a source of
// truth for chunk content. The revision records which corpus state it was
// built from.
type Index struct {
	dims     int
	revision int64
	ids      []string
	vectors  [][]float32
}

// Build constructs an index from entries. Entries are sorted by chunk ID so
// that equal-score results tie-break deterministically. Fails with
// ErrEmptyCorpus on zero entries and ErrDegenerateVector on any zero vector.
func Build(entries []Entry, dims int, revision int64) (*Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyCorpus
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkID < sorted[j].ChunkID })

	idx := &Index{
		dims:     dims,
		revision: revision,
		ids:      make([]string, 0, len(sorted)),
		vectors:  make([][]float32, 0, len(sorted)),
	}
	for i, e := range sorted {
		if i > 0 && e.ChunkID == sorted[i-1].ChunkID {
			return nil, fmt.Errorf("duplicate chunk id %s in corpus", e.ChunkID)
		}
		if len(e.Vector) != dims {
			return nil, fmt.Errorf("chunk %s has vector of length %d, index expects %d", e.ChunkID, len(e.Vector), dims)
		}
		if utils.IsZeroVector(e.Vector) {
			return nil, fmt.Errorf("chunk %s: %w", e.ChunkID, ErrDegenerateVector)
		}
		vec := make([]float32, dims)
		copy(vec, e.Vector)
		utils.NormalizeL2(vec)
		idx.ids = append(idx.ids, e.ChunkID)
		idx.vectors = append(idx.vectors, vec)
	}
	return idx, nil
}

// Search returns up to k hits ordered by descending similarity, ties broken by
// ascending chunk ID. The query is normalized before scoring, so for any k the
// result is a prefix of the result for k+1.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dims {
		return nil, fmt.Errorf("query vector has length %d, index expects %d", len(query), x.dims)
	}
	if utils.IsZeroVector(query) {
		return nil, fmt.Errorf("query: %w", ErrDegenerateVector)
	}
	if k <= 0 {
		return nil, nil
	}
	q := make([]float32, x.dims)
	copy(q, query)
	utils.NormalizeL2(q)

	hits := make([]Hit, len(x.ids))
	for i, vec := range x.vectors {
		hits[i] = Hit{ChunkID: x.ids[i], Score: InnerProduct(q, vec)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Size returns the number of indexed vectors.
func (x *Index) Size() int {
	return len(x.ids)
}

// Revision returns the corpus revision the index was built from.
func (x *Index) Revision() int64 {
	return x.revision
}

// Dimensions returns the vector dimensionality.
func (x *Index) Dimensions() int {
	return x.dims
}

// Save persists the index to path. Directory is created if needed.
// Format: dims (4), revision (8), n (4), then per entry: idLen (4), id bytes,
// vector (dims*4 bytes), all little-endian.
func (x *Index) Save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint32(x.dims)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(x.revision)); err != nil {
		return fmt.Errorf("write revision: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(x.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range x.ids {
		idBytes := []byte(id)
		if err := binary.Write(f, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := f.Write(idBytes); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := f.Write(float32sToBytes(x.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads a serialized index from path. Returns (nil, nil) when the file
// does not exist. The dims argument must match the file's dimensionality.
func Load(path string, dims int) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	var fileDims uint32
	if err := binary.Read(f, binary.LittleEndian, &fileDims); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if int(fileDims) != dims {
		return nil, fmt.Errorf("index file has dimension %d, expected %d", fileDims, dims)
	}
	var revision uint64
	if err := binary.Read(f, binary.LittleEndian, &revision); err != nil {
		return nil, fmt.Errorf("read revision: %w", err)
	}
	var n uint32
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	idx := &Index{
		dims:     dims,
		revision: int64(revision),
		ids:      make([]string, 0, n),
		vectors:  make([][]float32, 0, n),
	}
	vecBuf := make([]byte, dims*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(f, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(f, idBytes); err != nil {
			return nil, fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(f, vecBuf); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		idx.ids = append(idx.ids, string(idBytes))
		idx.vectors = append(idx.vectors, bytesToFloat32s(vecBuf))
	}
	return idx, nil
}

func float32sToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
