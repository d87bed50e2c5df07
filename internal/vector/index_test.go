package vector

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestBuildEmptyCorpus(t *testing.T) {
	if _, err := Build(nil, 2, 1); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestBuildRejectsZeroVector(t *testing.T) {
	entries := []Entry{{ChunkID: "a", Vector: []float32{0, 0}}}
	if _, err := Build(entries, 2, 1); !errors.Is(err, ErrDegenerateVector) {
		t.Errorf("expected ErrDegenerateVector, got %v", err)
	}
}

func TestBuildRejectsDimensionMismatch(t *testing.T) {
	entries := []Entry{{ChunkID: "a", Vector: []float32{1, 0, 0}}}
	if _, err := Build(entries, 2, 1); err == nil {
		t.Error("expected error for wrong dimension")
	}
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	entries := []Entry{
		{ChunkID: "a", Vector: []float32{1, 0}},
		{ChunkID: "a", Vector: []float32{0, 1}},
	}
	if _, err := Build(entries, 2, 1); err == nil {
		t.Error("expected error for duplicate chunk id")
	}
}

func TestSearchOrderingAndScores(t *testing.T) {
	entries := []Entry{
		{ChunkID: "x", Vector: []float32{1, 0}},
		{ChunkID: "y", Vector: []float32{0, 1}},
		{ChunkID: "z", Vector: []float32{1, 1}},
	}
	idx, err := Build(entries, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search([]float32{0.9, 0.1}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits", len(hits))
	}
	if hits[0].ChunkID != "x" {
		t.Errorf("top hit = %s", hits[0].ChunkID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("scores increase at %d: %f > %f", i, hits[i].Score, hits[i-1].Score)
		}
	}
}

func TestSearchPrefixStability(t *testing.T) {
	entries := []Entry{
		{ChunkID: "a", Vector: []float32{1, 0}},
		{ChunkID: "b", Vector: []float32{0.8, 0.2}},
		{ChunkID: "c", Vector: []float32{0.5, 0.5}},
		{ChunkID: "d", Vector: []float32{0.2, 0.8}},
		{ChunkID: "e", Vector: []float32{0, 1}},
	}
	idx, err := Build(entries, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	query := []float32{0.7, 0.3}
	for k := 1; k < 5; k++ {
		small, err := idx.Search(query, k)
		if err != nil {
			t.Fatal(err)
		}
		large, err := idx.Search(query, k+1)
		if err != nil {
			t.Fatal(err)
		}
		for i := range small {
			if small[i].ChunkID != large[i].ChunkID {
				t.Errorf("k=%d: result %d differs: %s vs %s", k, i, small[i].ChunkID, large[i].ChunkID)
			}
		}
	}
}

func TestSearchTieBreakByChunkID(t *testing.T) {
	// Identical vectors score identically; order must be ascending chunk ID.
	entries := []Entry{
		{ChunkID: "b", Vector: []float32{1, 0}},
		{ChunkID: "a", Vector: []float32{1, 0}},
		{ChunkID: "c", Vector: []float32{1, 0}},
	}
	idx, err := Build(entries, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search([]float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if hits[i].ChunkID != w {
			t.Errorf("hit %d = %s, want %s", i, hits[i].ChunkID, w)
		}
	}
}

func TestSearchNormalizesQuery(t *testing.T) {
	entries := []Entry{{ChunkID: "a", Vector: []float32{2, 0}}}
	idx, err := Build(entries, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Stored and query vectors are normalized, so an aligned query scores 1.
	hits, err := idx.Search([]float32{5, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(hits[0].Score-1.0) > 1e-6 {
		t.Errorf("score = %f, want 1.0", hits[0].Score)
	}
}

func TestSearchRejectsZeroQuery(t *testing.T) {
	idx, err := Build([]Entry{{ChunkID: "a", Vector: []float32{1, 0}}}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Search([]float32{0, 0}, 1); !errors.Is(err, ErrDegenerateVector) {
		t.Errorf("expected ErrDegenerateVector, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	entries := []Entry{
		{ChunkID: "b1#000000", Vector: []float32{1, 0, 0}},
		{ChunkID: "b1#000001", Vector: []float32{0, 1, 0}},
	}
	idx, err := Build(entries, 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "idx", "vectors.idx")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("expected index")
	}
	if loaded.Revision() != 7 || loaded.Size() != 2 {
		t.Errorf("revision=%d size=%d", loaded.Revision(), loaded.Size())
	}
	hits, err := loaded.Search([]float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].ChunkID != "b1#000000" {
		t.Errorf("top hit = %s", hits[0].ChunkID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "nope.idx"), 3)
	if err != nil {
		t.Fatal(err)
	}
	if idx != nil {
		t.Error("expected nil index for missing file")
	}
}

func TestLoadDimensionMismatch(t *testing.T) {
	idx, err := Build([]Entry{{ChunkID: "a", Vector: []float32{1, 0}}}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "vectors.idx")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, 5); err == nil {
		t.Error("expected dimension mismatch error")
	}
}
