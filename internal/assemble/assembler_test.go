package assemble

import (
	"strings"
	"testing"

	"github.com/lectern-search/lectern/internal/models"
)

func result(rank int, title, text string, start, end int) *models.RetrievalResult {
	return &models.RetrievalResult{
		ChunkID: "b#000000",
		Text:    text,
		Score:   1.0 / float64(rank),
		Rank:    rank,
		Citation: models.Citation{
			BookTitle: title,
			StartPage: start,
			EndPage:   end,
		},
	}
}

func TestAssembleMarkersAndOrder(t *testing.T) {
	a := New(0)
	req := a.Assemble("what happened?", []*models.RetrievalResult{
		result(1, "Alice in Wonderland", "down the rabbit hole", 10, 12),
		result(2, "Through the Looking-Glass", "the garden of live flowers", 25, 25),
	})
	if req.Question != "what happened?" {
		t.Errorf("question = %q", req.Question)
	}
	if !strings.Contains(req.Context, "[1] Alice in Wonderland, pp. 10-12\ndown the rabbit hole") {
		t.Errorf("missing first passage block:\n%s", req.Context)
	}
	if !strings.Contains(req.Context, "[2] Through the Looking-Glass, p. 25\nthe garden of live flowers") {
		t.Errorf("missing second passage block:\n%s", req.Context)
	}
	if strings.Index(req.Context, "[1]") > strings.Index(req.Context, "[2]") {
		t.Error("passages out of rank order")
	}
	if len(req.Citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(req.Citations))
	}
	if req.Citations[0].BookTitle != "Alice in Wonderland" {
		t.Errorf("citations out of order: %v", req.Citations)
	}
}

func TestAssembleDropsLowestRanksOverBudget(t *testing.T) {
	first := result(1, "A", strings.Repeat("x", 50), 1, 1)
	second := result(2, "B", strings.Repeat("y", 50), 2, 2)
	firstLen := len("[1] A, p. 1\n") + 50

	a := New(firstLen + 10) // room for the first block only
	req := a.Assemble("q", []*models.RetrievalResult{first, second})
	if !strings.Contains(req.Context, "xxx") {
		t.Error("first passage missing")
	}
	if strings.Contains(req.Context, "yyy") {
		t.Error("second passage should have been dropped")
	}
	if len(req.Citations) != 1 {
		t.Errorf("got %d citations, want 1", len(req.Citations))
	}
}

func TestAssembleTruncatesSoleOversizedPassage(t *testing.T) {
	first := result(1, "A", strings.Repeat("x", 500), 1, 1)
	a := New(100)
	req := a.Assemble("q", []*models.RetrievalResult{first})
	if req.Context == "" {
		t.Fatal("rank 1 must always be included")
	}
	if len(req.Context) > 100 {
		t.Errorf("context length = %d, budget is 100", len(req.Context))
	}
	if !strings.HasSuffix(req.Context, "...") {
		t.Errorf("truncated context should end with ellipsis, got %q", req.Context)
	}
	if len(req.Citations) != 1 {
		t.Errorf("got %d citations, want 1", len(req.Citations))
	}
}

func TestAssembleEmptyResults(t *testing.T) {
	a := New(1000)
	req := a.Assemble("q", nil)
	if req.Context != "" || len(req.Citations) != 0 {
		t.Errorf("expected empty request, got context=%q citations=%v", req.Context, req.Citations)
	}
}
