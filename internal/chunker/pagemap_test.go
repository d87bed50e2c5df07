package chunker

import (
	"errors"
	"testing"
)

func TestPageMapLookup(t *testing.T) {
	pm, err := NewPageMap([]PageSpan{{Start: 0, Page: 1}, {Start: 100, Page: 2}, {Start: 250, Page: 3}}, 400)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		offset, page int
	}{
		{0, 1}, {99, 1}, {100, 2}, {249, 2}, {250, 3}, {399, 3},
	}
	for _, tc := range cases {
		page, err := pm.PageAt(tc.offset)
		if err != nil {
			t.Errorf("PageAt(%d): %v", tc.offset, err)
			continue
		}
		if page != tc.page {
			t.Errorf("PageAt(%d) = %d, want %d", tc.offset, page, tc.page)
		}
	}
	if pm.LastPage() != 3 {
		t.Errorf("LastPage = %d", pm.LastPage())
	}
}

func TestPageMapOutOfRange(t *testing.T) {
	pm, err := NewPageMap([]PageSpan{{Start: 0, Page: 1}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pm.PageAt(-1); !errors.Is(err, ErrInvalidPageMap) {
		t.Errorf("negative offset: got %v", err)
	}
	if _, err := pm.PageAt(10); !errors.Is(err, ErrInvalidPageMap) {
		t.Errorf("offset past end: got %v", err)
	}
}

func TestPageMapValidation(t *testing.T) {
	if _, err := NewPageMap(nil, 10); !errors.Is(err, ErrInvalidPageMap) {
		t.Error("empty spans should fail")
	}
	if _, err := NewPageMap([]PageSpan{{Start: 5, Page: 1}}, 10); !errors.Is(err, ErrInvalidPageMap) {
		t.Error("first span not at 0 should fail")
	}
	if _, err := NewPageMap([]PageSpan{{Start: 0, Page: 2}, {Start: 5, Page: 1}}, 10); !errors.Is(err, ErrInvalidPageMap) {
		t.Error("non-increasing pages should fail")
	}
	if _, err := NewPageMap([]PageSpan{{Start: 0, Page: 1}, {Start: 20, Page: 2}}, 10); !errors.Is(err, ErrInvalidPageMap) {
		t.Error("span past text length should fail")
	}
}

func TestJoinPages(t *testing.T) {
	text, pm, err := JoinPages([]string{"page one text", "page two text"})
	if err != nil {
		t.Fatal(err)
	}
	page, err := pm.PageAt(0)
	if err != nil || page != 1 {
		t.Errorf("offset 0 on page %d (%v)", page, err)
	}
	// First character after "page one text\n".
	page, err = pm.PageAt(14)
	if err != nil || page != 2 {
		t.Errorf("offset 14 on page %d (%v)", page, err)
	}
	if text[14:] != "page two text\n" {
		t.Errorf("unexpected joined text %q", text)
	}
}

func TestJoinPagesEmpty(t *testing.T) {
	if _, _, err := JoinPages(nil); !errors.Is(err, ErrInvalidPageMap) {
		t.Error("no pages should fail")
	}
}
