package bookid

import "testing"

func TestFromPathDeterministic(t *testing.T) {
	id1 := FromPath("/library/alice.pdf")
	id2 := FromPath("/library/alice.pdf")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if id1[:len(prefix)] != prefix {
		t.Errorf("ID should have prefix %q: got %q", prefix, id1)
	}
}

func TestFromPathDifferentPaths(t *testing.T) {
	if FromPath("/library/alice.pdf") == FromPath("/library/looking-glass.pdf") {
		t.Error("different paths should give different IDs")
	}
}

func TestFromPathNormalized(t *testing.T) {
	id1 := FromPath("/library/alice.pdf")
	id2 := FromPath("/library/./alice.pdf")
	id3 := FromPath("/library//alice.pdf")
	if id1 != id2 || id1 != id3 {
		t.Errorf("equivalent paths should match: %q %q %q", id1, id2, id3)
	}
}
