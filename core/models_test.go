package core

import (
	"slices"
	"testing"
)

func TestChunkID(t *testing.T) {
	tests := []struct {
		name     string
		a, b     [3]any
		wantSame bool
	}{
		{
			name:     "same position produces same ID",
			a:        [3]any{"run-1", "doc-1", 0},
			b:        [3]any{"run-1", "doc-1", 0},
			wantSame: true,
		},
		{
			name:     "different index",
			a:        [3]any{"run-1", "doc-1", 0},
			b:        [3]any{"run-1", "doc-1", 1},
			wantSame: false,
		},
		{
			name:     "different document",
			a:        [3]any{"run-1", "doc-1", 0},
			b:        [3]any{"run-1", "doc-2", 0},
			wantSame: false,
		},
		{
			name:     "different run",
			a:        [3]any{"run-1", "doc-1", 0},
			b:        [3]any{"run-2", "doc-1", 0},
			wantSame: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := ChunkID(tt.a[0].(string), tt.a[1].(string), tt.a[2].(int))
			id2 := ChunkID(tt.b[0].(string), tt.b[1].(string), tt.b[2].(int))

			if tt.wantSame && id1 != id2 {
				t.Errorf("ChunkID() produced different IDs for same position: %s vs %s", id1, id2)
			}
			if !tt.wantSame && id1 == id2 {
				t.Errorf("ChunkID() produced the same ID for different positions: %s", id1)
			}
		})
	}
}

func TestNewID(t *testing.T) {
	if NewID() == NewID() {
		t.Error("NewID() returned the same value twice")
	}
}

func TestCompareMatches(t *testing.T) {
	matches := []ChunkMatch{
		{ChunkID: "c", Score: 0.5, Seq: 3},
		{ChunkID: "a", Score: 0.9, Seq: 7},
		{ChunkID: "b", Score: 0.5, Seq: 1},
		{ChunkID: "d", Score: 0.7, Seq: 2},
	}

	slices.SortFunc(matches, CompareMatches)

	got := make([]string, len(matches))
	for i, m := range matches {
		got[i] = m.ChunkID
	}
	want := []string{"a", "d", "b", "c"}
	if !slices.Equal(got, want) {
		t.Errorf("CompareMatches order = %v, want %v", got, want)
	}
}
