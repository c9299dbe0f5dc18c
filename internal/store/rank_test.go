package store

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func matchWith(id byte, emb []float32) Match {
	var u uuid.UUID
	u[15] = id
	return Match{Chunk: Chunk{ID: u, Embedding: emb}}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
		ok   bool
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1, true},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, true},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1, true},
		{"scaled", []float32{2, 0}, []float32{5, 0}, 1, true},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0, false},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0, false},
		{"empty", nil, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CosineSimilarity(tt.a, tt.b)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("similarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRankOrdering(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Match{
		matchWith(1, []float32{0, 1}),        // similarity 0
		matchWith(2, []float32{1, 0}),        // similarity 1
		matchWith(3, []float32{1, 1}),        // similarity ~0.707
		matchWith(4, []float32{0.9, 0.4359}), // similarity 0.9
		matchWith(5, nil),                    // no embedding, skipped
		matchWith(6, []float32{-1, 0}),       // similarity -1
	}

	matches := Rank(candidates, query, 0.5, 10)

	if len(matches) != 3 {
		t.Fatalf("expected 3 matches above 0.5, got %d", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Similarity > matches[i-1].Similarity {
			t.Errorf("matches not in descending order at %d", i)
		}
	}
	if matches[0].ID[15] != 2 {
		t.Errorf("best match should be chunk 2, got %d", matches[0].ID[15])
	}
}

func TestRankThresholdStrict(t *testing.T) {
	query := []float32{1, 0}
	// Exactly at the threshold must be excluded.
	candidates := []Match{matchWith(1, []float32{1, 0})}

	if got := Rank(candidates, query, 1.0, 10); len(got) != 0 {
		t.Errorf("similarity equal to threshold must not match, got %d results", len(got))
	}
	if got := Rank(candidates, query, 0.99, 10); len(got) != 1 {
		t.Errorf("similarity above threshold must match, got %d results", len(got))
	}
}

func TestRankLimit(t *testing.T) {
	query := []float32{1, 0}
	var candidates []Match
	for i := byte(1); i <= 10; i++ {
		candidates = append(candidates, matchWith(i, []float32{1, float32(i) / 100}))
	}

	matches := Rank(candidates, query, 0, 3)
	if len(matches) != 3 {
		t.Errorf("expected 3 matches with limit 3, got %d", len(matches))
	}
}

func TestRankTieBreak(t *testing.T) {
	query := []float32{1, 0}
	// Same embedding, different IDs: order must be deterministic by ID.
	candidates := []Match{
		matchWith(9, []float32{1, 0}),
		matchWith(1, []float32{1, 0}),
		matchWith(5, []float32{1, 0}),
	}

	matches := Rank(candidates, query, 0.5, 10)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].ID[15] != 1 || matches[1].ID[15] != 5 || matches[2].ID[15] != 9 {
		t.Errorf("ties not broken by ID: got %d, %d, %d",
			matches[0].ID[15], matches[1].ID[15], matches[2].ID[15])
	}
}

func TestRankEmpty(t *testing.T) {
	if got := Rank(nil, []float32{1, 0}, 0.5, 10); got != nil {
		t.Errorf("Rank(nil) = %v, want nil", got)
	}
}
