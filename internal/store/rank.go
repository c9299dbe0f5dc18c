package store

import (
	"math"
	"sort"
)

// Rank scores candidate chunks against the query vector and returns the
// matches with cosine similarity strictly greater than threshold, ordered
// by similarity descending, chunk ID ascending on ties, truncated to limit.
//
// This is the in-process counterpart of the pgvector expression
// 1 - (embedding <=> query); both compute cosine similarity, so the two
// search paths rank identically.
func Rank(candidates []Match, query []float32, threshold float32, limit int) []Match {
	var matches []Match
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		sim, ok := CosineSimilarity(query, c.Embedding)
		if !ok {
			continue
		}
		if sim > threshold {
			c.Similarity = sim
			matches = append(matches, c)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID.String() < matches[j].ID.String()
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// CosineSimilarity returns the cosine similarity of a and b. The second
// return is false when the vectors differ in length or either has zero
// magnitude.
func CosineSimilarity(a, b []float32) (float32, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), true
}
