// Package vecstore provides nearest-neighbor search over an identity's
// historical speaker embeddings.
//
// Two [Index] implementations share one contract: [Memory] scans every
// vector exactly, [HNSW] walks a navigable small-world graph and scales to
// long histories. Vectors are expected to be unit length, so distance is
// 1 - dot(a, b).
//
// Both indexes are append-only and deterministic: identical insert order
// produces identical search results.
package vecstore

import "fmt"

// Index is nearest-neighbor search over dense float32 vectors.
// Implementations are safe for concurrent use.
type Index interface {
	// Insert adds a vector. Inserting an existing ID replaces its vector.
	Insert(id string, vector []float32) error

	// BatchInsert adds multiple vectors. ids and vectors must have the same length.
	BatchInsert(ids []string, vectors [][]float32) error

	// Search returns up to topK matches ordered by ascending distance.
	// Equal distances are ordered by insertion.
	Search(query []float32, topK int) ([]Match, error)

	// Len returns the number of vectors in the index.
	Len() int
}

// Match is one search result.
type Match struct {
	// ID is the identifier given at insert time.
	ID string

	// Distance is 1 - cosine similarity. Lower is closer.
	Distance float32
}

// Similarity converts the match distance back to cosine similarity.
func (m Match) Similarity() float64 {
	return 1 - float64(m.Distance)
}

// Distance returns 1 - dot(a, b) for unit vectors. Mismatched dimensions
// report the maximum distance of 2.
func Distance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 2
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(1 - max(-1, min(1, dot)))
}

func batchInsert(idx Index, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("vecstore: BatchInsert length mismatch: %d ids, %d vectors", len(ids), len(vectors))
	}
	for i, id := range ids {
		if err := idx.Insert(id, vectors[i]); err != nil {
			return err
		}
	}
	return nil
}
