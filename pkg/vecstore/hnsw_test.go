package vecstore

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
)

func newTestHNSW(t *testing.T, dim int) *HNSW {
	t.Helper()
	h, err := NewHNSW(HNSWConfig{Dim: dim, M: 8, EfConstruction: 64, EfSearch: 32, Seed: 42})
	if err != nil {
		t.Fatalf("NewHNSW: %v", err)
	}
	return h
}

func randVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= float32(norm)
	}
	return v
}

func TestNewHNSWRejectsZeroDim(t *testing.T) {
	if _, err := NewHNSW(HNSWConfig{}); err == nil {
		t.Fatal("expected error for zero Dim")
	}
}

func TestHNSWInsertAndSearch(t *testing.T) {
	h := newTestHNSW(t, 3)
	_ = h.Insert("x", []float32{1, 0, 0})
	_ = h.Insert("y", []float32{0, 1, 0})
	_ = h.Insert("z", []float32{0, 0, 1})

	got, err := h.Search([]float32{0.9, 0.1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "x" {
		t.Errorf("Search = %v, want x", got)
	}
	if h.Len() != 3 {
		t.Errorf("Len = %d, want 3", h.Len())
	}
}

func TestHNSWDimensionMismatch(t *testing.T) {
	h := newTestHNSW(t, 3)
	if err := h.Insert("a", []float32{1, 0}); err == nil {
		t.Error("expected insert error for wrong dimension")
	}
	if _, err := h.Search([]float32{1}, 1); err == nil {
		t.Error("expected search error for wrong dimension")
	}
}

func TestHNSWSearchEmpty(t *testing.T) {
	h := newTestHNSW(t, 2)
	got, err := h.Search([]float32{1, 0}, 5)
	if err != nil || got != nil {
		t.Errorf("Search on empty = %v, %v; want nil, nil", got, err)
	}
}

func TestHNSWBatchInsertMismatch(t *testing.T) {
	h := newTestHNSW(t, 2)
	if err := h.BatchInsert([]string{"a"}, nil); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestHNSWRecall(t *testing.T) {
	const dim, n, queries, k = 32, 500, 50, 5
	rng := rand.New(rand.NewPCG(1, 2))
	h := newTestHNSW(t, dim)
	exact := NewMemory()
	for i := range n {
		v := randVec(rng, dim)
		id := fmt.Sprintf("v%d", i)
		_ = h.Insert(id, v)
		_ = exact.Insert(id, v)
	}

	hits := 0
	for range queries {
		q := randVec(rng, dim)
		want, _ := exact.Search(q, k)
		got, _ := h.Search(q, k)
		set := map[string]bool{}
		for _, m := range want {
			set[m.ID] = true
		}
		for _, m := range got {
			if set[m.ID] {
				hits++
			}
		}
	}
	if recall := float64(hits) / (queries * k); recall < 0.9 {
		t.Errorf("recall = %.2f, want >= 0.90", recall)
	}
}

func TestHNSWDeterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	vecs := make([][]float32, 200)
	ids := make([]string, 200)
	for i := range vecs {
		vecs[i] = randVec(rng, 16)
		ids[i] = fmt.Sprintf("v%d", i)
	}
	a, b := newTestHNSW(t, 16), newTestHNSW(t, 16)
	_ = a.BatchInsert(ids, vecs)
	_ = b.BatchInsert(ids, vecs)

	q := randVec(rng, 16)
	ra, _ := a.Search(q, 10)
	rb, _ := b.Search(q, 10)
	for i := range ra {
		if ra[i] != rb[i] {
			t.Fatalf("result %d differs: %v vs %v", i, ra[i], rb[i])
		}
	}
}

func TestHNSWConcurrentSearch(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	h := newTestHNSW(t, 8)
	for i := range 100 {
		_ = h.Insert(fmt.Sprintf("v%d", i), randVec(rng, 8))
	}
	q := randVec(rng, 8)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Search(q, 3); err != nil {
				t.Errorf("Search: %v", err)
			}
		}()
	}
	wg.Wait()
}
