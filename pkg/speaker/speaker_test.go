package speaker

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
)

func unit(t *testing.T, r *rand.Rand, dim int) embedding.Vector {
	t.Helper()
	v := make(embedding.Vector, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	u, err := embedding.Normalize(v)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

// near perturbs v by noise and renormalizes.
func near(t *testing.T, r *rand.Rand, v embedding.Vector, noise float64) embedding.Vector {
	t.Helper()
	out := make(embedding.Vector, len(v))
	for i := range v {
		out[i] = v[i] + float32(noise*r.NormFloat64())
	}
	u, err := embedding.Normalize(out)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func history(t *testing.T, refs ...Reference) *History {
	t.Helper()
	h, err := NewHistory(refs...)
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	return h
}

func TestVerifyBootstrap(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 1))
	for _, h := range []*History{nil, history(t)} {
		res, err := Gate{}.Verify(unit(t, r, 16), h, 0.99)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !res.Accepted || res.Similarity != nil {
			t.Errorf("bootstrap = %+v, want accepted with nil similarity", res)
		}
	}
}

func TestVerifyExact(t *testing.T) {
	r := rand.New(rand.NewPCG(2, 2))
	base := unit(t, r, 64)
	h := history(t,
		Reference{ID: "other", Embedding: unit(t, r, 64)},
		Reference{ID: "same", Embedding: near(t, r, base, 0.01)},
	)

	res, err := Gate{}.Verify(base, h, 0.75)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Accepted || res.BestID != "same" {
		t.Errorf("Verify = %+v, want accepted via same", res)
	}

	stranger := unit(t, r, 64)
	res, _ = Gate{}.Verify(stranger, h, 0.75)
	if res.Accepted {
		t.Fatalf("stranger accepted with similarity %v", *res.Similarity)
	}
	if res.Reason != ReasonMismatch || res.Similarity == nil {
		t.Errorf("reject = %+v, want reason %q with best similarity", res, ReasonMismatch)
	}
}

func TestVerifyIdenticalEmbedding(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 3))
	e := unit(t, r, 32)
	res, _ := Gate{}.Verify(e, history(t, Reference{ID: "v1", Embedding: e}), 0.999)
	if !res.Accepted || math.Abs(*res.Similarity-1) > 1e-5 {
		t.Errorf("self verification = %+v, want similarity 1", res)
	}
}

func TestVerifyForeignDimension(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 5))
	h := history(t, Reference{ID: "v1", Embedding: unit(t, r, 8)})
	for _, g := range []Gate{{}, {IndexMinHistory: 1}} {
		res, err := g.Verify(unit(t, r, 4), h, 0.1)
		if !errors.Is(err, embedding.ErrDimMismatch) {
			t.Errorf("Verify 4-dim query = %+v, %v; want ErrDimMismatch", res, err)
		}
	}
}

func TestHistoryAdd(t *testing.T) {
	r := rand.New(rand.NewPCG(6, 6))
	v := unit(t, r, 8)
	h := history(t, Reference{ID: "v1", Embedding: v})

	if err := h.Add(Reference{ID: "v1", Embedding: unit(t, r, 8)}); err != nil {
		t.Fatalf("re-adding v1: %v", err)
	}
	if h.Len() != 1 || !h.Contains("v1") {
		t.Errorf("Len = %d, Contains(v1) = %v; want 1, true", h.Len(), h.Contains("v1"))
	}
	if err := h.Add(Reference{ID: "v2", Embedding: unit(t, r, 16)}); !errors.Is(err, embedding.ErrDimMismatch) {
		t.Errorf("Add 16-dim = %v, want ErrDimMismatch", err)
	}
	if err := h.Add(Reference{ID: "v3"}); err == nil {
		t.Error("Add without embedding succeeded")
	}
	if h.Len() != 1 || h.Dim() != 8 {
		t.Errorf("after rejected adds Len = %d Dim = %d, want 1, 8", h.Len(), h.Dim())
	}
}

func TestIndexedMatchesExact(t *testing.T) {
	r := rand.New(rand.NewPCG(4, 4))
	const dim, size = 32, 120
	centers := []embedding.Vector{unit(t, r, dim), unit(t, r, dim), unit(t, r, dim)}
	refs := make([]Reference, size)
	for i := range refs {
		refs[i] = Reference{ID: fmt.Sprintf("v%d", i), Embedding: near(t, r, centers[i%2], 0.05)}
	}
	// Half the references arrive after the index exists.
	h := history(t, refs[:size/2]...)

	indexed := Gate{IndexMinHistory: 10, Seed: 9}
	linear := Gate{IndexMinHistory: size + 1}
	for i := range 60 {
		if i == 30 {
			if err := h.Add(refs[size/2:]...); err != nil {
				t.Fatal(err)
			}
		}
		var q embedding.Vector
		switch i % 3 {
		case 0:
			q = near(t, r, centers[0], 0.05)
		case 1:
			q = near(t, r, centers[1], 0.2)
		default:
			q = near(t, r, centers[2], 0.05)
		}
		for _, th := range []float64{0.3, 0.75, 0.95} {
			a, err := indexed.Verify(q, h, th)
			if err != nil {
				t.Fatalf("indexed Verify: %v", err)
			}
			b, _ := linear.Verify(q, h, th)
			if a.Accepted != b.Accepted {
				t.Fatalf("query %d th %.2f: indexed accepted=%v, linear accepted=%v", i, th, a.Accepted, b.Accepted)
			}
			if !a.Accepted && math.Abs(*a.Similarity-*b.Similarity) > 1e-9 {
				t.Errorf("reject similarity differs: %v vs %v", *a.Similarity, *b.Similarity)
			}
		}
	}
}

func TestIndexBuiltOnce(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	base := unit(t, r, 16)
	h := history(t)
	for i := range 20 {
		if err := h.Add(Reference{ID: fmt.Sprintf("v%d", i), Embedding: near(t, r, base, 0.05)}); err != nil {
			t.Fatal(err)
		}
	}
	g := Gate{IndexMinHistory: 10}
	res, err := g.Verify(base, h, 0.5)
	if err != nil || !res.Accepted || !res.Indexed {
		t.Fatalf("Verify = %+v, %v; want indexed accept", res, err)
	}
	idx := h.idx
	if err := h.Add(Reference{ID: "late", Embedding: base}); err != nil {
		t.Fatal(err)
	}
	if h.idx != idx || idx.Len() != 21 {
		t.Fatalf("index replaced or not updated: same=%v len=%d", h.idx == idx, idx.Len())
	}
	res, _ = g.Verify(base, h, 0.999)
	if !res.Accepted || res.BestID != "late" {
		t.Errorf("Verify after Add = %+v, want accepted via late", res)
	}
}
