// Package speaker implements the identity-consistency gate: a new
// embedding is accepted when it is close enough to at least one of the
// identity's historical embeddings.
//
// This is a soft consistency signal, not authentication.
package speaker

import (
	"fmt"
	"sync"

	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
	"github.com/GreenCodr/voice-evolution-system/pkg/vecstore"
)

// ReasonMismatch is reported when no historical embedding reaches the threshold.
const ReasonMismatch = "speaker mismatch"

// Reference is one historical embedding.
type Reference struct {
	ID        string
	Embedding embedding.Vector
}

// Result is the gate outcome. Similarity is nil when there was no history.
type Result struct {
	Accepted   bool     `json:"accepted" yaml:"accepted"`
	Similarity *float64 `json:"similarity,omitempty" yaml:"similarity,omitempty"`
	BestID     string   `json:"best_id,omitempty" yaml:"best_id,omitempty"`
	Reason     string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Indexed    bool     `json:"indexed,omitempty" yaml:"indexed,omitempty"`
}

// Gate verifies embeddings against a History. The zero value is usable.
type Gate struct {
	// IndexMinHistory is the history length from which the HNSW index is
	// consulted before the linear scan. Default: 64.
	IndexMinHistory int

	// TopK is the number of ANN candidates rescored exactly. Default: 8.
	TopK int

	// Seed fixes the HNSW level assignment.
	Seed uint64
}

func (g Gate) indexMin() int {
	if g.IndexMinHistory > 0 {
		return g.IndexMinHistory
	}
	return 64
}

func (g Gate) topK() int {
	if g.TopK > 0 {
		return g.TopK
	}
	return 8
}

// History is the set of reference embeddings of one identity. All
// references share one dimension, fixed by the first one added.
//
// The HNSW index is built once, the first time the history is verified at
// or above IndexMinHistory, and every later Add inserts into it. History
// only grows and is safe for concurrent use.
type History struct {
	mu   sync.RWMutex
	dim  int
	refs []Reference
	byID map[string]embedding.Vector
	idx  *vecstore.HNSW
}

// NewHistory returns a history holding refs.
func NewHistory(refs ...Reference) (*History, error) {
	h := &History{byID: make(map[string]embedding.Vector)}
	if err := h.Add(refs...); err != nil {
		return nil, err
	}
	return h, nil
}

// Len returns the number of references.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.refs)
}

// Dim returns the shared dimension, 0 while empty.
func (h *History) Dim() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dim
}

// Contains reports whether a reference with id was added.
func (h *History) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byID[id]
	return ok
}

// Add appends refs. A reference whose ID is already present is ignored.
// A reference of a foreign dimension fails with embedding.ErrDimMismatch
// and nothing after it is added.
func (h *History) Add(refs ...Reference) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range refs {
		if _, ok := h.byID[r.ID]; ok {
			continue
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("speaker: reference %s has no embedding", r.ID)
		}
		if h.dim != 0 && len(r.Embedding) != h.dim {
			return fmt.Errorf("speaker: reference %s: %w: %d, want %d", r.ID, embedding.ErrDimMismatch, len(r.Embedding), h.dim)
		}
		if h.idx != nil {
			if err := h.idx.Insert(r.ID, r.Embedding); err != nil {
				return fmt.Errorf("speaker: index %s: %w", r.ID, err)
			}
		}
		h.dim = len(r.Embedding)
		h.byID[r.ID] = r.Embedding
		h.refs = append(h.refs, r)
	}
	return nil
}

func (h *History) snapshot() []Reference {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.refs[:len(h.refs):len(h.refs)]
}

// index returns the HNSW index, building it on first use.
func (h *History) index(seed uint64) (*vecstore.HNSW, error) {
	h.mu.RLock()
	idx := h.idx
	h.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.idx != nil {
		return h.idx, nil
	}
	idx, err := vecstore.NewHNSW(vecstore.HNSWConfig{Dim: h.dim, Seed: seed})
	if err != nil {
		return nil, fmt.Errorf("speaker: %w", err)
	}
	for _, r := range h.refs {
		if err := idx.Insert(r.ID, r.Embedding); err != nil {
			return nil, fmt.Errorf("speaker: index %s: %w", r.ID, err)
		}
	}
	h.idx = idx
	return idx, nil
}

// Verify compares query against h. An empty or nil history accepts the
// sample as the bootstrap case. A query whose dimension differs from the
// history fails with embedding.ErrDimMismatch.
//
// For long histories the HNSW index finds candidates first. An ANN result
// at or above threshold is accepted immediately; anything else is confirmed
// by an exact scan, so accept and reject always agree with the linear scan.
func (g Gate) Verify(query embedding.Vector, h *History, threshold float64) (Result, error) {
	if h == nil || h.Len() == 0 {
		return Result{Accepted: true}, nil
	}
	if d := h.Dim(); len(query) != d {
		return Result{}, fmt.Errorf("speaker: %w: query %d, history %d", embedding.ErrDimMismatch, len(query), d)
	}
	refs := h.snapshot()
	if len(refs) >= g.indexMin() {
		res, err := g.indexed(query, h, threshold)
		if err != nil {
			return Result{}, err
		}
		if res.Accepted {
			return res, nil
		}
	}
	return scan(query, refs, threshold), nil
}

func (g Gate) indexed(query embedding.Vector, h *History, threshold float64) (Result, error) {
	idx, err := h.index(g.Seed)
	if err != nil {
		return Result{}, err
	}
	matches, err := idx.Search(query, g.topK())
	if err != nil {
		return Result{}, fmt.Errorf("speaker: search: %w", err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := Result{Indexed: true, Reason: ReasonMismatch}
	for _, m := range matches {
		ref, ok := h.byID[m.ID]
		if !ok {
			continue
		}
		sim := embedding.Cosine(query, ref)
		if res.Similarity == nil || sim > *res.Similarity {
			res.Similarity, res.BestID = &sim, m.ID
		}
	}
	if res.Similarity != nil && *res.Similarity >= threshold {
		res.Accepted, res.Reason = true, ""
	}
	return res, nil
}

func scan(query embedding.Vector, refs []Reference, threshold float64) Result {
	var res Result
	for _, r := range refs {
		sim := embedding.Cosine(query, r.Embedding)
		if res.Similarity == nil || sim > *res.Similarity {
			res.Similarity, res.BestID = &sim, r.ID
		}
	}
	if *res.Similarity >= threshold {
		res.Accepted = true
	} else {
		res.Reason = ReasonMismatch
	}
	return res
}
