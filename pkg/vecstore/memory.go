package vecstore

import (
	"cmp"
	"slices"
	"sync"
)

// Memory is an exact brute-force Index.
type Memory struct {
	mu    sync.RWMutex
	ids   []string
	vecs  [][]float32
	index map[string]int
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty exact index.
func NewMemory() *Memory {
	return &Memory{index: make(map[string]int)}
}

func (m *Memory) Insert(id string, vector []float32) error {
	vec := slices.Clone(vector)
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[id]; ok {
		m.vecs[i] = vec
		return nil
	}
	m.index[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vecs = append(m.vecs, vec)
	return nil
}

func (m *Memory) BatchInsert(ids []string, vectors [][]float32) error {
	return batchInsert(m, ids, vectors)
}

func (m *Memory) Search(query []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ids) == 0 || topK <= 0 {
		return nil, nil
	}
	matches := make([]Match, len(m.ids))
	for i, v := range m.vecs {
		matches[i] = Match{ID: m.ids[i], Distance: Distance(query, v)}
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
