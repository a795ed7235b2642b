package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/seanblong/lecturedocs/pkg/models"
)

// Memory is an in-process Backend doing exact cosine search. Writers to one
// collection are serialized and publish a new snapshot, so readers always
// see a whole batch or none of it. Collections never block each other.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	writeMu sync.Mutex
	dim     int
	entries atomic.Pointer[[]models.IndexEntry]
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*collection)}
}

func (m *Memory) EnsureCollection(_ context.Context, projectID string) error {
	m.collection(projectID, true)
	return nil
}

func (m *Memory) collection(projectID string, create bool) *collection {
	m.mu.RLock()
	c, ok := m.collections[projectID]
	m.mu.RUnlock()
	if ok || !create {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.collections[projectID]; ok {
		return c
	}
	c = &collection{}
	empty := []models.IndexEntry{}
	c.entries.Store(&empty)
	m.collections[projectID] = c
	return c
}

// Upsert replaces entries with matching chunk ids and appends the rest.
func (m *Memory) Upsert(_ context.Context, projectID string, entries []models.IndexEntry) error {
	c := m.collection(projectID, true)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	dim := c.dim
	for _, e := range entries {
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return fmt.Errorf("vector for %s has dimension %d, collection uses %d", e.ChunkID, len(e.Vector), dim)
		}
	}

	cur := *c.entries.Load()
	next := make([]models.IndexEntry, len(cur), len(cur)+len(entries))
	copy(next, cur)
	pos := make(map[string]int, len(next))
	for i, e := range next {
		pos[e.ChunkID] = i
	}
	for _, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		if i, ok := pos[e.ChunkID]; ok {
			next[i] = e
			continue
		}
		pos[e.ChunkID] = len(next)
		next = append(next, e)
	}

	c.dim = dim
	c.entries.Store(&next)
	return nil
}

func (m *Memory) Search(_ context.Context, projectID string, vector []float32, topK int) ([]models.SearchHit, error) {
	c := m.collection(projectID, false)
	if c == nil {
		return []models.SearchHit{}, nil
	}
	entries := *c.entries.Load()

	hits := make([]models.SearchHit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, models.SearchHit{
			ChunkID:  e.ChunkID,
			Content:  e.Text,
			Metadata: e.Metadata,
			Distance: CosineDistance(vector, e.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len reports how many entries a project collection holds.
func (m *Memory) Len(projectID string) int {
	c := m.collection(projectID, false)
	if c == nil {
		return 0
	}
	return len(*c.entries.Load())
}

// CosineDistance is 1 - cos(a, b). Zero-norm or mismatched vectors are at
// distance 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
