package vectors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quantumlife/companion/internal/embeddings"
)

// MemoryStore is an in-process Index using exact cosine search.
type MemoryStore struct {
	mu          sync.RWMutex
	dimension   uint64
	collections map[string]map[string]Point
}

// NewMemory creates an empty in-memory index.
func NewMemory() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Point)}
}

// EnsureCollections implements Index.
func (m *MemoryStore) EnsureCollections(_ context.Context, dimension uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimension = dimension
	for _, name := range Collections {
		if m.collections[name] == nil {
			m.collections[name] = make(map[string]Point)
		}
	}
	return nil
}

// Upsert implements Index.
func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	for _, p := range points {
		if m.dimension > 0 && uint64(len(p.Vector)) != m.dimension {
			return fmt.Errorf("point %s has dimension %d, want %d", p.ID, len(p.Vector), m.dimension)
		}
		c[p.ID] = Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: copyPayload(p.Payload)}
	}
	return nil
}

// Search implements Index. Results are ordered by descending score,
// ties by id.
func (m *MemoryStore) Search(_ context.Context, collection string, vector []float32, limit uint64, filter Filter) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s does not exist", collection)
	}

	results := make([]SearchResult, 0, len(c))
	for _, p := range c {
		if !matches(p.Payload, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:      p.ID,
			Score:   float32(embeddings.Cosine(vector, p.Vector)),
			Payload: copyPayload(p.Payload),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && uint64(len(results)) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete implements Index.
func (m *MemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collections[collection]
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

// Len returns the number of points in collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func matches(payload map[string]interface{}, filter Filter) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok {
			return false
		}
		if wn, ok := asInt64(want); ok {
			gn, ok := asInt64(got)
			if !ok || gn != wn {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func copyPayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
