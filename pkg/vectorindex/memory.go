package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"paperchat/pkg/domain"
)

// MemoryIndex is an in-process Index used by tests.
type MemoryIndex struct {
	mu         sync.RWMutex
	namespaces map[string][]domain.Chunk
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{namespaces: make(map[string][]domain.Chunk)}
}

func (m *MemoryIndex) Upsert(_ context.Context, namespace string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaces[namespace] = append([]domain.Chunk{}, chunks...)
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, namespace string, embedding []float32, k int) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		return []domain.Chunk{}, nil
	}
	chunks := append([]domain.Chunk{}, m.namespaces[namespace]...)
	sort.SliceStable(chunks, func(i, j int) bool {
		return cosineSimilarity(embedding, chunks[i].Embedding) > cosineSimilarity(embedding, chunks[j].Embedding)
	})
	if len(chunks) > k {
		chunks = chunks[:k]
	}
	return chunks, nil
}

func (m *MemoryIndex) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
