package vectorindex

import (
	"context"
	"testing"

	"paperchat/pkg/domain"
)

func TestMemoryIndexNamespaceIsolation(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "doc-a", []domain.Chunk{
		{ID: "a-1", Namespace: "doc-a", Content: "alpha", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("upsert doc-a: %v", err)
	}
	if err := idx.Upsert(ctx, "doc-b", []domain.Chunk{
		{ID: "b-1", Namespace: "doc-b", Content: "beta", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("upsert doc-b: %v", err)
	}

	chunks, err := idx.Query(ctx, "doc-a", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, chunk := range chunks {
		if chunk.Namespace != "doc-a" {
			t.Fatalf("query leaked chunk %q from namespace %q", chunk.ID, chunk.Namespace)
		}
	}
	if len(chunks) != 1 || chunks[0].ID != "a-1" {
		t.Fatalf("query = %+v, want only doc-a's chunk", chunks)
	}
}

func TestMemoryIndexRanksBySimilarity(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "doc-1", []domain.Chunk{
		{ID: "far", Embedding: []float32{0, 1}},
		{ID: "near", Embedding: []float32{1, 0.1}},
		{ID: "exact", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	chunks, err := idx.Query(ctx, "doc-1", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(chunks) != 2 || chunks[0].ID != "exact" || chunks[1].ID != "near" {
		t.Fatalf("query order = %+v, want exact then near", chunks)
	}
}

func TestMemoryIndexDeleteNamespace(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "doc-1", []domain.Chunk{
		{ID: "c-1", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.DeleteNamespace(ctx, "doc-1"); err != nil {
		t.Fatalf("delete namespace: %v", err)
	}
	chunks, err := idx.Query(ctx, "doc-1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("query after delete: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("namespace still holds %d chunks after delete", len(chunks))
	}
}
