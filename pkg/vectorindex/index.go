// Package vectorindex provides namespaced vector storage and similarity
// search. A namespace isolates one document's chunks from another's;
// deleting a document is a single namespace drop.
package vectorindex

import (
	"context"

	"paperchat/pkg/domain"
)

// Index defines vector index operations scoped by namespace.
type Index interface {
	Upsert(ctx context.Context, namespace string, chunks []domain.Chunk) error
	Query(ctx context.Context, namespace string, embedding []float32, k int) ([]domain.Chunk, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}
