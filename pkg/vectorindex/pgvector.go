package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paperchat/pkg/domain"
)

// ChunkModel is the pgvector-backed chunk row.
type ChunkModel struct {
	ID        string           `gorm:"primaryKey"`
	Namespace string           `gorm:"not null;index"`
	Content   string           `gorm:"type:text;not null"`
	Metadata  datatypes.JSON   `gorm:"type:jsonb"`
	Embedding *pgvector.Vector `gorm:"type:vector(1024)"`
	CreatedAt time.Time        `gorm:"not null"`
}

// PgvectorIndex implements Index on Postgres with the pgvector extension.
type PgvectorIndex struct {
	db  *gorm.DB
	dim int
}

// NewPgvectorIndex ensures the extension, the chunk table, and the
// vector column dimension, then returns the index. dim must match the
// embedding model used at ingestion and query time.
func NewPgvectorIndex(db *gorm.DB, dim int) (*PgvectorIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dim required")
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&ChunkModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate chunks: %w", err)
	}
	if err := db.Exec(fmt.Sprintf(`
		DO $$
		BEGIN
		IF EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'chunk_models' AND column_name = 'embedding'
		) THEN
			ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
		END IF;
		END $$;
	`, dim)).Error; err != nil {
		return nil, fmt.Errorf("alter chunk embedding type: %w", err)
	}
	return &PgvectorIndex{db: db, dim: dim}, nil
}

// Upsert replaces the namespace content with the given chunks. Replace
// rather than merge keeps re-ingestion idempotent.
func (x *PgvectorIndex) Upsert(ctx context.Context, namespace string, chunks []domain.Chunk) error {
	for _, chunk := range chunks {
		if err := x.validateDim(chunk.Embedding); err != nil {
			return err
		}
	}
	return x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "namespace = ?", namespace).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		now := time.Now().UTC()
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.Namespace = namespace
			model.CreatedAt = now
			models = append(models, model)
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).CreateInBatches(&models, 200).Error
	})
}

// Query returns the k nearest chunks by cosine distance, most similar
// first, never crossing namespace boundaries.
func (x *PgvectorIndex) Query(ctx context.Context, namespace string, embedding []float32, k int) ([]domain.Chunk, error) {
	if k <= 0 {
		return []domain.Chunk{}, nil
	}
	if err := x.validateDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var models []ChunkModel
	if err := x.db.WithContext(ctx).Model(&ChunkModel{}).
		Where("namespace = ? AND embedding IS NOT NULL", namespace).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(k).
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

// DeleteNamespace drops all chunks in the namespace.
func (x *PgvectorIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	return x.db.WithContext(ctx).Delete(&ChunkModel{}, "namespace = ?", namespace).Error
}

func (x *PgvectorIndex) validateDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if len(embedding) != x.dim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), x.dim)
	}
	return nil
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	meta, _ := json.Marshal(chunk.Metadata)
	vec := pgvector.NewVector(chunk.Embedding)
	return ChunkModel{
		ID:        chunk.ID,
		Namespace: chunk.Namespace,
		Content:   chunk.Content,
		Metadata:  meta,
		Embedding: &vec,
	}
}

func chunkFromModel(model ChunkModel) domain.Chunk {
	var meta map[string]string
	if len(model.Metadata) > 0 {
		_ = json.Unmarshal(model.Metadata, &meta)
	}
	chunk := domain.Chunk{
		ID:        model.ID,
		Namespace: model.Namespace,
		Content:   model.Content,
		Metadata:  meta,
	}
	if model.Embedding != nil {
		chunk.Embedding = model.Embedding.Slice()
	}
	return chunk
}
