// Package app implements the ingestion worker: it downloads an uploaded
// document from object storage, extracts and chunks its text, embeds the
// chunks, and writes them to the vector index under the document's
// namespace.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"paperchat/internal/util"
	"paperchat/pkg/ai"
	"paperchat/pkg/domain"
	"paperchat/pkg/queue"
	"paperchat/pkg/storage"
	"paperchat/pkg/store"
	"paperchat/pkg/vectorindex"
)

const embedTaskType = "RETRIEVAL_DOCUMENT"

// Config holds the worker's dependencies and tunables.
type Config struct {
	Store            store.Store
	Index            vectorindex.Index
	Objects          storage.ObjectStore
	Embedder         ai.Embedder
	ChunkSize        int
	ChunkOverlap     int
	EmbedBatchSize   int
	EmbedConcurrency int
}

// Worker processes ingestion jobs pulled from the queue.
type Worker struct {
	store            store.Store
	index            vectorindex.Index
	objects          storage.ObjectStore
	embedder         ai.Embedder
	chunkSize        int
	chunkOverlap     int
	embedBatchSize   int
	embedConcurrency int
}

// New wires the worker from injected dependencies.
func New(cfg Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("vector index required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	chunkOverlap := cfg.ChunkOverlap
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	embedBatchSize := cfg.EmbedBatchSize
	if embedBatchSize <= 0 {
		embedBatchSize = 1
	}
	embedConcurrency := cfg.EmbedConcurrency
	if embedConcurrency <= 0 {
		embedConcurrency = 4
	}
	return &Worker{
		store:            cfg.Store,
		index:            cfg.Index,
		objects:          cfg.Objects,
		embedder:         cfg.Embedder,
		chunkSize:        chunkSize,
		chunkOverlap:     chunkOverlap,
		embedBatchSize:   embedBatchSize,
		embedConcurrency: embedConcurrency,
	}, nil
}

// ProcessJob handles one ingestion job. A returned error makes the queue
// retry the job until its retry budget is exhausted.
func (w *Worker) ProcessJob(ctx context.Context, job queue.JobStatus) error {
	logger := util.LoggerFromContext(ctx).With("job_id", job.ID, "document_id", job.DocumentID)

	doc, ok, err := w.store.GetDocument(job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		// Deleted between upload and processing; nothing to do.
		logger.Info("document gone, skipping job")
		return nil
	}

	if err := w.store.SetStatus(doc.ID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	pageCount, err := w.ingest(ctx, doc)
	if err != nil {
		logger.Error("ingest failed", "err", err)
		if statusErr := w.store.SetStatus(doc.ID, domain.StatusFailed, err.Error()); statusErr != nil {
			logger.Error("mark failed", "err", statusErr)
		}
		return err
	}

	if err := w.store.SetIngestResult(doc.ID, pageCount, w.embedder.Model()); err != nil {
		return fmt.Errorf("record ingest result: %w", err)
	}
	if err := w.store.SetStatus(doc.ID, domain.StatusSuccess, ""); err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	logger.Info("document ingested", "pages", pageCount)
	return nil
}

func (w *Worker) ingest(ctx context.Context, doc domain.Document) (int, error) {
	path, err := w.download(ctx, doc)
	if err != nil {
		return 0, err
	}
	defer os.Remove(path)

	payloads, pageCount, err := w.parseAndChunk(doc.OriginalFilename, path)
	if err != nil {
		return 0, err
	}
	if len(payloads) == 0 {
		return 0, fmt.Errorf("no content extracted")
	}

	chunks := make([]domain.Chunk, len(payloads))
	for i, payload := range payloads {
		chunks[i] = domain.Chunk{
			ID:        util.NewID(),
			Namespace: doc.ID,
			Content:   payload.Content,
			Metadata:  payload.Metadata,
		}
	}
	if err := w.embedChunks(ctx, chunks); err != nil {
		return 0, err
	}

	// Re-ingesting replaces the whole namespace so retries never leave
	// stale chunks behind.
	if err := w.index.DeleteNamespace(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("clear namespace: %w", err)
	}
	if err := w.index.Upsert(ctx, doc.ID, chunks); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	return pageCount, nil
}

func (w *Worker) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.embedConcurrency)
	for start := 0; start < len(chunks); start += w.embedBatchSize {
		end := start + w.embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		g.Go(func() error {
			return w.embedBatch(ctx, batch)
		})
	}
	return g.Wait()
}

// embedBatch uses the provider's batch endpoint when the embedder supports
// it, falling back to one request per chunk.
func (w *Worker) embedBatch(ctx context.Context, batch []domain.Chunk) error {
	if batchEmbedder, ok := w.embedder.(ai.BatchEmbedder); ok && len(batch) > 1 {
		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Content
		}
		embeddings, err := batchEmbedder.EmbedTexts(ctx, texts, embedTaskType)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = embeddings[i]
		}
		return nil
	}
	for i := range batch {
		embedding, err := w.embedder.EmbedText(ctx, batch[i].Content, embedTaskType)
		if err != nil {
			return fmt.Errorf("embed chunk: %w", err)
		}
		batch[i].Embedding = embedding
	}
	return nil
}

// download copies the stored object to a temp file so the PDF and EPUB
// parsers can seek.
func (w *Worker) download(ctx context.Context, doc domain.Document) (string, error) {
	obj, err := w.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("fetch object: %w", err)
	}
	defer obj.Close()

	ext := filepath.Ext(doc.OriginalFilename)
	tmpFile, err := os.CreateTemp("", "paperchat-*"+ext)
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()
	if _, err := io.Copy(tmpFile, obj); err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("copy object: %w", err)
	}
	return tmpFile.Name(), nil
}
