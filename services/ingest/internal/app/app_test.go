package app

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"paperchat/pkg/domain"
	"paperchat/pkg/queue"
	"paperchat/pkg/storage"
	"paperchat/pkg/store"
	"paperchat/pkg/vectorindex"
)

type stubEmbedder struct {
	fail bool
}

func (e stubEmbedder) EmbedText(_ context.Context, text, _ string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

func (stubEmbedder) Model() string { return "embed-test" }

// batchStubEmbedder supports the batch endpoint and counts which path the
// worker takes.
type batchStubEmbedder struct {
	mu          sync.Mutex
	batchCalls  int
	singleCalls int
}

func (e *batchStubEmbedder) EmbedText(_ context.Context, text, _ string) ([]float32, error) {
	e.mu.Lock()
	e.singleCalls++
	e.mu.Unlock()
	return []float32{float32(len(text)), 1, 2}, nil
}

func (e *batchStubEmbedder) EmbedTexts(_ context.Context, texts []string, _ string) ([][]float32, error) {
	e.mu.Lock()
	e.batchCalls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 2}
	}
	return out, nil
}

func (*batchStubEmbedder) Model() string { return "embed-test" }

type workerEnv struct {
	worker  *Worker
	store   *store.MemoryStore
	index   *vectorindex.MemoryIndex
	objects *storage.MemoryStore
}

func newWorkerEnv(t *testing.T, embedder stubEmbedder) *workerEnv {
	t.Helper()
	env := &workerEnv{
		store:   store.NewMemoryStore(),
		index:   vectorindex.NewMemoryIndex(),
		objects: storage.NewMemoryStore(),
	}
	w, err := New(Config{
		Store:        env.store,
		Index:        env.index,
		Objects:      env.objects,
		Embedder:     embedder,
		ChunkSize:    50,
		ChunkOverlap: 10,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	env.worker = w
	return env
}

func (e *workerEnv) seedDocument(t *testing.T, id, content string) domain.Document {
	t.Helper()
	doc := domain.Document{
		ID:               id,
		OwnerID:          "user-1",
		Name:             "notes",
		OriginalFilename: "notes.txt",
		StorageKey:       "documents/" + id + "/notes.txt",
		Status:           domain.StatusPending,
	}
	if err := e.store.SaveDocument(doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	if err := e.objects.Put(context.Background(), doc.StorageKey, bytes.NewReader([]byte(content)), int64(len(content)), "text/plain"); err != nil {
		t.Fatalf("seed object: %v", err)
	}
	return doc
}

func TestProcessJobIngestsDocument(t *testing.T) {
	env := newWorkerEnv(t, stubEmbedder{})
	doc := env.seedDocument(t, "doc-1", "The mitochondria is the powerhouse of the cell. Chloroplasts capture light.")

	err := env.worker.ProcessJob(context.Background(), queue.JobStatus{ID: "job-1", DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("process job: %v", err)
	}

	got, ok, err := env.store.GetDocument(doc.ID)
	if err != nil || !ok {
		t.Fatalf("load document: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.StatusSuccess {
		t.Fatalf("document status = %q, want success (error: %q)", got.Status, got.ErrorMessage)
	}
	if got.EmbeddingModel != "embed-test" {
		t.Fatalf("embedding model = %q, want the ingesting model recorded", got.EmbeddingModel)
	}

	chunks, err := env.index.Query(context.Background(), doc.ID, []float32{1, 1, 2}, 10)
	if err != nil {
		t.Fatalf("query index: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected chunks indexed under namespace %q", doc.ID)
	}
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			t.Fatalf("chunk %q stored without embedding", chunk.ID)
		}
	}
}

func TestProcessJobBatchesEmbeddingCalls(t *testing.T) {
	embedder := &batchStubEmbedder{}
	env := &workerEnv{
		store:   store.NewMemoryStore(),
		index:   vectorindex.NewMemoryIndex(),
		objects: storage.NewMemoryStore(),
	}
	w, err := New(Config{
		Store:          env.store,
		Index:          env.index,
		Objects:        env.objects,
		Embedder:       embedder,
		ChunkSize:      50,
		ChunkOverlap:   10,
		EmbedBatchSize: 8,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	env.worker = w

	content := "Photosynthesis converts light into chemical energy. " +
		"Respiration releases that energy inside the mitochondria. " +
		"Both processes keep the cell running."
	doc := env.seedDocument(t, "doc-1", content)

	if err := env.worker.ProcessJob(context.Background(), queue.JobStatus{ID: "job-1", DocumentID: doc.ID}); err != nil {
		t.Fatalf("process job: %v", err)
	}
	if embedder.batchCalls == 0 {
		t.Fatalf("expected the batch endpoint to be used for multi-chunk documents")
	}
	if embedder.singleCalls != 0 {
		t.Fatalf("made %d per-chunk calls alongside batching", embedder.singleCalls)
	}

	chunks, err := env.index.Query(context.Background(), doc.ID, []float32{1, 1, 2}, 10)
	if err != nil {
		t.Fatalf("query index: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several so batching is exercised", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			t.Fatalf("chunk %q stored without embedding", chunk.ID)
		}
	}
}

func TestProcessJobSkipsDeletedDocument(t *testing.T) {
	env := newWorkerEnv(t, stubEmbedder{})
	err := env.worker.ProcessJob(context.Background(), queue.JobStatus{ID: "job-1", DocumentID: "gone"})
	if err != nil {
		t.Fatalf("expected missing document to be skipped, got %v", err)
	}
}

func TestProcessJobMarksFailureAndReturnsError(t *testing.T) {
	env := newWorkerEnv(t, stubEmbedder{fail: true})
	doc := env.seedDocument(t, "doc-1", "some content that will fail to embed")

	err := env.worker.ProcessJob(context.Background(), queue.JobStatus{ID: "job-1", DocumentID: doc.ID})
	if err == nil {
		t.Fatalf("expected embed failure to propagate for queue retry")
	}

	got, ok, loadErr := env.store.GetDocument(doc.ID)
	if loadErr != nil || !ok {
		t.Fatalf("load document: ok=%v err=%v", ok, loadErr)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("document status = %q, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected failure reason recorded on the document")
	}
}

func TestProcessJobReplacesNamespaceOnRetry(t *testing.T) {
	env := newWorkerEnv(t, stubEmbedder{})
	doc := env.seedDocument(t, "doc-1", "first version of the content")

	if err := env.worker.ProcessJob(context.Background(), queue.JobStatus{ID: "job-1", DocumentID: doc.ID}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	first, err := env.index.Query(context.Background(), doc.ID, []float32{1, 1, 2}, 100)
	if err != nil {
		t.Fatalf("query after first ingest: %v", err)
	}

	if err := env.worker.ProcessJob(context.Background(), queue.JobStatus{ID: "job-2", DocumentID: doc.ID}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	second, err := env.index.Query(context.Background(), doc.ID, []float32{1, 1, 2}, 100)
	if err != nil {
		t.Fatalf("query after second ingest: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("re-ingest grew the namespace: %d -> %d chunks", len(first), len(second))
	}
}
