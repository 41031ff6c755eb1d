// Package app holds the api service core: document lifecycle, the
// retrieval-augmented chat pipeline, and message rewriting. All external
// systems arrive as interfaces so tests can run against in-memory fakes.
package app

import (
	"context"
	"fmt"

	"paperchat/pkg/ai"
	"paperchat/pkg/queue"
	"paperchat/pkg/storage"
	"paperchat/pkg/store"
	"paperchat/pkg/vectorindex"
)

// Enqueuer submits ingestion jobs for newly uploaded documents.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID string) (queue.JobStatus, error)
}

// Config holds the dependencies and tunables for the core application.
type Config struct {
	Store        store.Store
	Index        vectorindex.Index
	Objects      storage.ObjectStore
	Queue        Enqueuer
	Embedder     ai.Embedder
	Generator    ai.TextGenerator
	Streamer     ai.StreamGenerator
	TopK         int
	HistoryLimit int
}

// App is the core application service.
type App struct {
	store        store.Store
	index        vectorindex.Index
	objects      storage.ObjectStore
	queue        Enqueuer
	embedder     ai.Embedder
	generator    ai.TextGenerator
	streamer     ai.StreamGenerator
	topK         int
	historyLimit int
}

// New wires the application from injected dependencies.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("vector index required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("ingest queue required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if cfg.Generator == nil || cfg.Streamer == nil {
		return nil, fmt.Errorf("text generator required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}
	return &App{
		store:        cfg.Store,
		index:        cfg.Index,
		objects:      cfg.Objects,
		queue:        cfg.Queue,
		embedder:     cfg.Embedder,
		generator:    cfg.Generator,
		streamer:     cfg.Streamer,
		topK:         topK,
		historyLimit: historyLimit,
	}, nil
}
