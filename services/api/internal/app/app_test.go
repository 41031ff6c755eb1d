package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"paperchat/pkg/ai"
	"paperchat/pkg/domain"
	"paperchat/pkg/queue"
	"paperchat/pkg/storage"
	"paperchat/pkg/store"
	"paperchat/pkg/vectorindex"
)

type fakeEnqueuer struct {
	ids  []string
	fail bool
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, documentID string) (queue.JobStatus, error) {
	if f.fail {
		return queue.JobStatus{}, errors.New("queue unavailable")
	}
	f.ids = append(f.ids, documentID)
	return queue.JobStatus{ID: "job-1", DocumentID: documentID, Status: queue.StatusQueued}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedText(context.Context, string, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) Model() string { return "embed-test" }

type fakeGenerator struct {
	text     string
	lastSys  string
	lastUser string
}

func (g *fakeGenerator) GenerateText(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	g.lastSys = systemPrompt
	g.lastUser = userPrompt
	return g.text, nil
}

// fakeStreamer emits canned chunks and lets tests observe state at the
// moment the model is called.
type fakeStreamer struct {
	chunks   []string
	lastSys  string
	onCalled func()
}

func (s *fakeStreamer) GenerateStream(_ context.Context, systemPrompt, _ string) (<-chan ai.StreamChunk, error) {
	s.lastSys = systemPrompt
	if s.onCalled != nil {
		s.onCalled()
	}
	out := make(chan ai.StreamChunk, len(s.chunks)+1)
	for _, c := range s.chunks {
		out <- ai.StreamChunk{Content: c}
	}
	out <- ai.StreamChunk{Done: true}
	close(out)
	return out, nil
}

type appEnv struct {
	app       *App
	store     *store.MemoryStore
	index     *vectorindex.MemoryIndex
	objects   *storage.MemoryStore
	queue     *fakeEnqueuer
	generator *fakeGenerator
	streamer  *fakeStreamer
}

func newAppEnv(t *testing.T) *appEnv {
	t.Helper()
	env := &appEnv{
		store:     store.NewMemoryStore(),
		index:     vectorindex.NewMemoryIndex(),
		objects:   storage.NewMemoryStore(),
		queue:     &fakeEnqueuer{},
		generator: &fakeGenerator{text: "translated answer"},
		streamer:  &fakeStreamer{chunks: []string{"The ", "answer."}},
	}
	a, err := New(Config{
		Store:     env.store,
		Index:     env.index,
		Objects:   env.objects,
		Queue:     env.queue,
		Embedder:  fakeEmbedder{},
		Generator: env.generator,
		Streamer:  env.streamer,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

func (e *appEnv) seedReadyDocument(t *testing.T, id, ownerID string) domain.Document {
	t.Helper()
	doc := domain.Document{
		ID:             id,
		OwnerID:        ownerID,
		Name:           "ready doc",
		Status:         domain.StatusSuccess,
		EmbeddingModel: "embed-test",
	}
	if err := e.store.SaveDocument(doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

func drain(t *testing.T, stream <-chan ai.StreamChunk) string {
	t.Helper()
	var full strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		full.WriteString(chunk.Content)
	}
	return full.String()
}

func TestUploadDocumentStoresAndEnqueues(t *testing.T) {
	env := newAppEnv(t)

	doc, err := env.app.UploadDocument(context.Background(), "user-1", "My Paper.pdf", bytes.NewReader([]byte("%PDF-")), 5)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", doc.Status)
	}
	if doc.Name != "My Paper" {
		t.Fatalf("name = %q, want extension stripped", doc.Name)
	}
	if len(env.queue.ids) != 1 || env.queue.ids[0] != doc.ID {
		t.Fatalf("enqueued ids = %v, want the new document", env.queue.ids)
	}
	if _, err := env.objects.Get(context.Background(), doc.StorageKey); err != nil {
		t.Fatalf("stored object missing: %v", err)
	}
}

func TestUploadDocumentMarksFailedWhenEnqueueFails(t *testing.T) {
	env := newAppEnv(t)
	env.queue.fail = true

	_, err := env.app.UploadDocument(context.Background(), "user-1", "notes.txt", bytes.NewReader([]byte("x")), 1)
	if err == nil {
		t.Fatalf("expected enqueue failure to surface")
	}
	docs, err := env.store.ListDocumentsByOwner("user-1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 || docs[0].Status != domain.StatusFailed {
		t.Fatalf("documents = %+v, want the row marked failed", docs)
	}
}

func TestGetDocumentHidesOtherOwners(t *testing.T) {
	env := newAppEnv(t)
	env.seedReadyDocument(t, "doc-1", "user-1")

	if _, err := env.app.GetDocument("user-2", "doc-1"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("foreign owner expected ErrDocumentNotFound, got %v", err)
	}
	if _, err := env.app.GetDocument("user-1", "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("missing id expected ErrDocumentNotFound, got %v", err)
	}
}

func TestAskQuestionPersistsQuestionBeforeModelCall(t *testing.T) {
	env := newAppEnv(t)
	doc := env.seedReadyDocument(t, "doc-1", "user-1")

	var historyAtCall []domain.Message
	env.streamer.onCalled = func() {
		historyAtCall, _ = env.store.ListRecentMessages(doc.ID, 10)
	}

	stream, err := env.app.AskQuestion(context.Background(), "user-1", doc.ID, "what is this?", "")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	answer := drain(t, stream)

	if len(historyAtCall) != 1 || historyAtCall[0].Role != domain.RoleUser || historyAtCall[0].Text != "what is this?" {
		t.Fatalf("history at model call = %+v, want just the persisted question", historyAtCall)
	}
	if answer != "The answer." {
		t.Fatalf("answer = %q, want concatenated chunks", answer)
	}

	messages, err := env.store.ListRecentMessages(doc.ID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("message count = %d, want question plus answer", len(messages))
	}
	if messages[1].Role != domain.RoleAssistant || messages[1].Text != "The answer." {
		t.Fatalf("assistant message = %+v", messages[1])
	}
}

func TestAskQuestionPersistsStreamedTextVerbatim(t *testing.T) {
	env := newAppEnv(t)
	doc := env.seedReadyDocument(t, "doc-1", "user-1")
	env.streamer.chunks = []string{"The answer.\n", "  "}

	stream, err := env.app.AskQuestion(context.Background(), "user-1", doc.ID, "what is this?", "")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	streamed := drain(t, stream)
	if streamed != "The answer.\n  " {
		t.Fatalf("streamed = %q, want every chunk forwarded as is", streamed)
	}

	messages, err := env.store.ListRecentMessages(doc.ID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("message count = %d, want question plus answer", len(messages))
	}
	if messages[1].Text != streamed {
		t.Fatalf("persisted %q, streamed %q, want them identical", messages[1].Text, streamed)
	}
}

func TestAskQuestionHistoryWindowExcludesCurrentQuestion(t *testing.T) {
	env := newAppEnv(t)
	doc := env.seedReadyDocument(t, "doc-1", "user-1")

	// Seven prior turns with a window of six: turn-1 falls out, the rest
	// stay even though the question is appended before the history fetch.
	base := time.Now().UTC().Add(-time.Hour)
	for i := 1; i <= 7; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		if err := env.store.AppendMessage(domain.Message{
			ID:         fmt.Sprintf("msg-%d", i),
			DocumentID: doc.ID,
			Role:       role,
			Text:       fmt.Sprintf("turn-%d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	stream, err := env.app.AskQuestion(context.Background(), "user-1", doc.ID, "latest question", "")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	drain(t, stream)

	if !strings.Contains(env.streamer.lastSys, "turn-2") || !strings.Contains(env.streamer.lastSys, "turn-7") {
		t.Fatalf("prompt = %q, want the six most recent prior turns", env.streamer.lastSys)
	}
	if strings.Contains(env.streamer.lastSys, "turn-1\n") {
		t.Fatalf("prompt = %q, turn outside the window leaked in", env.streamer.lastSys)
	}
	if strings.Contains(env.streamer.lastSys, "latest question") {
		t.Fatalf("prompt = %q, current question must not appear in history", env.streamer.lastSys)
	}
}

func TestAskQuestionRejectsUnreadyAndMismatchedDocuments(t *testing.T) {
	env := newAppEnv(t)
	if err := env.store.SaveDocument(domain.Document{
		ID: "doc-1", OwnerID: "user-1", Status: domain.StatusProcessing,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := env.app.AskQuestion(context.Background(), "user-1", "doc-1", "hi", ""); !errors.Is(err, ErrDocumentNotReady) {
		t.Fatalf("processing document expected ErrDocumentNotReady, got %v", err)
	}

	if err := env.store.SaveDocument(domain.Document{
		ID: "doc-2", OwnerID: "user-1", Status: domain.StatusSuccess, EmbeddingModel: "other-model",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := env.app.AskQuestion(context.Background(), "user-1", "doc-2", "hi", ""); !errors.Is(err, ErrEmbeddingModelMismatch) {
		t.Fatalf("stale embeddings expected ErrEmbeddingModelMismatch, got %v", err)
	}
}

func TestAskQuestionTranslatesAsSingleChunk(t *testing.T) {
	env := newAppEnv(t)
	doc := env.seedReadyDocument(t, "doc-1", "user-1")

	stream, err := env.app.AskQuestion(context.Background(), "user-1", doc.ID, "que es esto?", "Spanish")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	var contents []string
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		if chunk.Content != "" {
			contents = append(contents, chunk.Content)
		}
	}
	if len(contents) != 1 || contents[0] != "translated answer" {
		t.Fatalf("translated stream = %v, want one chunk with the translation", contents)
	}
	if !strings.Contains(env.generator.lastSys, "Spanish") {
		t.Fatalf("translation prompt = %q, language missing", env.generator.lastSys)
	}

	messages, _ := env.store.ListRecentMessages(doc.ID, 10)
	if len(messages) != 2 || messages[1].Text != "translated answer" {
		t.Fatalf("messages = %+v, want the translation persisted", messages)
	}
}

func TestAskQuestionSkipsPersistOnDisconnect(t *testing.T) {
	env := newAppEnv(t)
	doc := env.seedReadyDocument(t, "doc-1", "user-1")

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := env.app.AskQuestion(ctx, "user-1", doc.ID, "hi", "")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	// Disconnect before reading anything; the relay's only exit is the
	// canceled context.
	cancel()
	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatalf("expected stream closed without delivery after disconnect")
		}
	default:
		t.Fatalf("stream still open after disconnect")
	}

	messages, _ := env.store.ListRecentMessages(doc.ID, 10)
	if len(messages) != 1 {
		t.Fatalf("messages = %+v, want only the question persisted", messages)
	}
}

func TestDeleteDocumentRemovesRowNamespaceAndObject(t *testing.T) {
	env := newAppEnv(t)
	doc := domain.Document{
		ID:         "doc-1",
		OwnerID:    "user-1",
		Status:     domain.StatusSuccess,
		StorageKey: "documents/doc-1/notes.txt",
	}
	if err := env.store.SaveDocument(doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	ctx := context.Background()
	if err := env.objects.Put(ctx, doc.StorageKey, bytes.NewReader([]byte("x")), 1, "text/plain"); err != nil {
		t.Fatalf("seed object: %v", err)
	}
	if err := env.index.Upsert(ctx, doc.ID, []domain.Chunk{{ID: "c-1", Namespace: doc.ID, Content: "x", Embedding: []float32{1, 0, 0}}}); err != nil {
		t.Fatalf("seed chunk: %v", err)
	}

	if err := env.app.DeleteDocument(ctx, "user-1", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := env.store.GetDocument(doc.ID); ok {
		t.Fatalf("document row still present")
	}
	if _, err := env.objects.Get(ctx, doc.StorageKey); err == nil {
		t.Fatalf("stored object still present")
	}
	chunks, err := env.index.Query(ctx, doc.ID, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("query namespace: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("namespace still holds %d chunks", len(chunks))
	}
}

func TestRewriteUpdatesAssistantMessageInPlace(t *testing.T) {
	env := newAppEnv(t)
	doc := env.seedReadyDocument(t, "doc-1", "user-1")
	if err := env.store.AppendMessage(domain.Message{
		ID: "msg-1", DocumentID: doc.ID, Role: domain.RoleAssistant, Text: "original", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	env.generator.text = "shorter"

	got, err := env.app.Rewrite(context.Background(), "user-1", "msg-1", "original", domain.RewriteSummarize)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got != "shorter" {
		t.Fatalf("rewrite = %q", got)
	}
	stored, _, _ := env.store.GetMessage("msg-1")
	if stored.Text != "shorter" {
		t.Fatalf("stored text = %q, want rewrite persisted", stored.Text)
	}
}

func TestRewriteRejectsUserMessagesAndForeignOwners(t *testing.T) {
	env := newAppEnv(t)
	doc := env.seedReadyDocument(t, "doc-1", "user-1")
	if err := env.store.AppendMessage(domain.Message{
		ID: "msg-1", DocumentID: doc.ID, Role: domain.RoleUser, Text: "a question", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	if _, err := env.app.Rewrite(context.Background(), "user-1", "msg-1", "a question", domain.RewriteParaphrase); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("user-role message expected ErrMessageNotFound, got %v", err)
	}

	if err := env.store.AppendMessage(domain.Message{
		ID: "msg-2", DocumentID: doc.ID, Role: domain.RoleAssistant, Text: "an answer", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if _, err := env.app.Rewrite(context.Background(), "user-2", "msg-2", "an answer", domain.RewriteParaphrase); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("foreign owner expected ErrMessageNotFound, got %v", err)
	}
}
