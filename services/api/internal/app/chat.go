package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paperchat/internal/util"
	"paperchat/pkg/ai"
	"paperchat/pkg/domain"
	"paperchat/pkg/prompt"
)

// AskQuestion runs the retrieval pipeline and returns a channel of answer
// chunks. The user question is persisted before any model call; the
// assistant reply is persisted after the stream drains, and a failure
// there is logged rather than surfaced. When language is not the default,
// generation chunks are withheld and the translated text is delivered as
// a single chunk instead.
func (a *App) AskQuestion(ctx context.Context, ownerID, documentID, question, language string) (<-chan ai.StreamChunk, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question required")
	}
	doc, err := a.GetDocument(ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != domain.StatusSuccess {
		return nil, ErrDocumentNotReady
	}
	if doc.EmbeddingModel != "" && doc.EmbeddingModel != a.embedder.Model() {
		return nil, fmt.Errorf("%w: indexed with %s, configured %s",
			ErrEmbeddingModelMismatch, doc.EmbeddingModel, a.embedder.Model())
	}

	// The question is recorded before generation so history stays
	// consistent even when the model call fails.
	if err := a.store.AppendMessage(domain.Message{
		ID:         util.NewID(),
		DocumentID: doc.ID,
		Role:       domain.RoleUser,
		Text:       question,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("save question: %w", err)
	}

	queryEmbedding, err := a.embedder.EmbedText(ctx, question, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	chunks, err := a.index.Query(ctx, doc.ID, queryEmbedding, a.topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	contextBlocks := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		contextBlocks = append(contextBlocks, chunk.Content)
	}

	// Fetch one extra message: the question itself was just appended and
	// is trimmed below, leaving a full window of what came before it.
	history, err := a.store.ListRecentMessages(doc.ID, a.historyLimit+1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser && history[n-1].Text == question {
		history = history[:n-1]
	}
	if len(history) > a.historyLimit {
		history = history[len(history)-a.historyLimit:]
	}

	systemPrompt := prompt.ChatSystem(contextBlocks, history)
	stream, err := a.streamer.GenerateStream(ctx, systemPrompt, question)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	translate := language != "" && !strings.EqualFold(language, domain.DefaultLanguage)
	out := make(chan ai.StreamChunk)
	go a.relayAnswer(ctx, doc.ID, language, translate, stream, out)
	return out, nil
}

// relayAnswer forwards generation chunks to out while accumulating the
// full text, applies the optional translation pass, and persists the
// assistant message once the caller-visible stream is complete.
func (a *App) relayAnswer(ctx context.Context, documentID, language string, translate bool, stream <-chan ai.StreamChunk, out chan<- ai.StreamChunk) {
	defer close(out)
	logger := util.LoggerFromContext(ctx)

	var full strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			a.deliver(ctx, out, ai.StreamChunk{Err: chunk.Err})
			return
		}
		if chunk.Content != "" {
			full.WriteString(chunk.Content)
			if !translate {
				if !a.deliver(ctx, out, ai.StreamChunk{Content: chunk.Content}) {
					return
				}
			}
		}
		if chunk.Done {
			break
		}
	}

	// The persisted text must match the streamed chunks byte for byte, so
	// the accumulated answer is kept as is.
	answer := full.String()
	if answer == "" {
		a.deliver(ctx, out, ai.StreamChunk{Err: errors.New("empty answer from model")})
		return
	}

	if translate {
		translated, err := a.generator.GenerateText(ctx,
			prompt.TranslationSystem(language, answer),
			prompt.TranslationUser(language))
		if err != nil {
			a.deliver(ctx, out, ai.StreamChunk{Err: fmt.Errorf("translate answer: %w", err)})
			return
		}
		answer = strings.TrimSpace(translated)
		if !a.deliver(ctx, out, ai.StreamChunk{Content: answer}) {
			return
		}
	}

	if !a.deliver(ctx, out, ai.StreamChunk{Done: true}) {
		return
	}

	if err := a.store.AppendMessage(domain.Message{
		ID:         util.NewID(),
		DocumentID: documentID,
		Role:       domain.RoleAssistant,
		Text:       answer,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		logger.Error("save assistant message", "document_id", documentID, "err", err)
	}
}

func (a *App) deliver(ctx context.Context, out chan<- ai.StreamChunk, chunk ai.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
