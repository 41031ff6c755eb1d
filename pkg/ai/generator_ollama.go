package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OllamaGenerator produces text with a local Ollama chat model.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// GenerateText runs a single non-streaming chat completion.
func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := ollamaChatRequest{
		Model:    g.model,
		Messages: chatMessages(systemPrompt, userPrompt),
		Stream:   false,
	}
	var resp ollamaChatResponse
	if _, err := g.client.doJSON(ctx, "/api/chat", reqBody, &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", fmt.Errorf("ollama chat returned empty content")
	}
	return text, nil
}

// GenerateStream runs a streaming chat completion. Ollama emits one JSON
// object per line until a final object with done=true.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan StreamChunk, error) {
	reqBody := ollamaChatRequest{
		Model:    g.model,
		Messages: chatMessages(systemPrompt, userPrompt),
		Stream:   true,
	}
	resp, err := g.client.doStream(ctx, "/api/chat", reqBody)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var piece ollamaChatResponse
			if err := json.Unmarshal(line, &piece); err != nil {
				emit(ctx, out, StreamChunk{Err: fmt.Errorf("decode ollama stream: %w", err)})
				return
			}
			if piece.Message.Content != "" {
				if !emit(ctx, out, StreamChunk{Content: piece.Message.Content}) {
					return
				}
			}
			if piece.Done {
				emit(ctx, out, StreamChunk{Done: true})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, out, StreamChunk{Err: fmt.Errorf("read ollama stream: %w", err)})
			return
		}
		emit(ctx, out, StreamChunk{Done: true})
	}()
	return out, nil
}

func chatMessages(systemPrompt, userPrompt string) []ollamaChatMessage {
	msgs := make([]ollamaChatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, ollamaChatMessage{Role: "user", Content: userPrompt})
	return msgs
}

// emit sends a chunk unless the context is already cancelled. It reports
// whether the send happened.
func emit(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
