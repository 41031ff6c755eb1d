package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// StreamChunk is one increment of a streaming completion. Err is set on
// the final chunk when the stream terminated abnormally.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// StreamGenerator incrementally delivers a completion. The returned
// channel is closed after the final chunk; callers must drain it.
type StreamGenerator interface {
	GenerateStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan StreamChunk, error)
}
