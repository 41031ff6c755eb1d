package app

import "errors"

var (
	// ErrDocumentNotFound covers both absent and unowned documents so the
	// API never reveals whether another user's document exists.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentNotReady indicates ingestion has not completed.
	ErrDocumentNotReady = errors.New("document not ready")
	// ErrMessageNotFound indicates an absent or unowned message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrEmbeddingModelMismatch indicates the configured embedding model
	// differs from the one the document was indexed with.
	ErrEmbeddingModelMismatch = errors.New("embedding model mismatch")
)
