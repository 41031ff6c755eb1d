package domain

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusSuccess    DocumentStatus = "success"
	StatusFailed     DocumentStatus = "failed"
)

// RewriteMode selects the post-processing template applied to an
// existing assistant message.
type RewriteMode string

const (
	RewriteSummarize  RewriteMode = "summarize"
	RewriteParaphrase RewriteMode = "paraphrase"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultLanguage is the sentinel meaning "no translation".
const DefaultLanguage = "English"

type Document struct {
	ID               string         `json:"id"`
	OwnerID          string         `json:"ownerId"`
	Name             string         `json:"name"`
	OriginalFilename string         `json:"originalFilename"`
	StorageKey       string         `json:"-"`
	Status           DocumentStatus `json:"status"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	SizeBytes        int64          `json:"sizeBytes"`
	PageCount        int            `json:"pageCount,omitempty"`
	EmbeddingModel   string         `json:"-"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

type Message struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Chunk is the unit of vector indexing. Chunks exist only in the vector
// index, namespaced by document id, and are dropped with the namespace.
type Chunk struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"-"`
}

// MessagePage is one page of a reverse-chronological message listing.
// NextCursor is empty when no earlier messages remain.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor,omitempty"`
}
