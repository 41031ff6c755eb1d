package store

import (
	"errors"

	"paperchat/pkg/domain"
)

// ErrNotFound is returned by mutations targeting a missing row.
var ErrNotFound = errors.New("store: not found")

// Store defines persistence operations for documents and messages.
type Store interface {
	// documents
	SaveDocument(doc domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	SetStatus(id string, status domain.DocumentStatus, errMsg string) error
	SetIngestResult(id string, pageCount int, embeddingModel string) error
	DeleteDocument(id string) error

	// messages
	AppendMessage(msg domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	UpdateMessageText(id string, text string) error
	ListRecentMessages(documentID string, limit int) ([]domain.Message, error)
	ListMessagesPage(documentID string, limit int, cursor string) (domain.MessagePage, error)
}
