package store

import (
	"sort"
	"sync"
	"time"

	"paperchat/pkg/domain"
)

// MemoryStore keeps documents and messages in-process. Used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	messages  map[string][]domain.Message // documentID -> append order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]domain.Document),
		messages:  make(map[string][]domain.Message),
	}
}

func (m *MemoryStore) SaveDocument(doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = doc
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	return doc, ok, nil
}

func (m *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, doc := range m.documents {
		if doc.OwnerID == ownerID {
			res = append(res, doc)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) SetStatus(id string, status domain.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	m.documents[id] = doc
	return nil
}

func (m *MemoryStore) SetIngestResult(id string, pageCount int, embeddingModel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.PageCount = pageCount
	doc.EmbeddingModel = embeddingModel
	doc.UpdatedAt = time.Now().UTC()
	m.documents[id] = doc
	return nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.DocumentID] = append(m.messages[msg.DocumentID], msg)
	return nil
}

func (m *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == id {
				return msg, true, nil
			}
		}
	}
	return domain.Message{}, false, nil
}

func (m *MemoryStore) UpdateMessageText(id string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for docID, msgs := range m.messages {
		for i, msg := range msgs {
			if msg.ID == id {
				msgs[i].Text = text
				m.messages[docID] = msgs
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) ListRecentMessages(documentID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.sortedAsc(documentID)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *MemoryStore) ListMessagesPage(documentID string, limit int, cursor string) (domain.MessagePage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		return domain.MessagePage{Messages: []domain.Message{}}, nil
	}
	asc := m.sortedAsc(documentID)
	desc := make([]domain.Message, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		desc = append(desc, asc[i])
	}
	start := 0
	if cursor != "" {
		start = -1
		for i, msg := range desc {
			if msg.ID == cursor {
				start = i
				break
			}
		}
		if start < 0 {
			return domain.MessagePage{Messages: []domain.Message{}}, nil
		}
	}
	rest := desc[start:]
	page := domain.MessagePage{}
	if len(rest) > limit {
		page.NextCursor = rest[limit].ID
		rest = rest[:limit]
	}
	page.Messages = append([]domain.Message{}, rest...)
	return page, nil
}

func (m *MemoryStore) sortedAsc(documentID string) []domain.Message {
	msgs := append([]domain.Message{}, m.messages[documentID]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs
}
