package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"paperchat/internal/util"
	"paperchat/pkg/domain"
)

// UploadDocument stores a new document file, records it as pending, and
// enqueues ingestion. The stored object is removed again when the row
// cannot be written.
func (a *App) UploadDocument(ctx context.Context, ownerID, filename string, r io.Reader, size int64) (domain.Document, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Document{}, errors.New("owner id required")
	}
	if strings.TrimSpace(filename) == "" {
		return domain.Document{}, errors.New("filename required")
	}
	id := util.NewID()
	storageKey := buildStorageKey(id, filename)
	doc := domain.Document{
		ID:               id,
		OwnerID:          ownerID,
		Name:             nameFromFilename(filename),
		OriginalFilename: filepath.Base(filename),
		StorageKey:       storageKey,
		Status:           domain.StatusPending,
		SizeBytes:        size,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, storageKey, r, size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		_ = a.objects.Delete(ctx, storageKey)
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	if _, err := a.queue.Enqueue(ctx, id); err != nil {
		_ = a.store.SetStatus(id, domain.StatusFailed, err.Error())
		return domain.Document{}, fmt.Errorf("enqueue ingest: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the caller's documents, newest first.
func (a *App) ListDocuments(ownerID string) ([]domain.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("owner id required")
	}
	return a.store.ListDocumentsByOwner(ownerID)
}

// GetDocument retrieves one document. Absent and unowned are both
// reported as ErrDocumentNotFound.
func (a *App) GetDocument(ownerID, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(strings.TrimSpace(id))
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok || doc.OwnerID != ownerID {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// DeleteDocument removes the relational row, the vector namespace, and
// the stored object. Row and namespace deletes run concurrently; the
// first failure is returned.
func (a *App) DeleteDocument(ctx context.Context, ownerID, id string) error {
	doc, err := a.GetDocument(ownerID, id)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.store.DeleteDocument(doc.ID); err != nil {
			return fmt.Errorf("delete document row: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.index.DeleteNamespace(gctx, doc.ID); err != nil {
			return fmt.Errorf("delete vector namespace: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if doc.StorageKey == "" {
			return nil
		}
		if err := a.objects.Delete(gctx, doc.StorageKey); err != nil {
			return fmt.Errorf("delete stored object: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// DocumentDownloadURL returns a short-lived presigned URL for the
// stored original file.
func (a *App) DocumentDownloadURL(ctx context.Context, ownerID, id string) (string, error) {
	doc, err := a.GetDocument(ownerID, id)
	if err != nil {
		return "", err
	}
	if doc.StorageKey == "" {
		return "", ErrDocumentNotFound
	}
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

// ListMessages returns one descending page of a document's messages.
func (a *App) ListMessages(ownerID, documentID string, limit int, cursor string) (domain.MessagePage, error) {
	doc, err := a.GetDocument(ownerID, documentID)
	if err != nil {
		return domain.MessagePage{}, err
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	page, err := a.store.ListMessagesPage(doc.ID, limit, cursor)
	if err != nil {
		return domain.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	return page, nil
}

func nameFromFilename(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	title := strings.TrimSpace(strings.TrimSuffix(base, ext))
	if title == "" {
		return "Untitled document"
	}
	return title
}

func buildStorageKey(documentID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "document"
	}
	return path.Join("documents", documentID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "._")
}
