package server

import (
	"net/http"
	"strings"
	"testing"
)

func TestChatRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{ChatRateLimitPerMinute: 1})
	seedReadyDocument(t, env.store, "doc-1", "user-1")

	resp := env.do(t, http.MethodPost, "/api/chat",
		strings.NewReader(`{"documentId":"doc-1","message":"hi"}`), "application/json")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first chat request expected 200, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/chat",
		strings.NewReader(`{"documentId":"doc-1","message":"hi"}`), "application/json")
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second chat request expected 429, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
}

func TestUploadRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{UploadRateLimitPerHour: 1})

	body, contentType := multipartFile(t, "a.txt", "one")
	resp := env.do(t, http.MethodPost, "/api/documents", body, contentType)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first upload expected 201, got %d", resp.StatusCode)
	}

	body, contentType = multipartFile(t, "b.txt", "two")
	resp = env.do(t, http.MethodPost, "/api/documents", body, contentType)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second upload expected 429, got %d", resp.StatusCode)
	}
}
