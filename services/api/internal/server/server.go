package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"paperchat/internal/ratelimit"
	"paperchat/internal/usertoken"
	"paperchat/internal/util"
	"paperchat/pkg/domain"
	"paperchat/services/api/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                    *app.App
	TokenVerifier          *usertoken.Verifier
	RedisAddr              string
	RedisPassword          string
	ChatRateLimitPerMinute int
	UploadRateLimitPerHour int
	MaxUploadBytes         int64
	AllowedExtensions      []string
	TrustedProxies         *util.TrustedProxies
}

// Server exposes the HTTP API.
type Server struct {
	app               *app.App
	tokenVerifier     *usertoken.Verifier
	mux               *http.ServeMux
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	trustedProxies    *util.TrustedProxies
	chatLimiter       *ratelimit.FixedWindowLimiter
	uploadLimiter     *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	chatLimit := cfg.ChatRateLimitPerMinute
	if chatLimit <= 0 {
		chatLimit = 30
	}
	uploadLimit := cfg.UploadRateLimitPerHour
	if uploadLimit <= 0 {
		uploadLimit = 20
	}
	chatLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "paperchat:api:ratelimit:chat", chatLimit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init chat limiter: %w", err)
	}
	uploadLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "paperchat:api:ratelimit:upload", uploadLimit, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("init upload limiter: %w", err)
	}
	s := &Server{
		app:               cfg.App,
		tokenVerifier:     cfg.TokenVerifier,
		mux:               http.NewServeMux(),
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		trustedProxies:    cfg.TrustedProxies,
		chatLimiter:       chatLimiter,
		uploadLimiter:     uploadLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("api", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/api/documents/", s.authenticated(s.handleDocumentByID))
	s.mux.Handle("/api/summarize", s.authenticated(s.handleSummarize))

	// The chat endpoint speaks plain text end to end, errors included.
	s.mux.HandleFunc("/api/chat", s.handleChat)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrapper
type authHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) authorize(r *http.Request) (string, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.token.verify", "fail", "reason", "missing_token")
		return "", false
	}
	userID, err := s.tokenVerifier.VerifySubject(token)
	if err != nil {
		s.audit(r, "api.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return "", false
	}
	return userID, true
}

// /api/documents
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, userID)
	case http.MethodGet:
		s.handleListDocuments(w, userID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID string) {
	// Uploads are limited per client IP so one user cannot saturate
	// ingestion from many accounts behind the same address.
	if !s.allowRate(w, r, s.uploadLimiter, util.ClientIP(r, s.trustedProxies), "too many uploads") {
		s.audit(r, "api.document.upload", "rate_limited", "user_id", userID)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if !s.isExtensionAllowed(header.Filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	doc, err := s.app.UploadDocument(r.Context(), userID, header.Filename, file, header.Size)
	if err != nil {
		s.audit(r, "api.document.upload", "fail", "user_id", userID, "reason", err.Error())
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	s.audit(r, "api.document.upload", "success", "user_id", userID, "document_id", doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, userID string) {
	docs, err := s.app.ListDocuments(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

// /api/documents/{id} or /api/documents/{id}/messages
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "messages":
			s.handleMessages(w, r, userID, id)
		case "file":
			s.handleDownload(w, r, userID, id)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetDocument(userID, id)
		if err != nil {
			writeDocumentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), userID, id); err != nil {
			s.audit(r, "api.document.delete", "fail", "user_id", userID, "document_id", id, "reason", err.Error())
			writeDocumentError(w, err)
			return
		}
		s.audit(r, "api.document.delete", "success", "user_id", userID, "document_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, userID, documentID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	limit := parseLimit(query, 10)
	page, err := s.app.ListMessages(userID, documentID, limit, strings.TrimSpace(query.Get("cursor")))
	if err != nil {
		writeDocumentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, userID, documentID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	downloadURL, err := s.app.DocumentDownloadURL(r.Context(), userID, documentID)
	if err != nil {
		writeDocumentError(w, err)
		return
	}
	http.Redirect(w, r, downloadURL, http.StatusFound)
}

// /api/chat streams the answer as chunked text/plain. Error responses
// on this route are plain text as well.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.authorize(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.allowRatePlain(w, s.chatLimiter, userID) {
		s.audit(r, "api.chat", "rate_limited", "user_id", userID)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "documentId and message are required", http.StatusBadRequest)
		return
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = domain.DefaultLanguage
	}

	stream, err := s.app.AskQuestion(r.Context(), userID, req.DocumentID, req.Message, language)
	if err != nil {
		writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	wrote := false
	for chunk := range stream {
		if chunk.Err != nil {
			if !wrote {
				http.Error(w, "failed to generate answer", http.StatusInternalServerError)
			}
			util.LoggerFromContext(r.Context()).Error("chat stream", "err", chunk.Err)
			return
		}
		if chunk.Content == "" {
			continue
		}
		if _, err := io.WriteString(w, chunk.Content); err != nil {
			return
		}
		wrote = true
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// /api/summarize
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req summarizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "text and id are required")
		return
	}
	mode := domain.RewriteMode(strings.ToLower(strings.TrimSpace(req.Option)))
	if mode != domain.RewriteSummarize && mode != domain.RewriteParaphrase {
		writeError(w, http.StatusBadRequest, "option must be summarize or paraphrase")
		return
	}
	content, err := s.app.Rewrite(r.Context(), userID, req.ID, req.Text, mode)
	if err != nil {
		if errors.Is(err, app.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		util.LoggerFromContext(r.Context()).Error("rewrite", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type chatRequest struct {
	DocumentID string `json:"documentId"`
	Message    string `json:"message"`
	Language   string `json:"language,omitempty"`
}

type summarizeRequest struct {
	Text   string `json:"text"`
	Option string `json:"option"`
	ID     string `json:"id"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func parseLimit(query url.Values, def int) int {
	raw := strings.TrimSpace(query.Get("limit"))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeDocumentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, app.ErrDocumentNotReady):
		writeError(w, http.StatusConflict, "document not ready")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeChatError keeps the chat route's plain-text contract.
func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, app.ErrDocumentNotReady), errors.Is(err, app.ErrEmbeddingModelMismatch):
		http.Error(w, "document not ready", http.StatusConflict)
	default:
		http.Error(w, "failed to generate answer", http.StatusInternalServerError)
	}
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 32 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".pdf", ".epub", ".txt"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key, msg string) bool {
	if key == "" {
		key = util.ClientIP(r, s.trustedProxies)
	}
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) allowRatePlain(w http.ResponseWriter, limiter *ratelimit.FixedWindowLimiter, userID string) bool {
	if limiter.Allow(userID) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	http.Error(w, "too many requests", http.StatusTooManyRequests)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}
