package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/42012606/Memex-Neural/internal/config"
	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

// Instrumentation is the optional HTTP metrics surface.
type Instrumentation interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

type Dependencies struct {
	Ingest  ports.DocumentIngestor
	Docs    ports.DocumentReader
	Search  ports.SearchService
	Vectors ports.VectorAdmin
	Metrics Instrumentation
	Logger  *slog.Logger
}

type Router struct {
	cfg  config.Config
	deps Dependencies
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{cfg: cfg, deps: deps}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(accessLogMiddleware(rt.deps.Logger))
	if rt.deps.Metrics != nil {
		r.Use(rt.deps.Metrics.Middleware)
	}
	if rt.cfg.APIRateLimitRPS > 0 {
		r.Use(rateLimitMiddleware(rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst))
	}
	if rt.cfg.APIMaxInFlight > 0 {
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
		})
	}
	if len(rt.cfg.APIKeys) > 0 {
		r.Use(bearerAuthMiddleware(rt.cfg.APIKeys, "/healthz", "/metrics"))
	}

	r.Get("/healthz", rt.healthz)
	if rt.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", rt.uploadDocument)
		r.Get("/documents/{id}", rt.getDocument)
		r.Delete("/documents/{id}", rt.deleteDocument)
		r.Post("/documents/{id}/retry", rt.retryDocument)
		r.Post("/documents/{id}/reindex", rt.reindexDocument)
		r.Delete("/documents/{id}/vector", rt.deleteVector)
		r.Post("/search", rt.search)
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadMB<<20)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeErrorCode(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "")
			return
		}
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("multipart field 'file' is required")))
		return
	}
	defer file.Close()

	owner := strings.TrimSpace(r.FormValue("owner"))
	if owner == "" {
		owner = rt.cfg.DefaultOwner
	}
	doc, err := rt.deps.Ingest.Upload(r.Context(), ports.UploadRequest{
		OwnerID:  owner,
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Model:    r.FormValue("model"),
		Body:     file,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := rt.deps.Docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := rt.deps.Ingest.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) retryDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := rt.deps.Ingest.Retry(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"document_id": id, "status": domain.StatusPending})
}

func (rt *Router) reindexDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	vectorized, err := rt.deps.Vectors.ReindexDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "vectorized": vectorized})
}

func (rt *Router) deleteVector(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	removed, err := rt.deps.Vectors.DeleteDocumentVector(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "removed": removed})
}

type searchRequest struct {
	Query     string   `json:"query"`
	Keywords  []string `json:"keywords"`
	TopK      int      `json:"top_k"`
	Owner     string   `json:"owner"`
	TimeRange string   `json:"time_range"`
	FileType  string   `json:"file_type"`
}

type searchResponse struct {
	Query string             `json:"query"`
	Count int                `json:"count"`
	Hits  []domain.SearchHit `json:"hits"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("invalid json")))
		return
	}

	hits, err := rt.deps.Search.HybridSearch(r.Context(), domain.SearchRequest{
		Query:     req.Query,
		Keywords:  req.Keywords,
		TopK:      req.TopK,
		Scope:     domain.SearchScope{OwnerID: strings.TrimSpace(req.Owner)},
		TimeRange: req.TimeRange,
		FileType:  domain.FileType(req.FileType),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Count: len(hits), Hits: hits})
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "document id", fmt.Errorf("%q is not a document id", raw)))
		return 0, false
	}
	return id, true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	detail := ""
	if code == "invalid_input" {
		detail = invalidInputDetail(err)
	}
	writeErrorCode(w, r, status, code, detail)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	lang := preferredLanguage(r.Header.Get("Accept-Language"))
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: translate(lang, code, detail)}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
