// Package server exposes the HTTP surface over the ingestion queue,
// hybrid retrieval pipeline, and reference validator: enqueue content
// for background processing, check task status, run a retrieval query,
// and validate the references a client wants to attach to an answer.
// Generalized from the teacher's chi-router server.go.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/config"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/llmclient"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/queue"
	"github.com/perstarkse/minnego/internal/refs"
	"github.com/perstarkse/minnego/internal/rerank"
	"github.com/perstarkse/minnego/internal/retrieval"
	"github.com/perstarkse/minnego/internal/store"
)

type ctxKey int

const userCtxKey ctxKey = iota

// TaskQueue is the subset of *queue.Queue the HTTP surface depends on,
// narrowed to an interface so handlers can be tested against an
// in-memory fake instead of a live Postgres-backed queue.
type TaskQueue interface {
	CreateAndAdd(ctx context.Context, content queue.IngestionPayload, userID string) (queue.Task, error)
	GetByID(ctx context.Context, id string) (queue.Task, error)
	GetUnfinishedTasks(ctx context.Context) ([]queue.Task, error)
}

// Server wires HTTP handlers to the queue, store, retrieval, and chat
// dependencies.
type Server struct {
	cfg           config.Config
	router        http.Handler
	store         store.Store
	queue         TaskQueue
	embeddingProv embedding.Provider
	llm           llmclient.Client
	rerankPool    *rerank.Pool
}

// New constructs a Server with the provided dependencies. llm and
// rerankPool may be nil: without an llm, /api/query returns retrieval
// results with no generated answer; without a rerankPool, retrieval
// skips the rerank stage entirely.
func New(cfg config.Config, st store.Store, q TaskQueue, embeddingProv embedding.Provider, llm llmclient.Client, rerankPool *rerank.Pool) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:           cfg,
		router:        mux,
		store:         st,
		queue:         q,
		embeddingProv: embeddingProv,
		llm:           llm,
		rerankPool:    rerankPool,
	}

	mux.Get("/api/health", s.handleHealth)

	mux.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/api/ingest/text", s.handleIngestText)
		r.Post("/api/ingest/url", s.handleIngestURL)
		r.Post("/api/ingest/file", s.handleIngestFile)
		r.Get("/api/tasks", s.handleListTasks)
		r.Get("/api/tasks/{id}", s.handleGetTask)
		r.Get("/api/queue/length", s.handleQueueLength)
		r.Post("/api/query", s.handleQuery)
		r.Post("/api/references/validate", s.handleValidateReferences)
		r.Delete("/api/content/{id}", s.handleDeleteTextContent)
		r.Delete("/api/relationships/{id}", s.handleDeleteRelationship)
	})

	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireUser resolves the caller from the X-API-Key header and stores
// the resolved user on the request context. Anonymous requests (no
// header) are rejected rather than falling back to a shared identity,
// since every downstream operation is scoped per-user.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing X-API-Key header"))
			return
		}

		user, found, err := s.store.GetUserByAPIKey(r.Context(), apiKey)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusUnauthorized, errors.New("unrecognized API key"))
			return
		}

		ctx := context.WithValue(r.Context(), userCtxKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) model.User {
	user, _ := ctx.Value(userCtxKey).(model.User)
	return user
}

type ingestTextRequest struct {
	Text     string `json:"text"`
	Context  string `json:"context"`
	Category string `json:"category"`
}

func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text must not be empty"))
		return
	}

	payload := queue.IngestionPayload{
		Kind:     queue.PayloadText,
		Text:     req.Text,
		Context:  req.Context,
		Category: req.Category,
		UserID:   user.ID,
	}
	s.enqueue(w, r, payload, user.ID)
}

type ingestURLRequest struct {
	URL      string `json:"url"`
	Context  string `json:"context"`
	Category string `json:"category"`
}

func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req ingestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url must not be empty"))
		return
	}

	payload := queue.IngestionPayload{
		Kind:     queue.PayloadURL,
		URL:      req.URL,
		Context:  req.Context,
		Category: req.Category,
		UserID:   user.ID,
	}
	s.enqueue(w, r, payload, user.ID)
}

func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read file: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("read upload: %w", err))
		return
	}

	mimeType := header.Header.Get("Content-Type")

	payload := queue.IngestionPayload{
		Kind:     queue.PayloadFile,
		FileName: header.Filename,
		MimeType: mimeType,
		FileData: data,
		Context:  r.FormValue("context"),
		Category: r.FormValue("category"),
		UserID:   user.ID,
	}
	s.enqueue(w, r, payload, user.ID)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, payload queue.IngestionPayload, userID string) {
	task, err := s.queue.CreateAndAdd(r.Context(), payload, userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task": task})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, err := s.queue.GetByID(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if task.UserID != user.ID {
		writeError(w, http.StatusNotFound, errors.New("task not found"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	tasks, err := s.queue.GetUnfinishedTasks(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	owned := make([]queue.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.UserID == user.ID {
			owned = append(owned, t)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"tasks": owned})
}

func (s *Server) handleQueueLength(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.queue.GetUnfinishedTasks(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"length": len(tasks)})
}

type queryRequest struct {
	Query string `json:"query"`
	// Strategy selects the retrieval strategy: "initial" (default,
	// entity-centric), "revised" (RRF across vector/FTS chunk
	// rankings), or "chunks" (plain vector chunk search). See spec
	// section 4.E.
	Strategy string `json:"strategy"`
	// IncludeChunks additionally runs the chunk-ranking stages
	// alongside the "initial" strategy's entity stages, producing the
	// combined Search{entities, chunks} output shape instead of
	// Entities alone. Ignored for the "revised"/"chunks" strategies,
	// whose output is chunks-only regardless.
	IncludeChunks bool     `json:"include_chunks"`
	References    []string `json:"references"`
	Generate      bool     `json:"generate"`
}

type entityResultView struct {
	Entity model.KnowledgeEntity `json:"entity"`
	Score  float32               `json:"score"`
	Chunks []chunkResultView     `json:"chunks"`
}

type chunkResultView struct {
	Chunk model.TextChunk `json:"chunk"`
	Score float32         `json:"score"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query must not be empty"))
		return
	}

	strategy, err := retrieval.ParseStrategy(req.Strategy)
	if err != nil {
		writeAppError(w, err)
		return
	}

	var lease *rerank.Lease
	if s.rerankPool != nil {
		acquired, err := s.rerankPool.Acquire(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		lease = acquired
		defer lease.Release()
	}

	pc := retrieval.NewContext(s.store, s.embeddingProv, lease, req.Query, user.ID, s.cfg.Tuning)
	if err := retrieval.RunStages(r.Context(), pc, retrieval.StagesFor(strategy)...); err != nil {
		writeAppError(w, err)
		return
	}
	// Search output shape: the "initial" strategy can additionally run
	// the chunk-ranking stages against the same query embedding,
	// returning entities and chunks together instead of entities alone.
	if strategy == retrieval.StrategyInitial && req.IncludeChunks {
		if err := retrieval.RunStages(r.Context(), pc, retrieval.ChunkOnlyStages()...); err != nil {
			writeAppError(w, err)
			return
		}
	}

	allowedIDs := make([]string, 0, len(pc.EntityResults)*2+len(pc.ChunkResults))
	entityViews := make([]entityResultView, 0, len(pc.EntityResults))
	for _, er := range pc.EntityResults {
		allowedIDs = append(allowedIDs, er.Entity.ID)
		chunks := make([]chunkResultView, 0, len(er.Chunks))
		for _, c := range er.Chunks {
			allowedIDs = append(allowedIDs, c.Chunk.ID)
			chunks = append(chunks, chunkResultView{Chunk: c.Chunk, Score: c.Score})
		}
		entityViews = append(entityViews, entityResultView{Entity: er.Entity, Score: er.Score, Chunks: chunks})
	}

	chunkViews := make([]chunkResultView, 0, len(pc.ChunkResults))
	for _, c := range pc.ChunkResults {
		allowedIDs = append(allowedIDs, c.Chunk.ID)
		chunkViews = append(chunkViews, chunkResultView{Chunk: c.Chunk, Score: c.Score})
	}

	var refResult *refs.Result
	if len(req.References) > 0 {
		result, err := refs.Validate(r.Context(), s.store, user.ID, req.References, allowedIDs)
		if err != nil {
			writeAppError(w, err)
			return
		}
		refResult = &result
	}

	// Response shape follows strategy: "initial" alone returns
	// entities; "revised"/"chunks" return chunks; "initial" with
	// include_chunks returns both (Search{entities, chunks}).
	response := map[string]any{"references": refResult}
	switch {
	case retrieval.IsChunkStrategy(strategy):
		response["chunks"] = chunkViews
	case req.IncludeChunks:
		response["entities"] = entityViews
		response["chunks"] = chunkViews
	default:
		response["entities"] = entityViews
	}

	if req.Generate && s.llm != nil {
		answer, err := s.generateAnswer(r.Context(), req.Query, pc.EntityResults, pc.ChunkResults)
		if err != nil {
			writeAppError(w, err)
			return
		}
		response["answer"] = answer
	}

	writeJSON(w, http.StatusOK, response)
}

// generateAnswer builds a context block from the retrieved entities'
// best chunks (and, for the chunk-centric strategies, the top-level
// chunk results) and asks the chat model to answer grounded in them,
// generalizing the teacher's buildPrompt/Generate call to the hybrid
// retrieval result set instead of whole conversation documents.
func (s *Server) generateAnswer(ctx context.Context, query string, entities []retrieval.RetrievedEntity, chunks []retrieval.RetrievedChunk) (string, error) {
	const maxContextChars = 12000

	var b strings.Builder
	for _, er := range entities {
		for _, c := range er.Chunks {
			if b.Len()+len(c.Chunk.Chunk) > maxContextChars {
				break
			}
			b.WriteString(fmt.Sprintf("[%s] %s\n\n", c.Chunk.ID, c.Chunk.Chunk))
		}
	}
	for _, c := range chunks {
		if b.Len()+len(c.Chunk.Chunk) > maxContextChars {
			break
		}
		b.WriteString(fmt.Sprintf("[%s] %s\n\n", c.Chunk.ID, c.Chunk.Chunk))
	}

	systemPrompt := "You are a helpful assistant. Answer the question using only the bracketed reference passages below. " +
		"Cite the reference ids you used in your answer.\n\n" + b.String()

	messages := []llmclient.Message{
		llmclient.NewTextMessage(llmclient.RoleSystem, systemPrompt),
		llmclient.NewTextMessage(llmclient.RoleUser, query),
	}

	return s.llm.Complete(ctx, messages)
}

type validateReferencesRequest struct {
	References []string `json:"references"`
	AllowedIDs []string `json:"allowed_ids"`
}

func (s *Server) handleValidateReferences(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req validateReferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	result, err := refs.Validate(r.Context(), s.store, user.ID, req.References, req.AllowedIDs)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleDeleteTextContent deletes a TextContent the caller owns,
// cascading to its chunks, entities, embeddings, and relationships
// (spec 4.A: "TextContent owns its derived ... (they are deleted when
// the TextContent is deleted, by source_id subquery)").
func (s *Server) handleDeleteTextContent(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id := chi.URLParam(r, "id")

	tc, err := s.store.GetTextContent(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if tc.UserID != user.ID {
		writeError(w, http.StatusNotFound, errors.New("text content not found"))
		return
	}

	if err := s.store.DeleteTextContent(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteRelationship deletes a single KnowledgeRelationship the
// caller owns (spec 4.A: "may be deleted by owner only").
func (s *Server) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteRelationship(r.Context(), id, user.ID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Printf("failed to write JSON response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeAppError maps an apperr.Kind to an HTTP status, falling back to
// 500 for anything untagged.
func writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAuth:
		status = http.StatusForbidden
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindEmbedding:
		status = http.StatusBadGateway
	case apperr.KindProcessing:
		status = http.StatusUnprocessableEntity
	case apperr.KindDatabase, apperr.KindInternal:
		status = http.StatusInternalServerError
	}
	writeError(w, status, err)
}
