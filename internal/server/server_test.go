package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perstarkse/minnego/internal/config"
	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/llmclient"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/queue"
	"github.com/perstarkse/minnego/internal/store/memstore"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks map[string]queue.Task
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(map[string]queue.Task)}
}

func (f *fakeQueue) CreateAndAdd(_ context.Context, content queue.IngestionPayload, userID string) (queue.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := queue.NewTask(content, userID)
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeQueue) GetByID(_ context.Context, id string) (queue.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return queue.Task{}, assert.AnError
	}
	return t, nil
}

func (f *fakeQueue) GetUnfinishedTasks(_ context.Context) ([]queue.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []queue.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

type fakeLLM struct{ response string }

func (f *fakeLLM) Complete(context.Context, []llmclient.Message) (string, error) {
	return f.response, nil
}

func newTestServer(t *testing.T) (*Server, model.User, *fakeQueue) {
	t.Helper()
	st := memstore.New()
	user := model.User{ID: uuid.NewString(), Email: "tester@example.com"}
	key := "test-api-key"
	user.APIKey = &key
	st.PutUser(user)

	fq := newFakeQueue()
	srv := New(config.Config{Tuning: config.DefaultRetrievalTuning()}, st, fq, embedding.NewHashed(8), &fakeLLM{response: "generated answer"}, nil)
	return srv, user, fq
}

func doRequest(srv *Server, method, path, apiKey string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_NoAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutes_RejectMissingAPIKey(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutes_RejectUnknownAPIKey(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/tasks", "not-a-real-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleIngestText_EnqueuesTaskForCaller(t *testing.T) {
	srv, user, fq := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"text": "some ingestible content"})
	rec := doRequest(srv, http.MethodPost, "/api/ingest/text", "test-api-key", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	tasks, err := fq.GetUnfinishedTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, user.ID, tasks[0].UserID)
	assert.Equal(t, queue.PayloadText, tasks[0].Content.Kind)
}

func TestHandleIngestText_RejectsEmptyText(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"text": "   "})
	rec := doRequest(srv, http.MethodPost, "/api/ingest/text", "test-api-key", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetTask_RejectsOtherUsersTask(t *testing.T) {
	srv, _, fq := newTestServer(t)
	task, err := fq.CreateAndAdd(context.Background(), queue.IngestionPayload{Kind: queue.PayloadText, Text: "x"}, "someone-else")
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/api/tasks/"+task.ID, "test-api-key", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleQuery_ReturnsGeneratedAnswerWhenRequested(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"query": "what is alpha", "generate": true})
	rec := doRequest(srv, http.MethodPost, "/api/query", "test-api-key", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "generated answer", resp["answer"])
}

func TestHandleQuery_RejectsEmptyQuery(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"query": ""})
	rec := doRequest(srv, http.MethodPost, "/api/query", "test-api-key", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleValidateReferences_RejectsMalformedReference(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"references": []string{"not-a-uuid"}})
	rec := doRequest(srv, http.MethodPost, "/api/references/validate", "test-api-key", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "malformed_uuid"))
}
