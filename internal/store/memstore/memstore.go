// Package memstore is an in-memory store.Store test double, playing the
// role the original's SurrealDbClient::memory(...) test harness plays:
// the same interface, backed by maps instead of a database connection.
package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/store"
)

// Store is a goroutine-safe in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	textContent  map[string]model.TextContent
	chunks       map[string]model.TextChunk
	chunkEmbeds  map[string]model.ChunkEmbedding
	entities     map[string]model.KnowledgeEntity
	entityEmbeds map[string]model.EntityEmbedding
	relationships map[string]model.KnowledgeRelationship
	users        map[string]model.User
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		textContent:   make(map[string]model.TextContent),
		chunks:        make(map[string]model.TextChunk),
		chunkEmbeds:   make(map[string]model.ChunkEmbedding),
		entities:      make(map[string]model.KnowledgeEntity),
		entityEmbeds:  make(map[string]model.EntityEmbedding),
		relationships: make(map[string]model.KnowledgeRelationship),
		users:         make(map[string]model.User),
	}
}

func (s *Store) Close() {}

func (s *Store) PutTextContent(_ context.Context, tc model.TextContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textContent[tc.ID] = tc
	return nil
}

func (s *Store) GetTextContent(_ context.Context, id string) (model.TextContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.textContent[id]
	if !ok {
		return model.TextContent{}, apperr.Newf(apperr.KindNotFound, "text content %s not found", id)
	}
	return tc, nil
}

func (s *Store) FindTextContentByHash(_ context.Context, userID, sha256 string) (model.TextContent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tc := range s.textContent {
		if tc.UserID == userID && tc.File != nil && tc.File.SHA256 == sha256 {
			return tc, true, nil
		}
	}
	return model.TextContent{}, false, nil
}

// DeleteTextContent deletes a TextContent and cascades to everything it
// owns: its chunks (and their embeddings), entities (and their
// embeddings), and relationships, all keyed by source_id.
func (s *Store) DeleteTextContent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for chunkID, c := range s.chunks {
		if c.SourceID != id {
			continue
		}
		delete(s.chunks, chunkID)
		for embedID, e := range s.chunkEmbeds {
			if e.ChunkID == chunkID {
				delete(s.chunkEmbeds, embedID)
			}
		}
	}
	for entityID, e := range s.entities {
		if e.SourceID != id {
			continue
		}
		delete(s.entities, entityID)
		for embedID, ee := range s.entityEmbeds {
			if ee.EntityID == entityID {
				delete(s.entityEmbeds, embedID)
			}
		}
	}
	for relID, r := range s.relationships {
		if r.SourceID == id {
			delete(s.relationships, relID)
		}
	}
	delete(s.textContent, id)
	return nil
}

func (s *Store) PutTextChunks(_ context.Context, chunks []model.TextChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *Store) ListChunksBySource(_ context.Context, sourceID string) ([]model.TextChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TextChunk
	for _, c := range s.chunks {
		if c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetTextChunk(_ context.Context, id string) (model.TextChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return model.TextChunk{}, apperr.Newf(apperr.KindNotFound, "chunk %s not found", id)
	}
	return c, nil
}

func (s *Store) DeleteChunksBySource(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.SourceID == sourceID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *Store) PutChunkEmbeddings(_ context.Context, embeddings []model.ChunkEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		s.chunkEmbeds[e.ID] = e
	}
	return nil
}

func (s *Store) SearchChunksByVector(_ context.Context, userID string, query []float32, limit int) ([]store.Scored[model.TextChunk], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []store.Scored[model.TextChunk]
	for _, e := range s.chunkEmbeds {
		if e.UserID != userID {
			continue
		}
		c, ok := s.chunks[e.ChunkID]
		if !ok {
			continue
		}
		scored = append(scored, store.Scored[model.TextChunk]{Value: c, Score: cosineSimilarity(query, e.Embedding)})
	}
	return topN(scored, limit), nil
}

func (s *Store) SearchChunksByText(_ context.Context, userID, query string, limit int) ([]store.Scored[model.TextChunk], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var scored []store.Scored[model.TextChunk]
	for _, c := range s.chunks {
		if c.UserID != userID {
			continue
		}
		score := lexicalScore(strings.ToLower(c.Chunk), terms)
		if score > 0 {
			scored = append(scored, store.Scored[model.TextChunk]{Value: c, Score: score})
		}
	}
	return topN(scored, limit), nil
}

func (s *Store) PutEntities(_ context.Context, entities []model.KnowledgeEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.entities[e.ID] = e
	}
	return nil
}

func (s *Store) GetEntity(_ context.Context, id string) (model.KnowledgeEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return model.KnowledgeEntity{}, apperr.Newf(apperr.KindNotFound, "entity %s not found", id)
	}
	return e, nil
}

func (s *Store) DeleteEntitiesBySource(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entities {
		if e.SourceID == sourceID {
			delete(s.entities, id)
		}
	}
	return nil
}

func (s *Store) ListEntitiesBySources(_ context.Context, sourceIDs []string) ([]model.KnowledgeEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		want[id] = struct{}{}
	}
	var out []model.KnowledgeEntity
	for _, e := range s.entities {
		if _, ok := want[e.SourceID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListChunksBySources(_ context.Context, sourceIDs []string) ([]model.TextChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		want[id] = struct{}{}
	}
	var out []model.TextChunk
	for _, c := range s.chunks {
		if _, ok := want[c.SourceID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) PutEntityEmbeddings(_ context.Context, embeddings []model.EntityEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		s.entityEmbeds[e.ID] = e
	}
	return nil
}

func (s *Store) SearchEntitiesByVector(_ context.Context, userID string, query []float32, limit int) ([]store.Scored[model.KnowledgeEntity], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []store.Scored[model.KnowledgeEntity]
	for _, e := range s.entityEmbeds {
		if e.UserID != userID {
			continue
		}
		entity, ok := s.entities[e.EntityID]
		if !ok {
			continue
		}
		scored = append(scored, store.Scored[model.KnowledgeEntity]{Value: entity, Score: cosineSimilarity(query, e.Embedding)})
	}
	return topN(scored, limit), nil
}

func (s *Store) SearchEntitiesByText(_ context.Context, userID, query string, limit int) ([]store.Scored[model.KnowledgeEntity], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var scored []store.Scored[model.KnowledgeEntity]
	for _, e := range s.entities {
		if e.UserID != userID {
			continue
		}
		score := lexicalScore(strings.ToLower(e.Name+" "+e.Description), terms)
		if score > 0 {
			scored = append(scored, store.Scored[model.KnowledgeEntity]{Value: e, Score: score})
		}
	}
	return topN(scored, limit), nil
}

func (s *Store) PutRelationships(_ context.Context, rels []model.KnowledgeRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rels {
		s.relationships[r.ID] = r
	}
	return nil
}

func (s *Store) NeighborsOf(_ context.Context, entityID string) ([]model.KnowledgeRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.KnowledgeRelationship
	for _, r := range s.relationships {
		if r.FromEntityID == entityID || r.ToEntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) DeleteRelationship(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relationships[id]
	if !ok || r.UserID != userID {
		return apperr.Newf(apperr.KindNotFound, "relationship %s not found", id)
	}
	delete(s.relationships, id)
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, apperr.New(apperr.KindNotFound, "user not found")
	}
	return u, nil
}

func (s *Store) GetUserByAPIKey(_ context.Context, apiKey string) (model.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.APIKey != nil && *u.APIKey == apiKey {
			return u, true, nil
		}
	}
	return model.User{}, false, nil
}

// PutUser is a test-only helper (the interface has no generic Put for
// users since production auth is out of scope; see SPEC_FULL.md §9).
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32((cos + 1) / 2)
}

func lexicalScore(haystack string, terms []string) float32 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	return float32(hits) / float32(len(terms))
}

func topN[T any](scored []store.Scored[T], n int) []store.Scored[T] {
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if n > 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

var _ store.Store = (*Store)(nil)
