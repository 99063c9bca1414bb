// Package model defines the persisted entities of the knowledge graph
// (spec data model section 3): text content, chunks, embeddings,
// knowledge entities, relationships, ingestion tasks, and system/user
// records.
package model

import "time"

// Timestamps is embedded by every stored entity.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileInfo carries metadata about an uploaded file source.
type FileInfo struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	SizeByte int64  `json:"size_bytes"`
}

// URLInfo carries metadata about a URL-derived source.
type URLInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// TextContent is the authoritative source text (spec 3: TextContent).
type TextContent struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	File     *FileInfo `json:"file_info,omitempty"`
	URL      *URLInfo  `json:"url_info,omitempty"`
	Context  string   `json:"context"`
	Category string   `json:"category"`
	UserID   string   `json:"user_id"`
	Timestamps
}

// TextChunk is produced by the chunker (spec 3: TextChunk).
type TextChunk struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Chunk    string `json:"chunk"`
	UserID   string `json:"user_id"`
	Timestamps
}

// ChunkEmbedding mirrors a TextChunk 1:1 when embeddings are enabled.
type ChunkEmbedding struct {
	ID        string    `json:"id"`
	ChunkID   string    `json:"chunk_id"`
	SourceID  string    `json:"source_id"`
	Embedding []float32 `json:"embedding"`
	UserID    string    `json:"user_id"`
}

// EntityType is the tagged variant of a KnowledgeEntity.
type EntityType string

const (
	EntityTypeDocument     EntityType = "Document"
	EntityTypePerson       EntityType = "Person"
	EntityTypeOrganisation EntityType = "Organisation"
	EntityTypeConcept      EntityType = "Concept"
	EntityTypeEvent        EntityType = "Event"
	EntityTypeLocation     EntityType = "Location"
	EntityTypeOther        EntityType = "Other"
)

// KnowledgeEntity is derived by entity extraction (spec 3).
type KnowledgeEntity struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	EntityType  EntityType `json:"entity_type"`
	UserID      string     `json:"user_id"`
	Timestamps
}

// EntityEmbedding mirrors ChunkEmbedding but keys to a KnowledgeEntity.
type EntityEmbedding struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	SourceID  string    `json:"source_id"`
	Embedding []float32 `json:"embedding"`
	UserID    string    `json:"user_id"`
}

// KnowledgeRelationship is a directed edge between two entity ids.
type KnowledgeRelationship struct {
	ID               string `json:"id"`
	FromEntityID     string `json:"from_entity_id"`
	ToEntityID       string `json:"to_entity_id"`
	RelationshipType string `json:"relationship_type"`
	UserID           string `json:"user_id"`
	SourceID         string `json:"source_id"`
	Timestamps
}

// SystemSettings is a process-wide singleton (spec 3).
type SystemSettings struct {
	EmbeddingDimensions    uint32 `json:"embedding_dimensions"`
	QueryModel             string `json:"query_model"`
	ImageProcessingModel   string `json:"image_processing_model"`
	RegistrationsEnabled   bool   `json:"registrations_enabled"`
}

// User (spec 3). APIKey is a pointer so the absent state is a real nil,
// not a sentinel string (see DESIGN.md open question #1).
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Admin     bool    `json:"admin"`
	Anonymous bool    `json:"anonymous"`
	Timezone  string  `json:"timezone"`
	APIKey    *string `json:"api_key,omitempty"`
	Timestamps
}

// RevokeAPIKey clears the key to an absent field, never a placeholder
// string.
func (u *User) RevokeAPIKey() {
	u.APIKey = nil
}
