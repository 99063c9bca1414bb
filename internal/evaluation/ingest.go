package evaluation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perstarkse/minnego/internal/corpus"
	"github.com/perstarkse/minnego/internal/model"
)

// IngestStats tallies how many of a slice's paragraphs were already
// present in the store (by content hash) versus freshly ingested this
// run, mirroring report.rs's positive/negative "reused" counters.
type IngestStats struct {
	PositiveReused   int
	PositiveIngested int
	NegativeReused   int
	NegativeIngested int
}

// ensureIngested walks every paragraph referenced by resolved.Manifest
// (positives and negatives alike) and makes sure it exists in the
// store under EvalUserID, chunking and embedding it if it doesn't.
// Reuse is decided per paragraph by content hash rather than by
// recreating an entire namespace, since the store is one shared
// Postgres database rather than a disposable per-run SurrealDB
// namespace.
func (d *Driver) ensureIngested(ctx context.Context, c *corpus.Corpus, resolved *corpus.Resolved, cfg Config) (IngestStats, time.Duration, error) {
	started := time.Now()
	var stats IngestStats

	index := make(map[string]*corpus.Paragraph, len(c.Paragraphs))
	for i := range c.Paragraphs {
		index[c.Paragraphs[i].ID] = &c.Paragraphs[i]
	}

	for _, entry := range resolved.Manifest.Paragraphs {
		paragraph, ok := index[entry.ID]
		if !ok {
			return stats, 0, fmt.Errorf("slice references unknown paragraph %q", entry.ID)
		}

		reused, err := d.ensureParagraph(ctx, paragraph, cfg)
		if err != nil {
			return stats, 0, fmt.Errorf("ingesting paragraph %s: %w", paragraph.ID, err)
		}

		switch entry.Kind {
		case corpus.KindPositive:
			if reused {
				stats.PositiveReused++
			} else {
				stats.PositiveIngested++
			}
		case corpus.KindNegative:
			if reused {
				stats.NegativeReused++
			} else {
				stats.NegativeIngested++
			}
		}
	}

	return stats, time.Since(started), nil
}

// ensureParagraph ingests one paragraph if it isn't already present
// (by content hash), returning true when an existing copy was reused.
func (d *Driver) ensureParagraph(ctx context.Context, paragraph *corpus.Paragraph, cfg Config) (bool, error) {
	hash := contentHash(paragraph.Context)

	existing, found, err := d.Store.FindTextContentByHash(ctx, EvalUserID, hash)
	if err != nil {
		return false, err
	}
	if found {
		if !cfg.Slice.ResetIngestion {
			return true, nil
		}
		if err := d.Store.DeleteTextContent(ctx, existing.ID); err != nil {
			return false, fmt.Errorf("resetting paragraph %s: %w", paragraph.ID, err)
		}
	}

	now := time.Now().UTC()
	content := model.TextContent{
		// ID is pinned to the paragraph's own id (not a fresh uuid) so the
		// chunks/entities this paragraph produces carry a SourceID that
		// scoreCase can compare directly against the case's expected
		// paragraph id.
		ID:       paragraph.ID,
		Text:     paragraph.Context,
		Context:  paragraph.Title,
		Category: "evaluation",
		UserID:   EvalUserID,
		File: &model.FileInfo{
			FileName: paragraph.ID,
			MimeType: "text/plain",
			SHA256:   hash,
			SizeByte: int64(len(paragraph.Context)),
		},
	}
	content.CreatedAt, content.UpdatedAt = now, now

	minChars, maxChars := cfg.ChunkMinChars, cfg.ChunkMaxChars
	if minChars <= 0 {
		minChars = 500
	}
	if maxChars <= 0 {
		maxChars = 2000
	}
	chunkTexts := splitIntoChunks(paragraph.Context, minChars, maxChars)
	if len(chunkTexts) == 0 {
		chunkTexts = []string{paragraph.Context}
	}

	vectors, err := d.Embedding.EmbedBatch(ctx, chunkTexts)
	if err != nil {
		return false, err
	}

	chunks := make([]model.TextChunk, len(chunkTexts))
	embeddings := make([]model.ChunkEmbedding, len(chunkTexts))
	for i, text := range chunkTexts {
		chunkID := uuid.NewString()
		chunks[i] = model.TextChunk{
			ID:       chunkID,
			SourceID: content.ID,
			Chunk:    text,
			UserID:   EvalUserID,
		}
		chunks[i].CreatedAt, chunks[i].UpdatedAt = now, now
		embeddings[i] = model.ChunkEmbedding{
			ID:        uuid.NewString(),
			ChunkID:   chunkID,
			SourceID:  content.ID,
			Embedding: vectors[i],
			UserID:    EvalUserID,
		}
	}

	if err := d.Store.PutTextContent(ctx, content); err != nil {
		return false, err
	}
	if err := d.Store.PutTextChunks(ctx, chunks); err != nil {
		return false, err
	}
	if err := d.Store.PutChunkEmbeddings(ctx, embeddings); err != nil {
		return false, err
	}
	return false, nil
}

// contentHash matches the dedup key shape PutTextContent/
// FindTextContentByHash expect: a hex-encoded SHA256 of the content.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// splitIntoChunks greedily packs sentences into windows of at most
// maxChars, using the same min/max knobs spec 4.I's --chunk-min/
// --chunk-max flags expose. A chunk can be shorter than minChars when
// the next sentence would overflow maxChars, or at the end of the
// text. A paragraph's sentences never
// split mid-sentence; a single sentence longer than maxChars becomes
// its own oversized chunk rather than being cut.
func splitIntoChunks(text string, minChars, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if minChars < 1 {
		minChars = 1
	}
	if maxChars < minChars {
		maxChars = minChars
	}

	sentences := splitSentences(text)
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence)+1 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		if current.Len() >= minChars && current.Len() >= maxChars {
			flush()
		}
	}
	flush()
	return chunks
}

// splitSentences splits on ". " boundaries, keeping the terminator on
// the preceding sentence.
func splitSentences(text string) []string {
	parts := strings.Split(text, ". ")
	sentences := make([]string, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i < len(parts)-1 && !strings.HasSuffix(part, ".") {
			part += "."
		}
		sentences = append(sentences, part)
	}
	return sentences
}
