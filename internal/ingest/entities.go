package ingest

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/jsonstream"
	"github.com/perstarkse/minnego/internal/llmclient"
	"github.com/perstarkse/minnego/internal/model"
)

// entityExtractionPrompt asks the model for one flat JSON object per
// line (no nested arrays), since jsonstream only ever needs to parse a
// flat object's worth of partial characters at a time. Relationships
// reference entities by the "name" field the model assigned them; the
// pipeline resolves those names to real ids once it knows them.
const entityExtractionPrompt = `Read the text below and extract a knowledge graph.
Respond with one JSON object per line and nothing else: no prose, no markdown fences, no surrounding array.
Each entity line looks like: {"kind": "entity", "name": "...", "description": "...", "entity_type": "Person|Organisation|Concept|Event|Location|Document|Other"}
Each relationship line looks like: {"kind": "relationship", "from": "<entity name>", "to": "<entity name>", "relationship_type": "..."}
Only emit relationships between entities you extracted in this same response.

Text:
`

type extractedEntity struct {
	Name        string
	Description string
	EntityType  model.EntityType
}

type extractedRelationship struct {
	From string
	To   string
	Type string
}

// extractGraph prompts the LLM for a typed entity/relationship graph
// and parses its response a line at a time with jsonstream, tolerating
// a response truncated mid-line (the last, incomplete line is simply
// dropped rather than failing the whole extraction).
func (p *Pipeline) extractGraph(ctx context.Context, text string) ([]extractedEntity, []extractedRelationship, error) {
	if p.LLM == nil {
		return nil, nil, apperr.New(apperr.KindProcessing, "no entity extraction model is configured")
	}

	msg := llmclient.NewTextMessage(llmclient.RoleUser, entityExtractionPrompt+text)
	response, err := p.LLM.Complete(ctx, []llmclient.Message{msg})
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindProcessing, "extract entity graph", err)
	}

	return parseGraphLines(response)
}

// parseGraphLines feeds each non-blank line of response through its own
// jsonstream parser, mirroring the original's expectation that every
// emitted object is independently parseable even if the overall
// response was cut short.
func parseGraphLines(response string) ([]extractedEntity, []extractedRelationship, error) {
	var entities []extractedEntity
	var relationships []extractedRelationship

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "```json")
		line = strings.TrimPrefix(line, "```")
		line = strings.TrimSuffix(line, "```")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		value, err := jsonstream.ParseStream(line)
		if err != nil || value.Kind != jsonstream.KindObject || !strings.HasSuffix(line, "}") {
			continue // best-effort: skip commentary or a truncated trailing line
		}

		kind := stringField(value, "kind")
		switch kind {
		case "entity":
			name := stringField(value, "name")
			if name == "" {
				continue
			}
			entities = append(entities, extractedEntity{
				Name:        name,
				Description: stringField(value, "description"),
				EntityType:  normalizeEntityType(stringField(value, "entity_type")),
			})
		case "relationship":
			from := stringField(value, "from")
			to := stringField(value, "to")
			if from == "" || to == "" {
				continue
			}
			relationships = append(relationships, extractedRelationship{
				From: from,
				To:   to,
				Type: stringField(value, "relationship_type"),
			})
		}
	}

	return entities, relationships, nil
}

func stringField(v *jsonstream.Value, key string) string {
	if v == nil || v.Obj == nil {
		return ""
	}
	field, ok := v.Obj[key]
	if !ok || field == nil {
		return ""
	}
	return strings.TrimSpace(field.Str)
}

func normalizeEntityType(raw string) model.EntityType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "person":
		return model.EntityTypePerson
	case "organisation", "organization":
		return model.EntityTypeOrganisation
	case "concept":
		return model.EntityTypeConcept
	case "event":
		return model.EntityTypeEvent
	case "location":
		return model.EntityTypeLocation
	case "document":
		return model.EntityTypeDocument
	default:
		return model.EntityTypeOther
	}
}

// materializeEntities assigns real ids to every extracted entity and
// builds a name->id lookup so relationships (which the model can only
// refer to by name) can be bound to the entities the pipeline persists.
func materializeEntities(extracted []extractedEntity, sourceID, userID string) ([]model.KnowledgeEntity, map[string]string) {
	entities := make([]model.KnowledgeEntity, 0, len(extracted))
	byName := make(map[string]string, len(extracted))
	for _, e := range extracted {
		id := uuid.NewString()
		byName[strings.ToLower(e.Name)] = id
		entities = append(entities, model.KnowledgeEntity{
			ID:          id,
			SourceID:    sourceID,
			Name:        e.Name,
			Description: e.Description,
			EntityType:  e.EntityType,
			UserID:      userID,
		})
	}
	return entities, byName
}

func materializeRelationships(extracted []extractedRelationship, byName map[string]string, sourceID, userID string) []model.KnowledgeRelationship {
	rels := make([]model.KnowledgeRelationship, 0, len(extracted))
	for _, r := range extracted {
		fromID, ok := byName[strings.ToLower(r.From)]
		if !ok {
			continue
		}
		toID, ok := byName[strings.ToLower(r.To)]
		if !ok {
			continue
		}
		rels = append(rels, model.KnowledgeRelationship{
			ID:               uuid.NewString(),
			FromEntityID:     fromID,
			ToEntityID:       toID,
			RelationshipType: r.Type,
			UserID:           userID,
			SourceID:         sourceID,
		})
	}
	return rels
}
