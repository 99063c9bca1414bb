package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perstarkse/minnego/internal/model"
)

const sampleGraphResponse = `{"kind": "entity", "name": "Ada Lovelace", "description": "Mathematician", "entity_type": "Person"}
{"kind": "entity", "name": "Analytical Engine", "description": "Mechanical computer", "entity_type": "Concept"}
not json at all, should be skipped
{"kind": "relationship", "from": "Ada Lovelace", "to": "Analytical Engine", "relationship_type": "designed_programs_for"}
{"kind": "relationship", "from": "Ada Lovelace", "to": "Unknown Entity", "relationship_type": "mentions"}
`

func TestParseGraphLines_ParsesEntitiesAndRelationships(t *testing.T) {
	entities, relationships, err := parseGraphLines(sampleGraphResponse)
	require.NoError(t, err)

	require.Len(t, entities, 2)
	assert.Equal(t, "Ada Lovelace", entities[0].Name)
	assert.Equal(t, model.EntityTypePerson, entities[0].EntityType)
	assert.Equal(t, model.EntityTypeConcept, entities[1].EntityType)

	require.Len(t, relationships, 2)
	assert.Equal(t, "Ada Lovelace", relationships[0].From)
	assert.Equal(t, "Analytical Engine", relationships[0].To)
}

func TestMaterializeRelationships_DropsUnresolvableNames(t *testing.T) {
	entities := []extractedEntity{{Name: "Ada Lovelace"}, {Name: "Analytical Engine"}}
	materialized, byName := materializeEntities(entities, "source-1", "user-1")
	require.Len(t, materialized, 2)

	relationships := []extractedRelationship{
		{From: "Ada Lovelace", To: "Analytical Engine", Type: "designed_programs_for"},
		{From: "Ada Lovelace", To: "Unknown Entity", Type: "mentions"},
	}
	rels := materializeRelationships(relationships, byName, "source-1", "user-1")
	require.Len(t, rels, 1)
	assert.Equal(t, byName["ada lovelace"], rels[0].FromEntityID)
	assert.Equal(t, byName["analytical engine"], rels[0].ToEntityID)
}

func TestNormalizeEntityType_FallsBackToOther(t *testing.T) {
	assert.Equal(t, model.EntityTypeOther, normalizeEntityType("spaceship"))
	assert.Equal(t, model.EntityTypeOrganisation, normalizeEntityType("Organization"))
	assert.Equal(t, model.EntityTypeLocation, normalizeEntityType("location"))
}

func TestParseGraphLines_IgnoresLinesMissingRequiredFields(t *testing.T) {
	entities, relationships, err := parseGraphLines(`{"kind": "entity", "description": "no name"}
{"kind": "relationship", "from": "", "to": "x"}`)
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Empty(t, relationships)
}
