package refs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/store/memstore"
)

func newEntity(t *testing.T, userID string) model.KnowledgeEntity {
	t.Helper()
	return model.KnowledgeEntity{
		ID:          uuid.NewString(),
		SourceID:    uuid.NewString(),
		Name:        "Entity",
		Description: "Entity description",
		EntityType:  model.EntityTypeDocument,
		UserID:      userID,
	}
}

func newChunk(t *testing.T, userID string) model.TextChunk {
	t.Helper()
	return model.TextChunk{
		ID:       uuid.NewString(),
		SourceID: uuid.NewString(),
		Chunk:    "chunk body",
		UserID:   userID,
	}
}

func TestValidate_ValidUUIDBelongingToUser(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	entity := newEntity(t, "user-a")
	require.NoError(t, st.PutEntities(ctx, []model.KnowledgeEntity{entity}))

	result, err := Validate(ctx, st, "user-a", []string{entity.ID}, []string{entity.ID})
	require.NoError(t, err)
	require.Equal(t, []string{entity.ID}, result.ValidRefs)
	require.Empty(t, result.InvalidRefs)
}

func TestValidate_WrongUserIsRejected(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	entity := newEntity(t, "other-user")
	require.NoError(t, st.PutEntities(ctx, []model.KnowledgeEntity{entity}))

	result, err := Validate(ctx, st, "user-a", []string{entity.ID}, []string{entity.ID})
	require.NoError(t, err)
	require.Empty(t, result.ValidRefs)
	require.Len(t, result.InvalidRefs, 1)
	require.Equal(t, ReasonWrongUser, result.InvalidRefs[0].Reason)
}

func TestValidate_MalformedUUIDIsRejected(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	result, err := Validate(ctx, st, "user-a", []string{"not-a-uuid"}, []string{"not-a-uuid"})
	require.NoError(t, err)
	require.Empty(t, result.ValidRefs)
	require.Len(t, result.InvalidRefs, 1)
	require.Equal(t, ReasonMalformedUUID, result.InvalidRefs[0].Reason)
}

func TestValidate_MixedDuplicatesAreDeduped(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	first := newEntity(t, "user-a")
	second := newEntity(t, "user-a")
	require.NoError(t, st.PutEntities(ctx, []model.KnowledgeEntity{first, second}))

	rawRefs := []string{
		first.ID,
		"knowledge_entity:" + first.ID,
		second.ID,
		second.ID,
	}
	allowed := []string{first.ID, second.ID}

	result, err := Validate(ctx, st, "user-a", rawRefs, allowed)
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, second.ID}, result.ValidRefs)
	require.Len(t, result.InvalidRefs, 2)
	for _, inv := range result.InvalidRefs {
		require.Equal(t, ReasonDuplicate, inv.Reason)
	}
}

func TestValidate_BareUUIDPrefersChunkLookupBeforeEntity(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	chunk := newChunk(t, "user-a")
	require.NoError(t, st.PutTextChunks(ctx, []model.TextChunk{chunk}))

	result, err := Validate(ctx, st, "user-a", []string{chunk.ID}, []string{chunk.ID})
	require.NoError(t, err)
	require.Equal(t, []string{chunk.ID}, result.ValidRefs)
}

func TestValidate_OverLimitRejectsExcessReferences(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	var entities []model.KnowledgeEntity
	var ids []string
	for i := 0; i < MaxReferenceCount+2; i++ {
		e := newEntity(t, "user-a")
		entities = append(entities, e)
		ids = append(ids, e.ID)
	}
	require.NoError(t, st.PutEntities(ctx, entities))

	result, err := Validate(ctx, st, "user-a", ids, ids)
	require.NoError(t, err)
	require.Len(t, result.ValidRefs, MaxReferenceCount)
	require.Len(t, result.InvalidRefs, 2)
	for _, inv := range result.InvalidRefs {
		require.Equal(t, ReasonOverLimit, inv.Reason)
	}
}

func TestValidate_NotInContextWhenAllowedSetEnforced(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	entity := newEntity(t, "user-a")
	outOfContext := newEntity(t, "user-a")
	require.NoError(t, st.PutEntities(ctx, []model.KnowledgeEntity{entity, outOfContext}))

	result, err := Validate(ctx, st, "user-a", []string{outOfContext.ID}, []string{entity.ID})
	require.NoError(t, err)
	require.Empty(t, result.ValidRefs)
	require.Len(t, result.InvalidRefs, 1)
	require.Equal(t, ReasonNotInContext, result.InvalidRefs[0].Reason)
}

func TestValidate_EmptyAllowedSetDisablesContextCheck(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	entity := newEntity(t, "user-a")
	require.NoError(t, st.PutEntities(ctx, []model.KnowledgeEntity{entity}))

	result, err := Validate(ctx, st, "user-a", []string{entity.ID}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{entity.ID}, result.ValidRefs)
}

func TestValidate_UnsupportedPrefixIsRejected(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	result, err := Validate(ctx, st, "user-a", []string{"weird_prefix:" + uuid.NewString()}, nil)
	require.NoError(t, err)
	require.Len(t, result.InvalidRefs, 1)
	require.Equal(t, ReasonUnsupportedPrefix, result.InvalidRefs[0].Reason)
}
