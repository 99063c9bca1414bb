// Package refs implements the Reference Validator (spec 4.G): it turns
// the raw reference strings a caller attaches to a chat turn into a set
// of ids the retrieval-augmented answer is allowed to cite, rejecting
// anything malformed, duplicated, out of context, or not owned by the
// caller. Grounded on
// html-router/src/routes/chat/reference_validation.rs.
package refs

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/store"
)

// MaxReferenceCount caps how many references a single turn may carry;
// anything beyond this is rejected as OverLimit rather than silently
// truncated.
const MaxReferenceCount = 10

// InvalidReferenceReason classifies why a raw reference was rejected.
type InvalidReferenceReason string

const (
	ReasonEmpty             InvalidReferenceReason = "empty"
	ReasonUnsupportedPrefix InvalidReferenceReason = "unsupported_prefix"
	ReasonMalformedUUID     InvalidReferenceReason = "malformed_uuid"
	ReasonDuplicate         InvalidReferenceReason = "duplicate"
	ReasonNotInContext      InvalidReferenceReason = "not_in_context"
	ReasonNotFound          InvalidReferenceReason = "not_found"
	ReasonWrongUser         InvalidReferenceReason = "wrong_user"
	ReasonOverLimit         InvalidReferenceReason = "over_limit"
)

// InvalidReference is one rejected raw reference, keeping the original
// string for diagnostics alongside its normalized form (when it parsed
// far enough to have one).
type InvalidReference struct {
	Raw        string
	Normalized string
	Reason     InvalidReferenceReason
}

// ReasonStats tallies how many references failed for each reason, plus
// the total considered — surfaced to callers that want to explain a
// rejected reference set without walking the full invalid list.
type ReasonStats struct {
	Total             int
	Empty             int
	UnsupportedPrefix int
	MalformedUUID     int
	Duplicate         int
	NotInContext      int
	NotFound          int
	WrongUser         int
	OverLimit         int
}

func (s *ReasonStats) record(reason InvalidReferenceReason) {
	switch reason {
	case ReasonEmpty:
		s.Empty++
	case ReasonUnsupportedPrefix:
		s.UnsupportedPrefix++
	case ReasonMalformedUUID:
		s.MalformedUUID++
	case ReasonDuplicate:
		s.Duplicate++
	case ReasonNotInContext:
		s.NotInContext++
	case ReasonNotFound:
		s.NotFound++
	case ReasonWrongUser:
		s.WrongUser++
	case ReasonOverLimit:
		s.OverLimit++
	}
}

// Result is the outcome of validating one reference set.
type Result struct {
	ValidRefs   []string
	InvalidRefs []InvalidReference
	ReasonStats ReasonStats
}

// LookupTarget narrows which store a normalized id should be resolved
// against, derived from an optional "text_chunk:"/"knowledge_entity:"
// prefix on the raw reference.
type LookupTarget int

const (
	// TargetAny tries a text chunk first, then a knowledge entity —
	// the unprefixed form's lookup order.
	TargetAny LookupTarget = iota
	TargetTextChunk
	TargetKnowledgeEntity
)

// normalizeReference trims, strips an optional type prefix, and parses
// the remainder as a UUID, returning its canonical string form. ok is
// false if raw is empty, carries an unrecognized prefix, or doesn't
// parse as a UUID — reason then explains which.
func normalizeReference(raw string) (normalized string, target LookupTarget, reason InvalidReferenceReason, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", 0, ReasonEmpty, false
	}

	candidate := trimmed
	target = TargetAny
	if prefix, rest, found := strings.Cut(trimmed, ":"); found {
		switch strings.ToLower(prefix) {
		case "knowledge_entity":
			target = TargetKnowledgeEntity
		case "text_chunk":
			target = TargetTextChunk
		default:
			return "", 0, ReasonUnsupportedPrefix, false
		}
		candidate = strings.TrimSpace(rest)
	}

	if candidate == "" {
		return "", 0, ReasonMalformedUUID, false
	}

	id, err := uuid.Parse(candidate)
	if err != nil {
		return "", 0, ReasonMalformedUUID, false
	}
	return id.String(), target, "", true
}

type lookupResult int

const (
	lookupFound lookupResult = iota
	lookupWrongUser
	lookupNotFound
)

func lookupChunk(ctx context.Context, st store.Store, id, userID string) (lookupResult, error) {
	chunk, err := st.GetTextChunk(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return lookupNotFound, nil
		}
		return 0, err
	}
	if chunk.UserID != userID {
		return lookupWrongUser, nil
	}
	return lookupFound, nil
}

func lookupEntity(ctx context.Context, st store.Store, id, userID string) (lookupResult, error) {
	entity, err := st.GetEntity(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return lookupNotFound, nil
		}
		return 0, err
	}
	if entity.UserID != userID {
		return lookupWrongUser, nil
	}
	return lookupFound, nil
}

func lookupForUser(ctx context.Context, st store.Store, id string, target LookupTarget, userID string) (lookupResult, error) {
	switch target {
	case TargetTextChunk:
		return lookupChunk(ctx, st, id, userID)
	case TargetKnowledgeEntity:
		return lookupEntity(ctx, st, id, userID)
	default:
		chunkResult, err := lookupChunk(ctx, st, id, userID)
		if err != nil {
			return 0, err
		}
		if chunkResult == lookupFound {
			return lookupFound, nil
		}
		entityResult, err := lookupEntity(ctx, st, id, userID)
		if err != nil {
			return 0, err
		}
		if entityResult == lookupFound {
			return lookupFound, nil
		}
		if chunkResult == lookupWrongUser || entityResult == lookupWrongUser {
			return lookupWrongUser, nil
		}
		return lookupNotFound, nil
	}
}

// Validate normalizes, deduplicates, and resolves every raw reference
// against the store, scoped to userID. When allowedIDs is non-empty,
// every normalized id must also appear in it (the set of ids the
// current retrieval context actually surfaced) — an empty allowedIDs
// disables that check entirely, matching the original's "context
// enforcement is opt-in" behavior for callers with no retrieval context
// to check against.
func Validate(ctx context.Context, st store.Store, userID string, rawRefs []string, allowedIDs []string) (Result, error) {
	var result Result
	result.ReasonStats.Total = len(rawRefs)

	allowedSet := make(map[string]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowedSet[id] = struct{}{}
	}
	enforceContext := len(allowedSet) > 0

	seen := make(map[string]struct{}, len(rawRefs))

	for _, raw := range rawRefs {
		normalized, target, reason, ok := normalizeReference(raw)
		if !ok {
			result.ReasonStats.record(reason)
			result.InvalidRefs = append(result.InvalidRefs, InvalidReference{Raw: raw, Reason: reason})
			continue
		}

		if _, dup := seen[normalized]; dup {
			result.ReasonStats.record(ReasonDuplicate)
			result.InvalidRefs = append(result.InvalidRefs, InvalidReference{Raw: raw, Normalized: normalized, Reason: ReasonDuplicate})
			continue
		}
		seen[normalized] = struct{}{}

		if len(result.ValidRefs) >= MaxReferenceCount {
			result.ReasonStats.record(ReasonOverLimit)
			result.InvalidRefs = append(result.InvalidRefs, InvalidReference{Raw: raw, Normalized: normalized, Reason: ReasonOverLimit})
			continue
		}

		if enforceContext {
			if _, inContext := allowedSet[normalized]; !inContext {
				result.ReasonStats.record(ReasonNotInContext)
				result.InvalidRefs = append(result.InvalidRefs, InvalidReference{Raw: raw, Normalized: normalized, Reason: ReasonNotInContext})
				continue
			}
		}

		lookup, err := lookupForUser(ctx, st, normalized, target, userID)
		if err != nil {
			return Result{}, err
		}
		switch lookup {
		case lookupFound:
			result.ValidRefs = append(result.ValidRefs, normalized)
		case lookupWrongUser:
			result.ReasonStats.record(ReasonWrongUser)
			result.InvalidRefs = append(result.InvalidRefs, InvalidReference{Raw: raw, Normalized: normalized, Reason: ReasonWrongUser})
		case lookupNotFound:
			result.ReasonStats.record(ReasonNotFound)
			result.InvalidRefs = append(result.InvalidRefs, InvalidReference{Raw: raw, Normalized: normalized, Reason: ReasonNotFound})
		}
	}

	return result, nil
}
