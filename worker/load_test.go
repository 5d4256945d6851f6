package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelinecore.dev/pipeline"
)

func TestSortByTierOrdersByDependencyTier(t *testing.T) {
	entities := []pipeline.EntityEnvelope{
		{Kind: pipeline.EntityKindLink},
		{Kind: pipeline.EntityKindPullRequest},
		{Kind: pipeline.EntityKindWorkItem},
		{Kind: pipeline.EntityKindMapping},
		{Kind: pipeline.EntityKindUser},
		{Kind: pipeline.EntityKindProject},
	}

	sorted := sortByTier(entities)

	kinds := make([]string, len(sorted))
	for i, e := range sorted {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []string{
		pipeline.EntityKindProject,
		pipeline.EntityKindUser,
		pipeline.EntityKindMapping,
		pipeline.EntityKindWorkItem,
		pipeline.EntityKindPullRequest,
		pipeline.EntityKindLink,
	}, kinds)
}

func TestSortByTierPreservesPayloadOrderWithinTier(t *testing.T) {
	first := pipeline.EntityEnvelope{Kind: pipeline.EntityKindWorkItem, Data: "first"}
	second := pipeline.EntityEnvelope{Kind: pipeline.EntityKindWorkItem, Data: "second"}

	sorted := sortByTier([]pipeline.EntityEnvelope{first, second})

	assert.Equal(t, "first", sorted[0].Data)
	assert.Equal(t, "second", sorted[1].Data)
}

func TestSortByTierDoesNotMutateInput(t *testing.T) {
	entities := []pipeline.EntityEnvelope{
		{Kind: pipeline.EntityKindLink},
		{Kind: pipeline.EntityKindProject},
	}
	original := append([]pipeline.EntityEnvelope(nil), entities...)

	_ = sortByTier(entities)

	assert.Equal(t, original, entities)
}

func TestFingerprintStableAndSensitiveToChange(t *testing.T) {
	a := fingerprint("summary", "description")
	b := fingerprint("summary", "description")
	c := fingerprint("summary", "different description")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprintDistinguishesPartBoundaries(t *testing.T) {
	// "ab","c" and "a","bc" must not collide despite concatenating to the
	// same string, since each field is followed by a zero-byte separator.
	a := fingerprint("ab", "c")
	b := fingerprint("a", "bc")
	assert.NotEqual(t, a, b)
}
