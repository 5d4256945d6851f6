package issuetracker

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinecore.dev/pipeline"
)

func TestSplitOwnerRepo(t *testing.T) {
	owner, repo, err := splitOwnerRepo("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)
}

func TestSplitOwnerRepoRejectsMissingSlash(t *testing.T) {
	_, _, err := splitOwnerRepo("acme-widgets")
	assert.Error(t, err)
}

func TestSplitOwnerRepoOnlyFirstSlashSplits(t *testing.T) {
	owner, repo, err := splitOwnerRepo("acme/widgets/extra")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets/extra", repo)
}

func TestClassifyGiteaErrorTaxonomy(t *testing.T) {
	cases := []struct {
		msg       string
		wantClass pipeline.ErrorClass
	}{
		{"401 Unauthorized", pipeline.ErrorClassAuthRemote},
		{"403 Forbidden", pipeline.ErrorClassAuthRemote},
		{"429 Too Many Requests", pipeline.ErrorClassTransientRemote},
		{"500 Internal Server Error", pipeline.ErrorClassTransientRemote},
		{"context deadline exceeded: timeout", pipeline.ErrorClassTransientRemote},
		{"404 Not Found", pipeline.ErrorClassPermanentRemote},
	}
	for _, c := range cases {
		err := classifyGiteaError(errors.New(c.msg))
		class, ok := pipeline.ClassOf(err)
		require.True(t, ok, "case %q", c.msg)
		assert.Equal(t, c.wantClass, class, "case %q", c.msg)
	}
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("rate limited: 429", "429", "500"))
	assert.False(t, containsAny("all good", "429", "500"))
}

func TestCheckpointRoundTrip(t *testing.T) {
	p := &plan{page: 3, lastKey: "acme/widgets#42"}
	data := p.checkpointBytes()

	var cp Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.Equal(t, 3, cp.CurrentPageNode)
	assert.Equal(t, "acme/widgets#42", cp.LastCursor)
}
