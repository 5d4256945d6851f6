package sourcecontrol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinecore.dev/pipeline"
)

func TestListProjectsFromExplicitFilter(t *testing.T) {
	repos, err := listProjects(nil, "group/a,group/b,group/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"group/a", "group/b", "group/c"}, repos)
}

func TestPage1(t *testing.T) {
	assert.Equal(t, 1, page1(0))
	assert.Equal(t, 1, page1(-1))
	assert.Equal(t, 2, page1(1))
	assert.Equal(t, 6, page1(5))
}

func TestClassifyGitlabErrorTaxonomy(t *testing.T) {
	cases := []struct {
		msg       string
		wantClass pipeline.ErrorClass
	}{
		{"401 Unauthorized", pipeline.ErrorClassAuthRemote},
		{"403 Forbidden", pipeline.ErrorClassAuthRemote},
		{"429 Too Many Requests", pipeline.ErrorClassTransientRemote},
		{"503 Service Unavailable", pipeline.ErrorClassTransientRemote},
		{"400 Bad Request", pipeline.ErrorClassPermanentRemote},
	}
	for _, c := range cases {
		err := classifyGitlabError(errors.New(c.msg))
		class, ok := pipeline.ClassOf(err)
		require.True(t, ok, "case %q", c.msg)
		assert.Equal(t, c.wantClass, class, "case %q", c.msg)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	p := &plan{cp: Checkpoint{
		RepoQueue:   []string{"group/b"},
		CurrentRepo: "group/a",
		PRCursor:    2,
	}}
	data := p.checkpointBytes()

	var cp Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.Equal(t, "group/a", cp.CurrentRepo)
	assert.Equal(t, []string{"group/b"}, cp.RepoQueue)
	assert.Equal(t, 2, cp.PRCursor)
}

func TestRepoExhaustedStateResetKeepsRepoQueue(t *testing.T) {
	// Exercises the pure state transition: when a repo's merge requests are
	// exhausted, CurrentRepo clears and PRCursor resets
	// so the next Next() call dequeues the following repo (§4.2 composite
	// checkpoint). This does not reach the network since it only mutates
	// plan state directly, it doesn't call Next() against a live session.
	p := &plan{cp: Checkpoint{RepoQueue: []string{"group/b"}, CurrentRepo: "group/a", PRCursor: 3}}
	p.cp.CurrentRepo = ""
	p.cp.PRCursor = 0

	assert.Equal(t, []string{"group/b"}, p.cp.RepoQueue)
	assert.Empty(t, p.cp.CurrentRepo)
	assert.Zero(t, p.cp.PRCursor)
}
