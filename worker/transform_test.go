package worker

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinecore.dev/pipeline"
	"pipelinecore.dev/progress"
)

type fakeMappingResolver struct {
	mappings map[string]string
	err      error
}

func (f *fakeMappingResolver) Mappings(tenantID int64) (map[string]string, error) {
	return f.mappings, f.err
}

func newTestTransformWorker() *TransformWorker {
	log := logrus.New()
	log.SetOutput(io.Discard)
	resolver := &fakeMappingResolver{mappings: map[string]string{"closed": "done", "open": "in_progress"}}
	return NewTransformWorker(nil, nil, resolver, progress.NewBroker(), log.WithField("test", true))
}

func TestNormalizeIssueTrackerHappyPath(t *testing.T) {
	w := newTestTransformWorker()
	payload := []byte(`[
		{"number":1,"title":"fix login","body":"users can't log in","state":"closed","comments":1,
		 "created_at":"2026-01-01T00:00:00Z","closed_at":"2026-01-02T00:00:00Z",
		 "assignee":{"login":"alice"},"user":{"login":"bob"}},
		{"number":2,"title":"flaky test","body":"CI flakes","state":"open","comments":5,
		 "created_at":"2026-01-03T00:00:00Z","user":{"login":"carol"}}
	]`)

	entities := w.normalizeIssueTracker(42, 100, payload)

	var workItems []*pipeline.WorkItem
	var users []*pipeline.User
	for _, e := range entities {
		switch d := e.Data.(type) {
		case *pipeline.WorkItem:
			workItems = append(workItems, d)
		case *pipeline.User:
			users = append(users, d)
		}
	}

	require.Len(t, workItems, 2)
	assert.Equal(t, "1", workItems[0].ExternalKey)
	assert.Equal(t, int64(42), workItems[0].TenantID)
	assert.Equal(t, "alice", workItems[0].AssigneeExternalKey)
	require.NotNil(t, workItems[0].LeadTimeMinutes)
	assert.Equal(t, int64(24*60), *workItems[0].LeadTimeMinutes)
	assert.False(t, workItems[0].ReworkIndicator, "1 comment should not trip the rework heuristic")

	assert.Equal(t, "2", workItems[1].ExternalKey)
	assert.True(t, workItems[1].ReworkIndicator, "5 comments should trip the rework heuristic")
	assert.Nil(t, workItems[1].LeadTimeMinutes, "item still open has no lead time")

	require.Len(t, users, 2)

	assert.Equal(t, "done", workItems[0].Status, "closed resolves through the tenant's mapping")
	assert.Equal(t, "in_progress", workItems[1].Status, "open resolves through the tenant's mapping")
}

func TestNormalizeIssueTrackerMalformedPayloadIsolated(t *testing.T) {
	w := newTestTransformWorker()
	entities := w.normalizeIssueTracker(7, 100, []byte(`not json`))

	require.Len(t, entities, 1)
	item, ok := entities[0].Data.(*pipeline.WorkItem)
	require.True(t, ok)
	assert.Equal(t, int64(7), item.TenantID)
	assert.NotEmpty(t, item.ParseError)
}

func TestResolveStatusUnmappedGetsSyntheticState(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	resolver := &fakeMappingResolver{mappings: map[string]string{"closed": "done"}}
	broker := progress.NewBroker()
	w := NewTransformWorker(nil, nil, resolver, broker, log.WithField("test", true))

	events, unsubscribe := broker.Subscribe(1, "job-100")
	defer unsubscribe()

	status := w.resolveStatus(1, 100, "in-review")
	assert.Equal(t, UnmappedState, status)

	select {
	case ev := <-events:
		assert.Equal(t, "warning", ev.Status)
	default:
		t.Fatal("expected a warning event for the unmapped status")
	}
}

func TestResolveStatusMappingLookupFailureFallsBackToUnmapped(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	resolver := &fakeMappingResolver{err: assert.AnError}
	w := NewTransformWorker(nil, nil, resolver, progress.NewBroker(), log.WithField("test", true))

	status := w.resolveStatus(1, 100, "closed")
	assert.Equal(t, UnmappedState, status)
}

func TestNormalizeSourceControlLinksWorkItems(t *testing.T) {
	w := newTestTransformWorker()
	payload := []byte(`[
		{"repo":"group/project","merge_request":{"iid":5,"title":"PROJ-123 fix crash",
		 "description":"closes PROJ-124","state":"merged",
		 "created_at":"2026-01-01T00:00:00Z","merged_at":"2026-01-02T00:00:00Z",
		 "author":{"username":"dave"}}}
	]`)

	entities := w.normalizeSourceControl(9, payload)

	var prs []*pipeline.PullRequest
	var links []*pipeline.WorkItemPullRequestLink
	for _, e := range entities {
		switch d := e.Data.(type) {
		case *pipeline.PullRequest:
			prs = append(prs, d)
		case *pipeline.WorkItemPullRequestLink:
			links = append(links, d)
		}
	}

	require.Len(t, prs, 1)
	assert.Equal(t, "group/project!5", prs[0].ExternalID)
	assert.Equal(t, "dave", prs[0].AuthorExternalKey)
	assert.ElementsMatch(t, []string{"PROJ-123", "PROJ-124"}, prs[0].LinkedWorkItemKeys)

	require.Len(t, links, 2)
	for _, l := range links {
		assert.Equal(t, "group/project!5", l.PullRequestExternalID)
	}
}

func TestNormalizeSourceControlMalformedPayloadIsolated(t *testing.T) {
	w := newTestTransformWorker()
	entities := w.normalizeSourceControl(3, []byte(`{"not":"an array"}`))

	require.Len(t, entities, 1)
	pr, ok := entities[0].Data.(*pipeline.PullRequest)
	require.True(t, ok)
	assert.Equal(t, int64(3), pr.TenantID)
}
