package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"pipelinecore.dev/common"
	"pipelinecore.dev/db/repository"
	"pipelinecore.dev/pipeline"
	"pipelinecore.dev/progress"
	"pipelinecore.dev/queue"
)

// TransformTimeout bounds one batch's normalization.
const TransformTimeout = 5 * time.Minute

// UnmappedState is the synthetic canonical status a work item gets when its
// external status has no entry in the tenant's mappings configuration
// (§4.4 "unmapped statuses are recorded under a synthetic state with a
// warning event — never dropped").
const UnmappedState = "unmapped"

// workItemKeyPattern recognizes the PROJECT-123 style external key inside
// free text, used to link a source-control pull request back to the work
// items it mentions (§4.4
// "PR-to-work-item linking... by identifier-pattern parsing").
var workItemKeyPattern = regexp.MustCompile(`[A-Z][A-Z0-9]+-\d+`)

// LoadPublisher is the subset of the bus the Transform Worker needs: handing
// normalized entities to the Load Worker.
type LoadPublisher interface {
	PublishLoad(ctx context.Context, msg pipeline.LoadMessage) error
}

// MappingResolver looks up a tenant's external-status-to-canonical-state
// mappings (§4.4), used to resolve the raw status string an adapter reports
// into the canonical state a work item is upserted with.
type MappingResolver interface {
	Mappings(tenantID int64) (map[string]string, error)
}

// TransformWorker normalizes one raw batch into canonical entity drafts
// (§4.4), isolating a parse failure to the single offending record instead
// of failing the whole batch.
type TransformWorker struct {
	rawBatches repository.RawBatchRepository
	publisher  LoadPublisher
	mappings   MappingResolver
	broker     *progress.Broker
	log        *logrus.Entry
}

// NewTransformWorker wires the Transform Worker's dependencies.
func NewTransformWorker(rawBatches repository.RawBatchRepository, publisher LoadPublisher, mappings MappingResolver, broker *progress.Broker, log *logrus.Entry) *TransformWorker {
	return &TransformWorker{rawBatches: rawBatches, publisher: publisher, mappings: mappings, broker: broker, log: log.WithField("component", "transform_worker")}
}

// resolveStatus looks up the tenant's configured mapping for an external
// status string. An unmapped status (including a lookup failure, treated
// as "no mapping" rather than fatal) falls back to UnmappedState and emits
// a warning event instead of being silently dropped (§4.4).
func (w *TransformWorker) resolveStatus(tenantID, jobID int64, externalStatus string) string {
	mapped, err := w.mappings.Mappings(tenantID)
	if err != nil {
		w.log.WithError(err).WithField("tenant_id", tenantID).Warn("failed to load status mappings, treating status as unmapped")
		w.broker.PublishStatus(tenantID, fmt.Sprintf("job-%d", jobID), "warning", fmt.Sprintf("status mapping lookup failed for %q: %v", externalStatus, err))
		return UnmappedState
	}
	canonical, ok := mapped[externalStatus]
	if !ok {
		w.broker.PublishStatus(tenantID, fmt.Sprintf("job-%d", jobID), "warning", fmt.Sprintf("no mapping configured for external status %q", externalStatus))
		return UnmappedState
	}
	return canonical
}

// JobID extracts the bus delivery ID.
func (w *TransformWorker) JobID(job any) string {
	msg, ok := job.(*queue.Message)
	if !ok {
		return ""
	}
	return msg.ID
}

// Timeout is the fixed per-batch budget.
func (w *TransformWorker) Timeout(job any) time.Duration {
	return TransformTimeout
}

// Process normalizes one staged batch and publishes the resulting entity
// drafts to the Load Worker, dispatching on the batch's kind (§4.4).
func (w *TransformWorker) Process(ctx context.Context, job any) error {
	msg, ok := job.(*queue.Message)
	if !ok {
		return fmt.Errorf("transform worker: unexpected job type %T", job)
	}
	var transform pipeline.TransformMessage
	if err := json.Unmarshal(msg.Body, &transform); err != nil {
		return pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode transform message: %w", err))
	}

	batch, err := w.rawBatches.GetBatch(ctx, transform.TenantID, transform.BatchID)
	if err != nil {
		return pipeline.Classify(pipeline.ErrorClassReferential, err)
	}

	var entities []pipeline.EntityEnvelope
	switch batch.Kind {
	case "issue-tracker":
		entities = w.normalizeIssueTracker(transform.TenantID, transform.JobID, batch.Payload)
	case "source-control":
		entities = w.normalizeSourceControl(transform.TenantID, batch.Payload)
	default:
		return pipeline.Classify(pipeline.ErrorClassParse, fmt.Errorf("unknown batch kind %q", batch.Kind))
	}

	if err := w.publisher.PublishLoad(ctx, pipeline.LoadMessage{
		TenantID: transform.TenantID, JobID: transform.JobID, BatchID: transform.BatchID, Entities: entities,
	}); err != nil {
		return err
	}

	if err := w.rawBatches.MarkConsumed(ctx, transform.TenantID, transform.BatchID, time.Now()); err != nil {
		w.log.WithError(err).WithField("batch_id", transform.BatchID).Warn("failed to mark batch consumed")
	}
	return nil
}

// giteaIssue is the subset of code.gitea.io/sdk/gitea.Issue fields this
// normalizer reads. Decoded structurally rather than importing the SDK type
// directly, since the payload was already JSON-serialized by the adapter
// and the normalizer only needs a handful of its fields.
type giteaIssue struct {
	Index     int64      `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	Comments  int        `json:"comments"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	Assignee  *struct {
		UserName string `json:"login"`
	} `json:"assignee"`
	Poster *struct {
		UserName string `json:"login"`
	} `json:"user"`
}

// normalizeIssueTracker turns one page of Gitea issues into work-item
// drafts. A single malformed record's error is captured on that record's
// ParseError field rather than failing the batch (§4.4 per-entity
// isolation); everything about a record that did parse is still loaded.
func (w *TransformWorker) normalizeIssueTracker(tenantID, jobID int64, payload []byte) []pipeline.EntityEnvelope {
	var records []json.RawMessage
	if err := json.Unmarshal(payload, &records); err != nil {
		w.log.WithError(err).Warn("issue-tracker batch failed to decode, isolating whole batch")
		return []pipeline.EntityEnvelope{{
			Kind: pipeline.EntityKindWorkItem,
			Data: &pipeline.WorkItem{TenantID: tenantID, ParseError: err.Error(), UpdatedAt: time.Now()},
		}}
	}

	entities := make([]pipeline.EntityEnvelope, 0, len(records))
	for _, record := range records {
		var issue giteaIssue
		if err := json.Unmarshal(record, &issue); err != nil {
			entities = append(entities, pipeline.EntityEnvelope{
				Kind: pipeline.EntityKindWorkItem,
				Data: &pipeline.WorkItem{TenantID: tenantID, ParseError: err.Error(), UpdatedAt: time.Now()},
			})
			continue
		}
		item := &pipeline.WorkItem{
			TenantID:    tenantID,
			ExternalKey: fmt.Sprintf("%d", issue.Index),
			Status:      w.resolveStatus(tenantID, jobID, issue.State),
			Summary:     issue.Title,
			Description: issue.Body,
			UpdatedAt:   time.Now(),
		}
		if issue.Assignee != nil {
			item.AssigneeExternalKey = issue.Assignee.UserName
		}
		if issue.ClosedAt != nil {
			lead := int64(issue.ClosedAt.Sub(issue.CreatedAt).Minutes())
			item.LeadTimeMinutes = common.Ptr(lead)
		}
		// Comment volume stands in for changelog-derived rework until the
		// adapter fetches the full status changelog; more than two comments
		// in total suggests the item bounced before landing.
		item.ReworkIndicator = issue.Comments > 2
		item.WorkflowComplexity = float64(issue.Comments)

		entities = append(entities, pipeline.EntityEnvelope{Kind: pipeline.EntityKindWorkItem, Data: item})
		if issue.Poster != nil {
			entities = append(entities, pipeline.EntityEnvelope{
				Kind: pipeline.EntityKindUser,
				Data: &pipeline.User{TenantID: tenantID, ExternalKey: issue.Poster.UserName, DisplayName: issue.Poster.UserName},
			})
		}
	}
	return entities
}

// mergeRequestBundle mirrors adapter/sourcecontrol's payload shape; kept
// package-local and limited to the fields the transform stage reads, not
// the full GitLab object graph.
type mergeRequestBundle struct {
	Repo         string `json:"repo"`
	MergeRequest struct {
		IID         int64      `json:"iid"`
		Title       string     `json:"title"`
		Description string     `json:"description"`
		State       string     `json:"state"`
		CreatedAt   time.Time  `json:"created_at"`
		MergedAt    *time.Time `json:"merged_at"`
		ClosedAt    *time.Time `json:"closed_at"`
		Author      struct {
			Username string `json:"username"`
		} `json:"author"`
	} `json:"merge_request"`
}

// normalizeSourceControl turns one page of merge-request bundles into pull
// request drafts, linking each to the work items its title or description
// mentions (§4.4).
func (w *TransformWorker) normalizeSourceControl(tenantID int64, payload []byte) []pipeline.EntityEnvelope {
	var records []json.RawMessage
	if err := json.Unmarshal(payload, &records); err != nil {
		w.log.WithError(err).Warn("source-control batch failed to decode, isolating whole batch")
		return []pipeline.EntityEnvelope{{
			Kind: pipeline.EntityKindPullRequest,
			Data: &pipeline.PullRequest{TenantID: tenantID, UpdatedAt: time.Now()},
		}}
	}

	entities := make([]pipeline.EntityEnvelope, 0, len(records)*2)
	for _, record := range records {
		var b mergeRequestBundle
		if err := json.Unmarshal(record, &b); err != nil {
			w.log.WithError(err).Warn("source-control record failed to decode, isolating it")
			entities = append(entities, pipeline.EntityEnvelope{
				Kind: pipeline.EntityKindPullRequest,
				Data: &pipeline.PullRequest{TenantID: tenantID, UpdatedAt: time.Now()},
			})
			continue
		}
		mr := b.MergeRequest
		pr := &pipeline.PullRequest{
			TenantID:          tenantID,
			ExternalID:        fmt.Sprintf("%s!%d", b.Repo, mr.IID),
			Repository:        b.Repo,
			AuthorExternalKey: mr.Author.Username,
			OpenedAt:          mr.CreatedAt,
			MergedAt:          mr.MergedAt,
			ClosedAt:          mr.ClosedAt,
			UpdatedAt:         time.Now(),
		}
		for _, key := range workItemKeyPattern.FindAllString(mr.Title+" "+mr.Description, -1) {
			pr.LinkedWorkItemKeys = append(pr.LinkedWorkItemKeys, key)
		}
		entities = append(entities, pipeline.EntityEnvelope{Kind: pipeline.EntityKindPullRequest, Data: pr})
		for _, key := range pr.LinkedWorkItemKeys {
			entities = append(entities, pipeline.EntityEnvelope{
				Kind: pipeline.EntityKindLink,
				Data: &pipeline.WorkItemPullRequestLink{TenantID: tenantID, WorkItemExternalKey: key, PullRequestExternalID: pr.ExternalID},
			})
		}
	}
	return entities
}
