package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pipelinecore.dev/db"
	"pipelinecore.dev/pipeline"
	"pipelinecore.dev/queue"
)

// LoadTimeout bounds one batch's upsert pass.
const LoadTimeout = 5 * time.Minute

// MaxReferenceResolutionPasses bounds the retries a deferred entity (one
// whose reference hasn't landed yet) gets before the Load Worker gives up
// on it and logs the failure (§4.5 "deferred reference resolution, up to
// three passes").
const MaxReferenceResolutionPasses = 3

// entityOrder is the upsert ordering tier by kind (§4.5): projects and
// users first since work items reference them, workflow configuration
// before work items since a work item's Status/WorkflowID point into it,
// work items before pull requests and links since a link references both.
var entityOrder = map[string]int{
	pipeline.EntityKindProject:     0,
	pipeline.EntityKindUser:        1,
	pipeline.EntityKindWorkflow:    2,
	pipeline.EntityKindStatus:      2,
	pipeline.EntityKindMapping:     2,
	pipeline.EntityKindHierarchy:   2,
	pipeline.EntityKindWorkItem:    3,
	pipeline.EntityKindPullRequest: 4,
	pipeline.EntityKindLink:        5,
}

// VectorizePublisher is the subset of the bus the Load Worker needs: asking
// the Vectorize Worker to (re)embed an entity whose text changed.
type VectorizePublisher interface {
	PublishVectorize(ctx context.Context, msg pipeline.VectorizeMessage) error
}

// LoadWorker upserts one batch's canonical entity drafts in dependency
// order and fans out vectorize requests for work items whose indexed text
// changed (§4.5). Every upserted pull request gets a vectorize request;
// pull requests are not compared against a stored fingerprint.
type LoadWorker struct {
	catalog   *db.CatalogStore
	publisher VectorizePublisher
	log       *logrus.Entry
}

// NewLoadWorker wires the Load Worker's dependencies.
func NewLoadWorker(catalog *db.CatalogStore, publisher VectorizePublisher, log *logrus.Entry) *LoadWorker {
	return &LoadWorker{catalog: catalog, publisher: publisher, log: log.WithField("component", "load_worker")}
}

// JobID extracts the bus delivery ID.
func (w *LoadWorker) JobID(job any) string {
	msg, ok := job.(*queue.Message)
	if !ok {
		return ""
	}
	return msg.ID
}

// Timeout is the fixed per-batch budget.
func (w *LoadWorker) Timeout(job any) time.Duration {
	return LoadTimeout
}

// Process upserts one batch's entities, deferring any that fail (an
// unresolved reference) to a subsequent pass within the same call, up to
// MaxReferenceResolutionPasses (§4.5).
func (w *LoadWorker) Process(ctx context.Context, job any) error {
	msg, ok := job.(*queue.Message)
	if !ok {
		return fmt.Errorf("load worker: unexpected job type %T", job)
	}
	var load pipeline.LoadMessage
	if err := json.Unmarshal(msg.Body, &load); err != nil {
		return pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode load message: %w", err))
	}

	pending := sortByTier(load.Entities)
	for pass := 1; pass <= MaxReferenceResolutionPasses && len(pending) > 0; pass++ {
		var deferred []pipeline.EntityEnvelope
		for _, e := range pending {
			if err := w.upsert(ctx, load.TenantID, e); err != nil {
				w.log.WithError(err).WithField("kind", e.Kind).WithField("pass", pass).Debug("deferring entity")
				deferred = append(deferred, e)
				continue
			}
		}
		pending = deferred
	}
	for _, e := range pending {
		w.log.WithField("kind", e.Kind).Error("entity permanently failed reference resolution")
	}

	return nil
}

func sortByTier(entities []pipeline.EntityEnvelope) []pipeline.EntityEnvelope {
	sorted := make([]pipeline.EntityEnvelope, len(entities))
	copy(sorted, entities)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && entityOrder[sorted[j-1].Kind] > entityOrder[sorted[j].Kind]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted
}

func (w *LoadWorker) upsert(ctx context.Context, tenantID int64, e pipeline.EntityEnvelope) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return pipeline.Classify(pipeline.ErrorClassParse, err)
	}

	switch e.Kind {
	case pipeline.EntityKindProject:
		var p pipeline.Project
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		return w.catalog.UpsertProject(&p)
	case pipeline.EntityKindUser:
		var u pipeline.User
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		return w.catalog.UpsertUser(&u)
	case pipeline.EntityKindWorkflow:
		var wf pipeline.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return err
		}
		return w.catalog.UpsertWorkflow(&wf)
	case pipeline.EntityKindStatus:
		var s pipeline.Status
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return w.catalog.UpsertStatus(&s)
	case pipeline.EntityKindMapping:
		var m pipeline.Mapping
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		return w.catalog.UpsertMapping(&m)
	case pipeline.EntityKindHierarchy:
		var h pipeline.Hierarchy
		if err := json.Unmarshal(data, &h); err != nil {
			return err
		}
		return w.catalog.UpsertHierarchy(&h)
	case pipeline.EntityKindWorkItem:
		var item pipeline.WorkItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		return w.loadWorkItem(ctx, tenantID, &item)
	case pipeline.EntityKindPullRequest:
		var pr pipeline.PullRequest
		if err := json.Unmarshal(data, &pr); err != nil {
			return err
		}
		if err := w.catalog.UpsertPullRequest(&pr); err != nil {
			return err
		}
		return w.publisher.PublishVectorize(ctx, pipeline.VectorizeMessage{
			TenantID: tenantID, EntityKind: pipeline.EntityKindPullRequest, EntityID: pr.ExternalID,
			TextFingerprint: fingerprint(pr.Repository, pr.AuthorExternalKey),
		})
	case pipeline.EntityKindLink:
		var l pipeline.WorkItemPullRequestLink
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		return w.catalog.UpsertLink(&l)
	default:
		return fmt.Errorf("load worker: unknown entity kind %q", e.Kind)
	}
}

// loadWorkItem upserts a work item and, only if its indexed text actually
// changed since the last load, asks the Vectorize Worker to recompute its
// embedding (§4.5 "skip-if-unchanged by fingerprint").
func (w *LoadWorker) loadWorkItem(ctx context.Context, tenantID int64, item *pipeline.WorkItem) error {
	newFingerprint := fingerprint(item.Summary, item.Description)
	existing, err := w.catalog.GetWorkItem(tenantID, item.ExternalKey)
	changed := err != nil || fingerprint(existing.Summary, existing.Description) != newFingerprint

	if err := w.catalog.UpsertWorkItem(item); err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return w.publisher.PublishVectorize(ctx, pipeline.VectorizeMessage{
		TenantID: tenantID, EntityKind: pipeline.EntityKindWorkItem, EntityID: item.ExternalKey, TextFingerprint: newFingerprint,
	})
}

func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
