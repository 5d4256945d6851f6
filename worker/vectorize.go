package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pipelinecore.dev/db"
	"pipelinecore.dev/pipeline"
	"pipelinecore.dev/queue"
	"pipelinecore.dev/vector"
)

// VectorizeTimeout bounds one entity's embedding-and-upsert attempt.
const VectorizeTimeout = 2 * time.Minute

// MaxEmbeddingRetries bounds in-process retries of a single embed/upsert
// attempt before the worker gives up on that message (§4.6 "retry up to
// K=5, never block run completion"). The run this entity belongs to has
// already reported FINISHED by the time this message is even dequeued, so
// exhausting retries here only loses one entity's fresh embedding, not the
// run.
const MaxEmbeddingRetries = 5

// VectorizeWorker (re)computes the embedding for one entity and upserts it
// into the tenant-partitioned vector collection (§4.6).
type VectorizeWorker struct {
	catalog  *db.CatalogStore
	embedder vector.Embedder
	provider vector.Provider
	log      *logrus.Entry
}

// NewVectorizeWorker wires the Vectorize Worker's dependencies.
func NewVectorizeWorker(catalog *db.CatalogStore, embedder vector.Embedder, provider vector.Provider, log *logrus.Entry) *VectorizeWorker {
	return &VectorizeWorker{catalog: catalog, embedder: embedder, provider: provider, log: log.WithField("component", "vectorize_worker")}
}

// JobID extracts the bus delivery ID.
func (w *VectorizeWorker) JobID(job any) string {
	msg, ok := job.(*queue.Message)
	if !ok {
		return ""
	}
	return msg.ID
}

// Timeout is the fixed per-entity budget.
func (w *VectorizeWorker) Timeout(job any) time.Duration {
	return VectorizeTimeout
}

// Process embeds one entity's text and upserts the resulting vector,
// retrying transient embedding/storage failures up to MaxEmbeddingRetries
// before giving up on this one entity (§4.6).
func (w *VectorizeWorker) Process(ctx context.Context, job any) error {
	msg, ok := job.(*queue.Message)
	if !ok {
		return fmt.Errorf("vectorize worker: unexpected job type %T", job)
	}
	var vm pipeline.VectorizeMessage
	if err := json.Unmarshal(msg.Body, &vm); err != nil {
		return pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode vectorize message: %w", err))
	}

	text, err := w.textFor(vm.TenantID, vm.EntityKind, vm.EntityID)
	if err != nil {
		return pipeline.Classify(pipeline.ErrorClassReferential, err)
	}

	collection := vector.CollectionName(vm.TenantID, vm.EntityKind)

	var lastErr error
	for attempt := 1; attempt <= 1+MaxEmbeddingRetries; attempt++ {
		vec, err := w.embedder.Embed(ctx, text)
		if err == nil {
			err = w.provider.Upsert(ctx, collection, vm.EntityID, vec, map[string]any{
				"tenant_id":        vm.TenantID,
				"text_fingerprint": vm.TextFingerprint,
			})
		}
		if err == nil {
			return nil
		}
		lastErr = err
		w.log.WithError(err).WithField("entity_id", vm.EntityID).WithField("attempt", attempt).Warn("vectorize attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	w.log.WithError(lastErr).WithField("entity_id", vm.EntityID).Error("vectorize exhausted retries, run completion unaffected")
	return pipeline.Classify(pipeline.ErrorClassEmbedding, lastErr)
}

// textFor resolves the indexed text for an entity by kind, re-reading the
// canonical row rather than trusting message content so a redelivered
// message always embeds the entity's current state.
func (w *VectorizeWorker) textFor(tenantID int64, entityKind, entityID string) (string, error) {
	switch entityKind {
	case pipeline.EntityKindWorkItem:
		item, err := w.catalog.GetWorkItem(tenantID, entityID)
		if err != nil {
			return "", err
		}
		return item.Summary + "\n" + item.Description, nil
	case pipeline.EntityKindPullRequest:
		// PullRequest carries no free-text field; the entity ID (repository
		// path plus merge request number) stands in as the indexed text.
		return entityID, nil
	default:
		return "", fmt.Errorf("vectorize: unsupported entity kind %q", entityKind)
	}
}
