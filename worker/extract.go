// Package worker holds the four ETL stage workers (§4.3-§4.6), each a
// pipeline/workerpool.JobProcessor plugged into its own worker pool: the
// processing loop dequeues, marks processing, processes, then acks or
// nacks, with ETL-specific domain logic inside each Process implementation.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pipelinecore.dev/adapter"
	"pipelinecore.dev/credentials"
	"pipelinecore.dev/db"
	"pipelinecore.dev/db/repository"
	"pipelinecore.dev/pipeline"
	"pipelinecore.dev/progress"
	"pipelinecore.dev/queue"
	"pipelinecore.dev/scheduler"
)

// ExtractTimeout bounds one extract run's wall-clock budget before the
// worker pool's context deadline cancels it mid-page (§5).
const ExtractTimeout = 30 * time.Minute

// TransformPublisher is the subset of the bus the Extract Worker needs:
// handing a staged batch to the Transform Worker.
type TransformPublisher interface {
	PublishTransform(ctx context.Context, msg pipeline.TransformMessage) error
}

// ExtractWorker resolves one job's integration and adapter, drives the
// adapter's Plan to exhaustion, stages every page to raw batches, and
// reports the run's outcome back to the Scheduler (§4.3).
type ExtractWorker struct {
	integrations *db.IntegrationStore
	credentials  credentials.Store
	registry     *adapter.Registry
	rawBatches   repository.RawBatchRepository
	store        *scheduler.Store
	sched        *scheduler.Scheduler
	publisher    TransformPublisher
	broker       *progress.Broker
	log          *logrus.Entry
}

// NewExtractWorker wires the Extract Worker's dependencies.
func NewExtractWorker(
	integrations *db.IntegrationStore,
	creds credentials.Store,
	registry *adapter.Registry,
	rawBatches repository.RawBatchRepository,
	store *scheduler.Store,
	sched *scheduler.Scheduler,
	publisher TransformPublisher,
	broker *progress.Broker,
	log *logrus.Entry,
) *ExtractWorker {
	return &ExtractWorker{
		integrations: integrations, credentials: creds, registry: registry, rawBatches: rawBatches,
		store: store, sched: sched, publisher: publisher, broker: broker,
		log: log.WithField("component", "extract_worker"),
	}
}

// JobID extracts the bus delivery ID so the pool can ack/nack correctly.
func (w *ExtractWorker) JobID(job any) string {
	msg, ok := job.(*queue.Message)
	if !ok {
		return ""
	}
	return msg.ID
}

// Timeout is the fixed per-run budget (§5); extract runs have no
// per-message override because a run's length is bounded by the adapter's
// own page count, not by message content.
func (w *ExtractWorker) Timeout(job any) time.Duration {
	return ExtractTimeout
}

// Process drives one extraction run to completion or failure (§4.3):
// resolve integration and credentials, connect the adapter, walk its Plan
// page by page, stage each page durably before advancing the checkpoint,
// publish a transform message per page, and report the run's outcome.
func (w *ExtractWorker) Process(ctx context.Context, job any) error {
	msg, ok := job.(*queue.Message)
	if !ok {
		return fmt.Errorf("extract worker: unexpected job type %T", job)
	}
	var extract pipeline.ExtractMessage
	if err := json.Unmarshal(msg.Body, &extract); err != nil {
		return pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode extract message: %w", err))
	}
	if extract.TenantID == 0 {
		return pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("extract message missing tenant_id"))
	}

	log := w.log.WithField("tenant_id", extract.TenantID).WithField("job_id", extract.JobID)

	integration, err := w.integrations.GetIntegration(ctx, extract.TenantID, extract.IntegrationID)
	if err != nil {
		w.fail(ctx, extract, err)
		return err
	}
	if !integration.Active {
		w.sched.ReportRunFinished(ctx, extract.TenantID, extract.JobID, extract.JobName, true, "", marshalCheckpoint(extract.Checkpoint))
		return nil
	}

	a, err := w.registry.Resolve(integration.Kind)
	if err != nil {
		w.fail(ctx, extract, err)
		return err
	}

	rawCreds, err := w.credentials.GetCredentials(ctx, extract.TenantID, extract.IntegrationID)
	if err != nil {
		w.fail(ctx, extract, err)
		return err
	}

	session, err := a.Connect(ctx, rawCreds)
	if err != nil {
		w.fail(ctx, extract, err)
		return err
	}

	plan, err := a.Plan(ctx, session, integration.BaseSearch, marshalCheckpoint(extract.Checkpoint))
	if err != nil {
		w.fail(ctx, extract, err)
		return err
	}

	var lastCheckpoint []byte
	pageCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		page, checkpoint, done, err := plan.Next(ctx)
		if err != nil {
			w.fail(ctx, extract, err)
			return err
		}
		if done {
			break
		}
		lastCheckpoint = checkpoint
		if page == nil {
			// The plan moved its position without producing a payload (a
			// source-control repo ran out of merge requests).
			continue
		}

		batchID := uuid.NewString()
		batch := &pipeline.RawBatch{
			TenantID:      extract.TenantID,
			IntegrationID: extract.IntegrationID,
			BatchID:       batchID,
			Kind:          a.BatchKind(),
			Payload:       page.Payload,
			ReceivedAt:    time.Now(),
		}
		// The checkpoint only advances after the page it advances past is
		// durably staged (§3), so SaveBatch happens before SaveCheckpoint.
		if err := w.rawBatches.SaveBatch(ctx, batch); err != nil {
			w.fail(ctx, extract, err)
			return err
		}
		if err := w.store.SaveCheckpoint(ctx, extract.TenantID, extract.JobID, checkpoint); err != nil {
			w.fail(ctx, extract, err)
			return err
		}
		if err := w.publisher.PublishTransform(ctx, pipeline.TransformMessage{
			TenantID: extract.TenantID, JobID: extract.JobID, BatchID: batchID, Kind: a.BatchKind(),
		}); err != nil {
			w.fail(ctx, extract, err)
			return err
		}

		pageCount++
		w.broker.PublishProgress(extract.TenantID, extract.JobName, page.ProgressHint, fmt.Sprintf("page %d staged", pageCount))
	}

	log.WithField("pages", pageCount).Info("extraction run complete")
	w.sched.ReportRunFinished(ctx, extract.TenantID, extract.JobID, extract.JobName, true, "", lastCheckpoint)
	return nil
}

func (w *ExtractWorker) fail(ctx context.Context, extract pipeline.ExtractMessage, err error) {
	w.log.WithError(err).WithField("job_id", extract.JobID).Warn("extraction run failed")
	w.sched.ReportRunFinished(ctx, extract.TenantID, extract.JobID, extract.JobName, false, err.Error(), nil)
}

func marshalCheckpoint(cp map[string]any) []byte {
	if len(cp) == 0 {
		return nil
	}
	b, _ := json.Marshal(cp)
	return b
}
