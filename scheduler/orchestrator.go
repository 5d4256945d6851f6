package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"pipelinecore.dev/pipeline"
	"pipelinecore.dev/progress"
)

// TickInterval is how often ScheduleAllActive is invoked by the fire loop
// (§4.1: "the scheduler polls the job catalog on a fixed interval rather
// than computing exact fire timers, trading a few seconds of latency for a
// far simpler restart story").
const TickInterval = 5 * time.Second

// Publisher is the subset of the queue bus the Scheduler needs: firing one
// extraction run.
type Publisher interface {
	PublishExtract(ctx context.Context, msg pipeline.ExtractMessage) error
}

// Scheduler is the public orchestrator wrapping Store's CAS primitives with
// the fire-time tick loop and the status-event emission every transition
// owes the Progress Broker (§4.1, §4.7).
type Scheduler struct {
	store        *Store
	publisher    Publisher
	broker       *progress.Broker
	log          *logrus.Entry
	tickInterval time.Duration
}

// New builds a Scheduler. Callers run its tick loop with Run.
func New(store *Store, publisher Publisher, broker *progress.Broker, log *logrus.Entry) *Scheduler {
	return &Scheduler{store: store, publisher: publisher, broker: broker, log: log.WithField("component", "scheduler"), tickInterval: TickInterval}
}

// SetTickInterval overrides the default fire-loop cadence (config.SchedulerConfig.TickInterval); zero or negative leaves the default in place.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	if d > 0 {
		s.tickInterval = d
	}
}

// Run reclaims abandoned runs once, then ticks ScheduleAllActive on
// TickInterval until ctx is cancelled (§5 graceful shutdown: the loop exits
// between ticks, never mid-claim).
func (s *Scheduler) Run(ctx context.Context) error {
	n, err := s.store.ReclaimAbandoned(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.WithField("count", n).Warn("reclaimed abandoned runs")
	}

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.ScheduleAllActive(ctx); err != nil {
				s.log.WithError(err).Warn("schedule tick failed")
			}
		}
	}
}

// ScheduleAllActive finds every job due to fire, claims it with the CAS
// guarantee (§4.1 "at most one active run per job"), and publishes an
// extract message for each job this instance won the race on. Losing the
// race for a job is normal under multiple scheduler instances and is
// silently skipped.
func (s *Scheduler) ScheduleAllActive(ctx context.Context) error {
	now := time.Now()
	due, err := s.store.DueJobs(ctx, now)
	if err != nil {
		return err
	}
	for _, job := range due {
		if err := s.store.TryClaim(ctx, job.TenantID, job.ID, now); err != nil {
			if err == ErrNotClaimed {
				continue
			}
			s.log.WithError(err).WithField("job_id", job.ID).Warn("claim failed")
			continue
		}
		s.ReportRunStarted(job.TenantID, job.JobName)

		checkpoint := map[string]any{}
		if len(job.CheckpointData) > 0 {
			_ = json.Unmarshal(job.CheckpointData, &checkpoint)
		}
		msg := pipeline.ExtractMessage{
			TenantID:      job.TenantID,
			JobID:         job.ID,
			JobName:       job.JobName,
			IntegrationID: job.IntegrationID,
			Checkpoint:    checkpoint,
		}
		if err := s.publisher.PublishExtract(ctx, msg); err != nil {
			s.log.WithError(err).WithField("job_id", job.ID).Error("publish extract failed")
			s.ReportRunFinished(ctx, job.TenantID, job.ID, job.JobName, false, err.Error(), nil)
		}
	}
	return nil
}

// OnJobChange reacts to an out-of-band change to a job's configuration
// (activated, deactivated, schedule edited). The job catalog itself is the
// source of truth; this only emits a status event so subscribers watching
// the job see the edit without waiting for its next fire.
func (s *Scheduler) OnJobChange(tenantID, jobID int64, jobName, change string) {
	s.broker.PublishStatus(tenantID, jobName, change, "")
}

// ReportRunStarted emits the status event every run transition owes
// subscribers (§4.7 "every run emits at least one status event on
// transition").
func (s *Scheduler) ReportRunStarted(tenantID int64, jobName string) {
	s.broker.PublishStatus(tenantID, jobName, string(pipeline.JobStatusRunning), "")
}

// ReportRunFinished is the callback stage workers use to close out a run:
// success persists the new checkpoint and resets backoff; failure records
// the classified error and advances the retry counter. Either way it emits
// the run's terminal status and completion events.
func (s *Scheduler) ReportRunFinished(ctx context.Context, tenantID, jobID int64, jobName string, success bool, errMsg string, checkpoint []byte) {
	now := time.Now()

	if success {
		if err := s.store.CompleteRun(ctx, tenantID, jobID, now, checkpoint); err != nil && err != ErrNotClaimed {
			s.log.WithError(err).WithField("job_id", jobID).Error("complete run failed")
		}
		s.broker.PublishStatus(tenantID, jobName, string(pipeline.JobStatusFinished), "")
		s.broker.PublishCompletion(tenantID, jobName, true, "")
		return
	}

	if err := s.store.FailRun(ctx, tenantID, jobID, now, errMsg); err != nil && err != ErrNotClaimed {
		s.log.WithError(err).WithField("job_id", jobID).Error("fail run failed")
	}
	s.broker.PublishStatus(tenantID, jobName, string(pipeline.JobStatusFailed), errMsg)
	s.broker.PublishCompletion(tenantID, jobName, false, errMsg)
}
