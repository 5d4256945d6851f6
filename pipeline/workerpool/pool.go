// Package workerpool provides the generic worker pool shared by the
// Extract, Transform, Load and Vectorize workers: a fixed number of
// goroutines per logical queue, each blocking on dequeue with a timeout and
// observing a shutdown signal between jobs (§5 Concurrency & Resource
// Model).
package workerpool

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Queue is the minimal contract a worker pool needs from a queue bus
// implementation. Dequeue returns (nil, nil) on a timeout with no job
// available, which is not an error.
type Queue interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (any, error)
	MarkProcessing(ctx context.Context, jobID string, deadline time.Time) error
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID string, requeue bool, queueName string) error
}

// JobProcessor processes one dequeued job. Implementations are the four
// stage workers (extract/transform/load/vectorize).
type JobProcessor interface {
	Process(ctx context.Context, job any) error
	JobID(job any) string
	Timeout(job any) time.Duration
}

// Config sets the worker count for one queue name.
type Config struct {
	QueueName   string
	WorkerCount int
}

// Pool runs Config.WorkerCount goroutines pulling from Config.QueueName.
type Pool struct {
	cfg       Config
	queue     Queue
	processor JobProcessor
	log       *logrus.Entry
	cancel    context.CancelFunc
}

// NewPool creates a pool; call Start to launch its workers.
func NewPool(queue Queue, processor JobProcessor, cfg Config, log *logrus.Entry) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &Pool{cfg: cfg, queue: queue, processor: processor, log: log.WithField("queue", cfg.QueueName)}
}

// Start launches the pool's workers under a context derived from ctx that
// Stop cancels, propagating the shutdown signal to every in-flight Process
// call.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.WorkerCount; i++ {
		id := i
		go p.runWorker(ctx, id)
	}
	p.log.WithField("workers", p.cfg.WorkerCount).Info("worker pool started")
}

// Stop cancels the workers' context: an in-flight Process call sees its
// context cancelled, and each worker exits once its current dequeue or job
// returns.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	log := p.log.WithField("worker", id)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		default:
		}
		if err := p.processNext(ctx, log); err != nil {
			log.WithError(err).Warn("dequeue error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (p *Pool) processNext(ctx context.Context, log *logrus.Entry) error {
	job, err := p.queue.Dequeue(ctx, p.cfg.QueueName, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", p.cfg.QueueName, err)
	}
	if job == nil {
		return nil
	}

	jobID := p.processor.JobID(job)
	timeout := p.processor.Timeout(job)
	log = log.WithField("job_id", jobID)

	if err := p.queue.MarkProcessing(ctx, jobID, time.Now().Add(timeout)); err != nil {
		log.WithError(err).Warn("failed to mark job processing, leaving for redelivery")
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.processor.Process(jobCtx, job); err != nil {
		log.WithError(err).Warn("job failed")
		if failErr := p.queue.FailJob(ctx, jobID, false, p.cfg.QueueName); failErr != nil {
			log.WithError(failErr).Error("failed to mark job as failed")
		}
		return nil
	}

	if err := p.queue.CompleteJob(ctx, jobID); err != nil {
		log.WithError(err).Error("failed to mark job complete")
	}
	return nil
}
