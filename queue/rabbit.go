// Package queue is the durable message bus between the Scheduler and the
// four stage workers (§5): dial, open a channel, declare topology, clean up
// on Close, with four logical stage queues plus one dead-letter queue per
// stage and typed Extract/Transform/Load/Vectorize message payloads.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"pipelinecore.dev/pipeline"
)

// exchangeName names a topic exchange for the bus. NewBus does not declare
// it and publish does not use it: every message goes through the default
// exchange straight to its stage queue, and the (tenant_id, batch_id) key
// from routingKey travels only as the message's "routing-key" header.
// Routing does not depend on that key; each stage has one durable queue,
// which holds its messages in publish order.
const exchangeName = "pipelinecore"

// Message is one dequeued unit of work handed to a JobProcessor. Body is
// the JSON-encoded stage-specific message (pipeline.ExtractMessage etc.);
// the processor decodes it once it knows which stage it is running.
type Message struct {
	ID        string
	QueueName string
	TenantID  int64
	Body      []byte
}

// Config configures the bus's AMQP connection. PrefetchCount defaults to
// config.LoadQueueConfig's default when zero, bounding how many
// unacknowledged deliveries the channel holds per consumer at once.
type Config struct {
	AMQPURL       string
	PrefetchCount int
}

// Bus is the RabbitMQ-backed implementation of pipeline/workerpool.Queue,
// fronting the four logical stage queues (pipeline.QueueExtract etc.) and
// their dead-letter counterparts.
type Bus struct {
	conn    AMQPConnection
	channel AMQPChannel

	mu        sync.Mutex
	deliveries map[string]pendingDelivery
	consumers  map[string]<-chan amqp.Delivery
}

type pendingDelivery struct {
	queueName string
	delivery  amqp.Delivery
}

// stageQueues lists every logical queue declared at startup, alongside its
// dead-letter queue (§7: "a message whose class is permanent-remote,
// protocol, parse or referential is dead-lettered rather than retried
// indefinitely").
var stageQueues = []string{
	pipeline.QueueExtract,
	pipeline.QueueTransform,
	pipeline.QueueLoad,
	pipeline.QueueVectorize,
}

// NewBus dials amqpURL, declares every stage queue and its DLQ, and starts
// one consumer per stage queue ready for Dequeue.
func NewBus(cfg Config) (*Bus, error) {
	return NewBusWithDialer(cfg, &RealAMQPDialer{})
}

// NewBusWithDialer allows injecting a custom dialer for testing.
func NewBusWithDialer(cfg Config, dialer AMQPDialer) (*Bus, error) {
	conn, err := dialer.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	b := &Bus{conn: conn, channel: ch, deliveries: make(map[string]pendingDelivery), consumers: make(map[string]<-chan amqp.Delivery)}

	if err := b.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) declareTopology() error {
	for _, name := range stageQueues {
		dlq := name + pipeline.DeadLetterSuffix
		if _, err := b.channel.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq %s: %w", dlq, err)
		}
		args := amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}
		if _, err := b.channel.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		deliveries, err := b.channel.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", name, err)
		}
		b.consumers[name] = deliveries
	}
	return nil
}

// routingKey derives the (tenant_id, batch_id) key every message in one
// batch shares, per §5.
func routingKey(tenantID int64, batchID string) string {
	if batchID == "" {
		return fmt.Sprintf("tenant-%d", tenantID)
	}
	return fmt.Sprintf("tenant-%d.batch-%s", tenantID, batchID)
}

func (b *Bus) publish(ctx context.Context, queueName string, tenantID int64, batchID string, body []byte) error {
	id := uuid.NewString()
	envelope := struct {
		ID   string          `json:"id"`
		Body json.RawMessage `json:"body"`
	}{ID: id, Body: body}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = b.channel.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Body:         data,
		Headers:      amqp.Table{"routing-key": routingKey(tenantID, batchID)},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", queueName, err)
	}
	return nil
}

// PublishExtract enqueues one extraction run fire.
func (b *Bus) PublishExtract(ctx context.Context, msg pipeline.ExtractMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal extract message: %w", err)
	}
	return b.publish(ctx, pipeline.QueueExtract, msg.TenantID, "", body)
}

// PublishTransform enqueues one raw batch for normalization.
func (b *Bus) PublishTransform(ctx context.Context, msg pipeline.TransformMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transform message: %w", err)
	}
	return b.publish(ctx, pipeline.QueueTransform, msg.TenantID, msg.BatchID, body)
}

// PublishLoad enqueues one transformed batch for upsert.
func (b *Bus) PublishLoad(ctx context.Context, msg pipeline.LoadMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal load message: %w", err)
	}
	return b.publish(ctx, pipeline.QueueLoad, msg.TenantID, msg.BatchID, body)
}

// PublishVectorize enqueues one entity for (re)embedding.
func (b *Bus) PublishVectorize(ctx context.Context, msg pipeline.VectorizeMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal vectorize message: %w", err)
	}
	return b.publish(ctx, pipeline.QueueVectorize, msg.TenantID, msg.EntityID, body)
}

// Dequeue implements pipeline/workerpool.Queue: it blocks up to timeout for
// the next delivery on queueName, decoding the envelope and retaining the
// raw amqp.Delivery for the later ack/nack in CompleteJob/FailJob.
func (b *Bus) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (any, error) {
	deliveries, ok := b.consumers[queueName]
	if !ok {
		return nil, fmt.Errorf("dequeue: no consumer for queue %q", queueName)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-deliveries:
		if !ok {
			return nil, fmt.Errorf("dequeue: consumer channel for %q closed", queueName)
		}
		var envelope struct {
			ID   string          `json:"id"`
			Body json.RawMessage `json:"body"`
		}
		if err := json.Unmarshal(d.Body, &envelope); err != nil {
			d.Nack(false, false)
			return nil, pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode envelope: %w", err))
		}

		b.mu.Lock()
		b.deliveries[envelope.ID] = pendingDelivery{queueName: queueName, delivery: d}
		b.mu.Unlock()

		return &Message{ID: envelope.ID, QueueName: queueName, Body: envelope.Body}, nil
	}
}

// MarkProcessing is a no-op on the AMQP side (the broker already tracks
// unacked deliveries); it exists to satisfy the Queue contract uniformly
// across bus implementations and future in-flight-tracker wiring.
func (b *Bus) MarkProcessing(ctx context.Context, jobID string, deadline time.Time) error {
	return nil
}

// CompleteJob acks the delivery identified by jobID.
func (b *Bus) CompleteJob(ctx context.Context, jobID string) error {
	b.mu.Lock()
	pd, ok := b.deliveries[jobID]
	delete(b.deliveries, jobID)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("complete job: unknown delivery %s", jobID)
	}
	return pd.delivery.Ack(false)
}

// FailJob nacks the delivery identified by jobID. requeue=false lets the
// queue's dead-letter policy route it to the stage's DLQ instead of an
// immediate broker-level redelivery, since retry scheduling for
// transient-remote errors is the Scheduler's CAS/backoff responsibility,
// not the broker's.
func (b *Bus) FailJob(ctx context.Context, jobID string, requeue bool, queueName string) error {
	b.mu.Lock()
	pd, ok := b.deliveries[jobID]
	delete(b.deliveries, jobID)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("fail job: unknown delivery %s", jobID)
	}
	return pd.delivery.Nack(false, requeue)
}

// Close tears down the channel and connection.
func (b *Bus) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
