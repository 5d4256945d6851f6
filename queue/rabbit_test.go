package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinecore.dev/pipeline"
)

// fakeChannel is an in-memory stand-in for AMQPChannel: Publish appends
// straight to the named queue's delivery channel so Dequeue sees it without
// a real broker.
type fakeChannel struct {
	declared  map[string]amqp.Table
	deliveries map[string]chan amqp.Delivery
	published []amqp.Publishing
	dialErr   error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		declared:   make(map[string]amqp.Table),
		deliveries: make(map[string]chan amqp.Delivery),
	}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared[name] = args
	f.deliveries[name] = make(chan amqp.Delivery, 16)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	ch, ok := f.deliveries[key]
	if !ok {
		return nil
	}
	ch <- amqp.Delivery{Body: msg.Body, MessageId: msg.MessageId}
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch, ok := f.deliveries[queue]
	if !ok {
		ch = make(chan amqp.Delivery, 16)
		f.deliveries[queue] = ch
	}
	return ch, nil
}

func (f *fakeChannel) QueueInspect(name string) (amqp.Queue, error) {
	return amqp.Queue{Name: name, Messages: len(f.deliveries[name])}, nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (f *fakeChannel) Close() error { return nil }

type fakeConnection struct {
	channel *fakeChannel
}

func (f *fakeConnection) Channel() (AMQPChannel, error) { return f.channel, nil }
func (f *fakeConnection) Close() error                  { return nil }

type fakeDialer struct {
	conn *fakeConnection
	err  error
}

func (f *fakeDialer) Dial(url string) (AMQPConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

func newTestBus(t *testing.T) (*Bus, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	dialer := &fakeDialer{conn: &fakeConnection{channel: ch}}
	bus, err := NewBusWithDialer(Config{AMQPURL: "amqp://unused"}, dialer)
	require.NoError(t, err)
	return bus, ch
}

func TestNewBusWithDialer_DialFailure(t *testing.T) {
	dialer := &fakeDialer{err: assert.AnError}
	bus, err := NewBusWithDialer(Config{AMQPURL: "amqp://unused"}, dialer)
	assert.Error(t, err)
	assert.Nil(t, bus)
}

func TestNewBusWithDialer_DeclaresStageAndDeadLetterQueues(t *testing.T) {
	_, ch := newTestBus(t)

	for _, name := range stageQueues {
		assert.Contains(t, ch.declared, name, "stage queue %s declared", name)
		assert.Contains(t, ch.declared, name+pipeline.DeadLetterSuffix, "dlq for %s declared", name)

		args := ch.declared[name]
		assert.Equal(t, name+pipeline.DeadLetterSuffix, args["x-dead-letter-routing-key"])
	}
}

func TestBus_PublishExtractAndDequeue(t *testing.T) {
	bus, _ := newTestBus(t)

	msg := pipeline.ExtractMessage{TenantID: 1, JobID: 7, JobName: "job-7", IntegrationID: 3}
	require.NoError(t, bus.PublishExtract(context.Background(), msg))

	job, err := bus.Dequeue(context.Background(), pipeline.QueueExtract, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	delivered, ok := job.(*Message)
	require.True(t, ok)
	assert.Equal(t, pipeline.QueueExtract, delivered.QueueName)
	assert.NotEmpty(t, delivered.ID)

	var decoded pipeline.ExtractMessage
	require.NoError(t, json.Unmarshal(delivered.Body, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestBus_DequeueTimesOutWithNoMessage(t *testing.T) {
	bus, _ := newTestBus(t)

	job, err := bus.Dequeue(context.Background(), pipeline.QueueLoad, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestBus_CompleteJobAcksAndForgetsDelivery(t *testing.T) {
	bus, _ := newTestBus(t)
	require.NoError(t, bus.PublishVectorize(context.Background(), pipeline.VectorizeMessage{TenantID: 1, EntityKind: pipeline.EntityKindWorkItem, EntityID: "PROJ-1"}))

	job, err := bus.Dequeue(context.Background(), pipeline.QueueVectorize, time.Second)
	require.NoError(t, err)
	delivered := job.(*Message)

	require.NoError(t, bus.CompleteJob(context.Background(), delivered.ID))
	assert.Error(t, bus.CompleteJob(context.Background(), delivered.ID), "completing an unknown delivery is an error")
}

func TestBus_FailJobNacksAndForgetsDelivery(t *testing.T) {
	bus, _ := newTestBus(t)
	require.NoError(t, bus.PublishTransform(context.Background(), pipeline.TransformMessage{TenantID: 1, BatchID: "batch-1", Kind: "issue-tracker"}))

	job, err := bus.Dequeue(context.Background(), pipeline.QueueTransform, time.Second)
	require.NoError(t, err)
	delivered := job.(*Message)

	require.NoError(t, bus.FailJob(context.Background(), delivered.ID, false, pipeline.QueueTransform))
	assert.Error(t, bus.FailJob(context.Background(), delivered.ID, false, pipeline.QueueTransform))
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "tenant-1", routingKey(1, ""))
	assert.Equal(t, "tenant-1.batch-abc", routingKey(1, "abc"))
}
