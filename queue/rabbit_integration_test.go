//go:build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"pipelinecore.dev/pipeline"
)

// setupRabbitMQContainer starts a RabbitMQ container for testing.
func setupRabbitMQContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management-alpine",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "guest",
			"RABBITMQ_DEFAULT_PASS": "guest",
		},
		WaitingFor: wait.ForLog("Server startup complete").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start rabbitmq container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
	time.Sleep(2 * time.Second)

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return url, cleanup
}

func TestBus_Integration_DeclaresTopologyAndRoundTrips(t *testing.T) {
	url, cleanup := setupRabbitMQContainer(t)
	defer cleanup()

	bus, err := NewBus(Config{AMQPURL: url})
	require.NoError(t, err)
	defer bus.Close()

	msg := pipeline.ExtractMessage{TenantID: 1, JobID: 42, JobName: "nightly-sync", IntegrationID: 9}
	require.NoError(t, bus.PublishExtract(context.Background(), msg))

	job, err := bus.Dequeue(context.Background(), pipeline.QueueExtract, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	delivered, ok := job.(*Message)
	require.True(t, ok)
	require.NoError(t, bus.CompleteJob(context.Background(), delivered.ID))
}

func TestBus_Integration_FailJobNacksWithoutRequeue(t *testing.T) {
	url, cleanup := setupRabbitMQContainer(t)
	defer cleanup()

	bus, err := NewBus(Config{AMQPURL: url})
	require.NoError(t, err)
	defer bus.Close()

	require.NoError(t, bus.PublishLoad(context.Background(), pipeline.LoadMessage{TenantID: 1, BatchID: "batch-1"}))

	job, err := bus.Dequeue(context.Background(), pipeline.QueueLoad, 5*time.Second)
	require.NoError(t, err)
	delivered := job.(*Message)

	require.NoError(t, bus.FailJob(context.Background(), delivered.ID, false, pipeline.QueueLoad))

	// A nack without requeue routes to the stage's dead-letter queue per the
	// x-dead-letter-exchange/routing-key arguments declared at startup; this
	// bus never consumes its own DLQs, so there is nothing further to assert
	// here beyond FailJob succeeding.
	assert.Error(t, bus.FailJob(context.Background(), delivered.ID, false, pipeline.QueueLoad), "nacking the same delivery twice is an error")
}
