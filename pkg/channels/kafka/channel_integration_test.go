//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/docflow/docflow/pkg/channels/kafka"
	"github.com/docflow/docflow/pkg/eventbus"
	"github.com/docflow/docflow/pkg/events"
	"github.com/docflow/docflow/pkg/log"
	"github.com/docflow/docflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestCreateChannel_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("test-cluster"))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	pub, sub, err := kafka.CreateChannel(watermill.NopLogger{}, brokers, "docflow-test")
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(log.Discard(), pub, sub, events.DocumentsTopic)
	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.DocumentChanged, 1)

	require.NoError(t, bus.Handle(events.DocumentChangedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.DocumentChanged)

		return nil
	}))

	sent := events.NewDocumentChanged(models.DocumentEvent{
		Kind:       models.TriggerDocumentCreated,
		DocumentID: "doc-1",
		Library:    "Legal",
	})
	require.NoError(t, bus.Publish(ctx, "doc-1", sent))
	require.NoError(t, bus.Subscribe(ctx))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, sent.Event, got.Event)
	case <-ctx.Done():
		t.Fatal("document event was not delivered")
	}
}
