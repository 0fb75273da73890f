package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/sheikh-saqib/canteen-payments/internal/logging"
	"github.com/sheikh-saqib/canteen-payments/internal/models/events"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func setupKafka(t *testing.T) (string, func()) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPublisher_WritesKeyedJSON(t *testing.T) {
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, "order-settled-test")
	time.Sleep(5 * time.Second)

	pub := NewPublisher([]string{brokerAddr}, "order-settled-test", logging.Discard())
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := events.OrderSettled{
		EventID:       "evt-1",
		TransactionID: 42,
		AccountID:     7,
		Amount:        decimal.RequireFromString("4.50"),
		ItemCount:     2,
		OccurredAt:    time.Now().UTC(),
	}
	require.NoError(t, pub.Publish(ctx, "7", event))

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    "order-settled-test",
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", string(msg.Key))

	var got events.OrderSettled
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, int64(42), got.TransactionID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("4.50")))
}

func TestPublisher_BreakerOpensOnUnreachableBroker(t *testing.T) {
	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP("127.0.0.1:1"),
		Topic:        "unreachable",
		MaxAttempts:  1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
	}
	pub := NewPublisherWithWriter(writer, logging.Discard())
	defer pub.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := pub.Publish(ctx, "1", json.RawMessage(`{}`))
		require.Error(t, err)
	}

	err := pub.Publish(ctx, "1", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "expected open breaker, got %v", err)
}
