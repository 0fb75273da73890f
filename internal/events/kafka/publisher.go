package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sony/gobreaker/v2"
)

const DefaultTopic = "order_settled"

// Publisher writes events to a single topic. Writes go through a circuit
// breaker so a broker outage fails fast instead of stalling the outbox.
type Publisher struct {
	writer  *kafka.Writer
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // same account, same partition
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}, logger)
}

func NewPublisherWithWriter(writer *kafka.Writer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "kafka-" + writer.Topic,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Publisher{
		writer:  writer,
		breaker: breaker,
	}
}

// Publish marshals event to JSON unless it is already encoded.
func (p *Publisher) Publish(ctx context.Context, key string, event any) error {
	var data []byte
	switch v := event.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(event)
		if err != nil {
			return err
		}
		data = encoded
	}

	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(key),
			Value: data,
		})
	})
	return err
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
