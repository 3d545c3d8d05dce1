package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"automation-service/internal/domain"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	log "github.com/sirupsen/logrus"
)

// StreamPublisher mirrors every published platform event to a Kafka topic
// for downstream consumers (analytics, archival). The bus treats it as a
// best-effort sink.
type StreamPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewStreamPublisher(bootstrapServers, topic string) (*StreamPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": bootstrapServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.WithField("topic", topic).Info("Event stream Kafka producer created")

	return &StreamPublisher{producer: p, topic: topic}, nil
}

func (p *StreamPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	deliveryChan := make(chan kafka.Event, 1)
	defer close(deliveryChan)

	if err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.ID),
		Value:          payload,
		Opaque:         deliveryChan,
	}, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-deliveryChan:
		msg, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected event type: %T", e)
		}
		if msg.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", msg.TopicPartition.Error)
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("delivery timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *StreamPublisher) Close() {
	log.Info("Closing event stream Kafka producer...")
	p.producer.Flush(15 * 1000)
	p.producer.Close()
}
