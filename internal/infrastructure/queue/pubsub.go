package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// Producer publishes envelopes to a Pub/Sub topic. Publish blocks until the
// server acknowledges the message so the ingestion cursor only advances past
// accepted handoffs.
type Producer struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

var _ ports.QueuePublisher = (*Producer)(nil)

// NewProducer connects to Pub/Sub and binds the configured topic.
func NewProducer(ctx context.Context, projectID, topicID string) (*Producer, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is empty")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("new pubsub client: %w", err)
	}
	return &Producer{client: client, topic: client.Topic(topicID)}, nil
}

// Publish hands one envelope to the topic and waits for the server ack.
func (p *Producer) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.Origin().Key(), err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"trace_id": env.TraceID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish envelope %s: %w", env.Origin().Key(), err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *Producer) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
