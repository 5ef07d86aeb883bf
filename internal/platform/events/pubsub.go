package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

// PubSubSink publishes change events to a Pub/Sub topic for downstream consumers. Messages are
// ordered per order id when the topic has message ordering enabled.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps topic. Ordering is enabled on the topic handle.
func NewPubSubSink(topic *pubsub.Topic) (*PubSubSink, error) {
	if topic == nil {
		return nil, errors.New("pubsub sink: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubSink{topic: topic}, nil
}

func (p *PubSubSink) Name() string { return "pubsub" }

// Publish blocks until the server acknowledged the message.
func (p *PubSubSink) Publish(ctx context.Context, event domain.OutboxEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "buyerId", event.BuyerID)
	setAttr(attrs, "sellerId", event.SellerID)

	key := partitionKey(event)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: key,
	})
	if _, err := result.Get(ctx); err != nil {
		if key != "" {
			// A failed publish pauses the ordering key until resumed.
			p.topic.ResumePublish(key)
		}
		return fmt.Errorf("pubsub sink: publish %s: %w", event.ID, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
