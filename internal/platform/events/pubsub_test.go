package events

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

func TestPubSubSinkPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	sink, err := NewPubSubSink(topic)
	if err != nil {
		t.Fatalf("NewPubSubSink: %v", err)
	}

	updatedAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := domain.OutboxEvent{
		ID:       "evt_1",
		Type:     domain.EventOrderStatusChanged,
		OrderID:  "ord_1",
		BuyerID:  "buyer_1",
		SellerID: "seller_1",
		Payload: map[string]any{
			"orderId":   "ord_1",
			"newStatus": string(domain.OrderStatusPacked),
			"updatedAt": updatedAt.Format(time.RFC3339),
		},
		OccurredAt: updatedAt,
	}
	if err := sink.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.OrderingKey != "ord_1" {
		t.Fatalf("expected ordering key ord_1, got %q", msg.OrderingKey)
	}
	if msg.Attributes["sellerId"] != "seller_1" || msg.Attributes["type"] != domain.EventOrderStatusChanged {
		t.Fatalf("unexpected attributes %#v", msg.Attributes)
	}

	decoded, err := Decode(msg.Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.ID != "evt_1" || decoded.BuyerID != "buyer_1" {
		t.Fatalf("unexpected envelope %#v", decoded)
	}
	if decoded.Payload["newStatus"] != string(domain.OrderStatusPacked) {
		t.Fatalf("unexpected payload %#v", decoded.Payload)
	}
}
