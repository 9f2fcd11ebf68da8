package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SamuraiViking/pos-register/internal/domain"
	"github.com/SamuraiViking/pos-register/internal/services"
)

func TestPubSubCheckoutPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "register-checkouts")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubCheckoutPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCheckoutPublisher: %v", err)
	}

	completedAt := time.Date(2026, 4, 12, 18, 30, 0, 0, time.UTC)
	event := services.CheckoutCompleted{
		RunID:         "01HZXK3R5V8D3Q6M2N4P7T9W0A",
		OrderID:       42,
		EventID:       -1,
		FacilityID:    3,
		PaymentMethod: domain.PaymentMethodCard,
		AmountMinor:   2000,
		Currency:      "usd",
		IntentID:      "pi_1",
		Items: []domain.LineItem{
			{ID: 1, Name: "Ticket", UnitPrice: decimal.RequireFromString("10"), Quantity: 2},
		},
		RecordedItems: 1,
		CompletedAt:   completedAt,
	}

	if err := publisher.PublishCheckoutCompleted(ctx, event); err != nil {
		t.Fatalf("PublishCheckoutCompleted: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload CheckoutMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != 42 || payload.AmountMinor != 2000 || payload.PaymentMethod != "card" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if len(payload.Items) != 1 || payload.Items[0].UnitPrice != "10.00" || payload.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %#v", payload.Items)
	}
	if !payload.CompletedAt.Equal(completedAt) {
		t.Fatalf("expected completedAt %v, got %v", completedAt, payload.CompletedAt)
	}

	attrs := messages[0].Attributes
	if attrs["orderId"] != "42" || attrs["runId"] != event.RunID {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if _, ok := attrs["eventId"]; ok {
		t.Fatalf("free-text event id should not be an attribute")
	}
}

func TestNewPubSubCheckoutPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubCheckoutPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
