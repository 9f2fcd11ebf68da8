package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/SamuraiViking/pos-register/internal/platform/textutil"
	"github.com/SamuraiViking/pos-register/internal/services"
)

// CheckoutMessage is the JSON body of a checkout-completed message.
type CheckoutMessage struct {
	RunID         string            `json:"runId,omitempty"`
	OrderID       int64             `json:"orderId"`
	EventID       int64             `json:"eventId"`
	FacilityID    int64             `json:"facilityId"`
	PaymentMethod string            `json:"paymentMethod"`
	AmountMinor   int64             `json:"amountMinor"`
	Currency      string            `json:"currency"`
	IntentID      string            `json:"intentId,omitempty"`
	Items         []CheckoutLineRef `json:"items"`
	RecordedItems int               `json:"recordedItems"`
	CompletedAt   time.Time         `json:"completedAt"`
}

// CheckoutLineRef is one purchased product in a CheckoutMessage.
type CheckoutLineRef struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// PubSubCheckoutPublisher publishes completed checkouts to a Pub/Sub topic.
type PubSubCheckoutPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.CheckoutPublisher = (*PubSubCheckoutPublisher)(nil)

// NewPubSubCheckoutPublisher constructs a Pub/Sub backed checkout publisher.
func NewPubSubCheckoutPublisher(topic *pubsub.Topic) (*PubSubCheckoutPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	return &PubSubCheckoutPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCheckoutCompleted blocks until the server acknowledges the message.
func (p *PubSubCheckoutPublisher) PublishCheckoutCompleted(ctx context.Context, event services.CheckoutCompleted) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub checkout publisher: not initialised")
	}

	data, err := p.marshal(newCheckoutMessage(event))
	if err != nil {
		return fmt.Errorf("marshal checkout: %w", err)
	}

	attrs := textutil.NormalizeStringMap(map[string]string{
		"runId":         event.RunID,
		"paymentMethod": string(event.PaymentMethod),
		"eventId":       positiveID(event.EventID),
		"orderId":       positiveID(event.OrderID),
		"currency":      event.Currency,
	})

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish checkout: %w", err)
	}
	return nil
}

func newCheckoutMessage(event services.CheckoutCompleted) CheckoutMessage {
	items := make([]CheckoutLineRef, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, CheckoutLineRef{
			ProductID: item.ID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Quantity:  item.Quantity,
		})
	}
	return CheckoutMessage{
		RunID:         event.RunID,
		OrderID:       event.OrderID,
		EventID:       event.EventID,
		FacilityID:    event.FacilityID,
		PaymentMethod: string(event.PaymentMethod),
		AmountMinor:   event.AmountMinor,
		Currency:      event.Currency,
		IntentID:      event.IntentID,
		Items:         items,
		RecordedItems: event.RecordedItems,
		CompletedAt:   event.CompletedAt.UTC(),
	}
}

// positiveID leaves unknown (zero or negative) ids out of the attributes.
func positiveID(id int64) string {
	if id <= 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
