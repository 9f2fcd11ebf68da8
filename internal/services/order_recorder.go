package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

const defaultLineItemWorkers = 4

// OrderRecorderDeps wires the order recorder.
type OrderRecorderDeps struct {
	Backend OrderBackend
	Workers int
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// OrderRecorder writes completed checkouts to the backend.
type OrderRecorder struct {
	backend OrderBackend
	workers int
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderRecorder validates deps and applies defaults.
func NewOrderRecorder(deps OrderRecorderDeps) (*OrderRecorder, error) {
	if deps.Backend == nil {
		return nil, errors.New("order recorder: backend is required")
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultLineItemWorkers
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderRecorder{backend: deps.Backend, workers: workers, logger: logger}, nil
}

// CreateOrder records a new order and returns its backend id. It makes a
// single attempt; retrying is the operator's decision.
func (r *OrderRecorder) CreateOrder(ctx context.Context, event domain.Event, facility domain.Facility, method domain.PaymentMethod) (int64, error) {
	if !method.Valid() {
		return 0, &ValidationError{Field: "payment method", Err: fmt.Errorf("unsupported value %q", method)}
	}
	id, err := r.backend.CreateOrder(ctx, CreateOrderCommand{
		EventID:       event.ID,
		FacilityID:    facility.ID,
		PaymentMethod: method,
	})
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, &NetworkError{Op: "create order", Message: fmt.Sprintf("backend returned invalid order id %d", id)}
	}
	r.logger(ctx, "register.order.created", map[string]any{
		"orderID":       id,
		"eventID":       event.ID,
		"facilityID":    facility.ID,
		"paymentMethod": string(method),
	})
	return id, nil
}

// RecordPurchasedLineItems records every item with a positive quantity against
// orderID. Failures are logged and skipped so one bad row does not lose the
// rest; the number of rows recorded is returned.
func (r *OrderRecorder) RecordPurchasedLineItems(ctx context.Context, orderID int64, items []domain.LineItem) int {
	var recorded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, item := range purchased(items) {
		item := item
		g.Go(func() error {
			err := r.backend.CreateOrderLineItem(gctx, CreateLineItemCommand{
				OrderID:   orderID,
				ProductID: item.ID,
				Quantity:  item.Quantity,
			})
			if err != nil {
				r.logger(gctx, "register.order.line_item_failed", map[string]any{
					"orderID":   orderID,
					"productID": item.ID,
					"quantity":  item.Quantity,
					"error":     err.Error(),
				})
				return nil
			}
			recorded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	count := int(recorded.Load())
	r.logger(ctx, "register.order.line_items_recorded", map[string]any{"orderID": orderID, "recorded": count})
	return count
}

// AttachReceiptEmail stores the receipt address on the order. Sending the
// same address twice leaves the order unchanged.
func (r *OrderRecorder) AttachReceiptEmail(ctx context.Context, orderID int64, email string) error {
	if orderID <= 0 {
		return ErrNoOrderForReceipt
	}
	address, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := r.backend.UpdateOrderEmail(ctx, orderID, address); err != nil {
		return err
	}
	r.logger(ctx, "register.order.receipt_attached", map[string]any{"orderID": orderID})
	return nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{Field: "email", Err: ErrInvalidEmail}
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Name != "" || !strings.Contains(parsed.Address, ".") {
		return "", &ValidationError{Field: "email", Err: ErrInvalidEmail}
	}
	return strings.ToLower(parsed.Address), nil
}
