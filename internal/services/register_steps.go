package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/SamuraiViking/pos-register/internal/domain"
	"github.com/SamuraiViking/pos-register/internal/platform/requestctx"
)

type stepFunc func(ctx context.Context) (domain.Screen, error)

type stepDefinition struct {
	// pending is shown while the step runs and popped if it fails.
	pending domain.Screen
	bind    func(args json.RawMessage) (stepFunc, error)
}

type registerReaderArgs struct {
	RegistrationCode string `json:"registration_code"`
}

type selectEventArgs struct {
	EventID    int64  `json:"event_id"`
	EventTitle string `json:"event_title"`
}

type selectFacilityArgs struct {
	FacilityID    int64  `json:"facility_id"`
	FacilityTitle string `json:"facility_title"`
}

type emailReceiptArgs struct {
	Email string `json:"email"`
}

type claimTicketArgs struct {
	TicketID string `json:"ticket_id"`
}

func (r *Register) stepTable() map[StepID]stepDefinition {
	return map[StepID]stepDefinition{
		StepRegisterReader: {bind: func(args json.RawMessage) (stepFunc, error) {
			var in registerReaderArgs
			if err := decodeStepArgs(args, &in); err != nil {
				return nil, err
			}
			if strings.TrimSpace(in.RegistrationCode) == "" {
				return nil, invalidArgs("registration_code is required")
			}
			return func(ctx context.Context) (domain.Screen, error) {
				return r.registerReader(ctx, in.RegistrationCode)
			}, nil
		}},
		StepSelectEvent: {bind: func(args json.RawMessage) (stepFunc, error) {
			var in selectEventArgs
			if err := decodeStepArgs(args, &in); err != nil {
				return nil, err
			}
			if in.EventID <= 0 && strings.TrimSpace(in.EventTitle) == "" {
				return nil, invalidArgs("event_id or event_title is required")
			}
			return func(ctx context.Context) (domain.Screen, error) {
				return r.selectEvent(ctx, in)
			}, nil
		}},
		StepSelectFacility: {bind: func(args json.RawMessage) (stepFunc, error) {
			var in selectFacilityArgs
			if err := decodeStepArgs(args, &in); err != nil {
				return nil, err
			}
			if in.FacilityID <= 0 && strings.TrimSpace(in.FacilityTitle) == "" {
				return nil, invalidArgs("facility_id or facility_title is required")
			}
			return func(ctx context.Context) (domain.Screen, error) {
				return r.selectFacility(ctx, in)
			}, nil
		}},
		StepCheckout:       {bind: noArgs(r.checkout)},
		StepEditOrder:      {bind: noArgs(r.editOrder)},
		StepCancelOrder:    {bind: noArgs(r.cancelOrder)},
		StepCollectPayment: {pending: domain.ScreenCollect, bind: noArgs(r.collectPayment)},
		StepPayWithCash:    {bind: noArgs(r.payWithCash)},
		StepEmailReceipt: {bind: func(args json.RawMessage) (stepFunc, error) {
			var in emailReceiptArgs
			if err := decodeStepArgs(args, &in); err != nil {
				return nil, err
			}
			return func(ctx context.Context) (domain.Screen, error) {
				return r.emailReceipt(ctx, in.Email)
			}, nil
		}},
		StepSkipReceipt: {bind: noArgs(r.skipReceipt)},
		StepReset:       {bind: noArgs(r.reset)},
		StepClaimTicket: {bind: func(args json.RawMessage) (stepFunc, error) {
			var in claimTicketArgs
			if err := decodeStepArgs(args, &in); err != nil {
				return nil, err
			}
			if strings.TrimSpace(in.TicketID) == "" {
				return nil, invalidArgs("ticket_id is required")
			}
			return func(ctx context.Context) (domain.Screen, error) {
				return r.claimTicket(ctx, strings.TrimSpace(in.TicketID))
			}, nil
		}},
	}
}

func (r *Register) registerReader(ctx context.Context, code string) (domain.Screen, error) {
	if _, err := r.terminal.RegisterAndConnect(ctx, code); err != nil {
		return "", err
	}
	return domain.ScreenEvents, nil
}

func (r *Register) selectEvent(ctx context.Context, in selectEventArgs) (domain.Screen, error) {
	event := domain.Event{ID: domain.UnknownEvent.ID, Title: r.sanitize(in.EventTitle)}
	if in.EventID > 0 {
		events, err := r.catalog.ListEvents(ctx)
		if err != nil {
			return "", err
		}
		found := false
		for _, candidate := range events {
			if candidate.ID == in.EventID {
				event, found = candidate, true
				break
			}
		}
		if !found {
			return "", &ValidationError{Field: "event", Err: fmt.Errorf("event %d not found", in.EventID)}
		}
	}
	if event.Title == "" {
		return "", &ValidationError{Field: "event", Err: errors.New("title is required")}
	}

	products, err := r.catalog.ListProducts(ctx, max(event.ID, 0))
	if err != nil {
		return "", err
	}
	r.session.Cart.Replace(products)
	r.session.SetEvent(event)
	r.logger(ctx, "register.event.selected", map[string]any{"eventID": event.ID, "products": len(products)})
	return domain.ScreenFacilities, nil
}

func (r *Register) selectFacility(ctx context.Context, in selectFacilityArgs) (domain.Screen, error) {
	facility := domain.Facility{ID: domain.UnknownFacility.ID, Title: r.sanitize(in.FacilityTitle)}
	if in.FacilityID > 0 {
		event := r.session.Event()
		facilities, err := r.catalog.ListFacilities(ctx, event.ID)
		if err != nil {
			return "", err
		}
		found := false
		for _, candidate := range facilities {
			if candidate.ID == in.FacilityID {
				facility, found = candidate, true
				break
			}
		}
		if !found {
			return "", &ValidationError{Field: "facility", Err: fmt.Errorf("facility %d not found", in.FacilityID)}
		}
	}
	if facility.Title == "" {
		return "", &ValidationError{Field: "facility", Err: errors.New("title is required")}
	}
	r.session.SetFacility(facility)
	return domain.ScreenCheckout, nil
}

func (r *Register) checkout(ctx context.Context) (domain.Screen, error) {
	items := r.session.Cart.PurchasedItems()
	if len(items) == 0 {
		return "", ErrCartEmpty
	}
	if !r.terminal.Connected() {
		return "", &DeviceError{Op: "set reader display", Err: ErrNoReaderConnected}
	}
	if err := r.terminal.PushDisplay(ctx, r.builder.BuildReaderDisplay(items)); err != nil {
		return "", err
	}
	return domain.ScreenInsert, nil
}

func (r *Register) editOrder(ctx context.Context) (domain.Screen, error) {
	if err := r.terminal.ClearDisplay(ctx); err != nil {
		return "", err
	}
	return domain.ScreenCheckout, nil
}

func (r *Register) cancelOrder(ctx context.Context) (domain.Screen, error) {
	if err := r.terminal.ClearDisplay(ctx); err != nil {
		r.logger(ctx, "register.terminal.clear_failed", map[string]any{"error": err.Error()})
	}
	r.session.Cart.Reset()
	r.session.Cart.ClearPreviousTotal()
	r.session.SetAskForReceipt(false)
	return domain.ScreenCheckout, nil
}

func (r *Register) collectPayment(ctx context.Context) (domain.Screen, error) {
	items := r.session.Cart.PurchasedItems()
	if len(items) == 0 {
		return "", ErrCartEmpty
	}
	if !r.terminal.Connected() {
		return "", &DeviceError{Op: "collect payment method", Err: ErrNoReaderConnected}
	}

	intent := r.builder.BuildIntent(items, r.session.Event())
	captured, err := r.terminal.CollectAndProcess(ctx, intent)
	if err != nil {
		return "", err
	}
	if captured.Amount == 0 {
		captured.Amount = intent.Amount
	}
	if captured.Currency == "" {
		captured.Currency = intent.Currency
	}

	// The card is charged from here on; an order failure must not send the
	// operator back to charge again.
	if err := r.completeCheckout(ctx, domain.PaymentMethodCard, items, captured); err != nil {
		r.logger(ctx, "register.order.failed_after_capture", map[string]any{
			"level":    "error",
			"intentID": captured.IntentID,
			"amount":   captured.Amount,
			"error":    err.Error(),
		})
		r.session.SetAskForReceipt(false)
		r.finishCheckout(ctx, domain.PaymentMethodCard, items, captured, 0, 0)
	}
	return domain.ScreenSuccess, nil
}

func (r *Register) payWithCash(ctx context.Context) (domain.Screen, error) {
	items := r.session.Cart.PurchasedItems()
	if len(items) == 0 {
		return "", ErrCartEmpty
	}
	payment := domain.CaptureResult{
		Amount:   domain.MinorUnits(cartTotal(items)),
		Currency: r.currency,
		Status:   "cash",
	}
	if err := r.completeCheckout(ctx, domain.PaymentMethodCash, items, payment); err != nil {
		return "", err
	}
	if err := r.terminal.ClearDisplay(ctx); err != nil {
		r.logger(ctx, "register.terminal.clear_failed", map[string]any{"error": err.Error()})
	}
	return domain.ScreenCheckout, nil
}

// completeCheckout records the order and its line items, then resets the cart.
// It fails only when the order itself could not be created.
func (r *Register) completeCheckout(ctx context.Context, method domain.PaymentMethod, items []domain.LineItem, payment domain.CaptureResult) error {
	if err := r.session.BeginOrder(method, items, cartTotal(items)); err != nil {
		return err
	}
	orderID, err := r.orders.CreateOrder(ctx, r.session.Event(), r.session.Facility(), method)
	if err != nil {
		r.session.AbandonOrder()
		return err
	}
	r.session.ConfirmOrder(orderID)

	recorded := r.orders.RecordPurchasedLineItems(ctx, orderID, items)
	r.session.SetAskForReceipt(r.includesReceiptProduct(items))
	r.finishCheckout(ctx, method, items, payment, orderID, recorded)
	return nil
}

func (r *Register) finishCheckout(ctx context.Context, method domain.PaymentMethod, items []domain.LineItem, payment domain.CaptureResult, orderID int64, recorded int) {
	r.session.Cart.Reset()
	if r.publisher == nil {
		return
	}
	event := CheckoutCompleted{
		RunID:         requestctx.RunID(ctx),
		OrderID:       orderID,
		EventID:       r.session.Event().ID,
		FacilityID:    r.session.Facility().ID,
		PaymentMethod: method,
		AmountMinor:   payment.Amount,
		Currency:      payment.Currency,
		IntentID:      payment.IntentID,
		Items:         items,
		RecordedItems: recorded,
		CompletedAt:   r.now().UTC(),
	}
	if err := r.publisher.PublishCheckoutCompleted(ctx, event); err != nil {
		r.logger(ctx, "register.checkout.publish_failed", map[string]any{"orderID": orderID, "error": err.Error()})
	}
}

func (r *Register) includesReceiptProduct(items []domain.LineItem) bool {
	if r.receiptProduct == "" {
		return false
	}
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.Name), r.receiptProduct) {
			return true
		}
	}
	return false
}

func (r *Register) emailReceipt(ctx context.Context, email string) (domain.Screen, error) {
	order := r.session.Order()
	if !order.Recorded() {
		return "", ErrNoOrderForReceipt
	}
	if err := r.orders.AttachReceiptEmail(ctx, order.ID, email); err != nil {
		return "", err
	}
	r.session.SetOrderEmail(strings.ToLower(strings.TrimSpace(email)))
	r.session.SetAskForReceipt(false)
	r.session.Cart.ClearPreviousTotal()
	return domain.ScreenCheckout, nil
}

func (r *Register) skipReceipt(context.Context) (domain.Screen, error) {
	r.session.SetAskForReceipt(false)
	r.session.Cart.ClearPreviousTotal()
	return domain.ScreenCheckout, nil
}

func (r *Register) reset(ctx context.Context) (domain.Screen, error) {
	if err := r.terminal.ClearDisplay(ctx); err != nil {
		return "", err
	}
	return "", nil
}

func (r *Register) claimTicket(ctx context.Context, ticketID string) (domain.Screen, error) {
	claim, err := r.tickets.ClaimTicket(ctx, ticketID)
	if err != nil {
		return "", err
	}
	r.logger(ctx, "register.ticket.claimed", map[string]any{"ticketID": ticketID, "alreadyClaimed": claim.AlreadyClaimed})
	if claim.AlreadyClaimed {
		return domain.ScreenClaimTicketFail, nil
	}
	return domain.ScreenClaimTicketSuccess, nil
}

func noArgs(fn stepFunc) func(json.RawMessage) (stepFunc, error) {
	return func(args json.RawMessage) (stepFunc, error) {
		if err := decodeStepArgs(args, &struct{}{}); err != nil {
			return nil, err
		}
		return fn, nil
	}
}

// decodeStepArgs accepts an empty body as "no arguments" and rejects unknown fields.
func decodeStepArgs(args json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStepArgs, err)
	}
	return nil
}

func invalidArgs(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidStepArgs, msg)
}
