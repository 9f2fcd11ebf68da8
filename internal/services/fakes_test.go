package services

import (
	"context"
	"sync"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

type stubDevice struct {
	mu    sync.Mutex
	calls []string

	registerFn func(ctx context.Context, code string) (domain.Reader, error)
	connectFn  func(ctx context.Context, reader domain.Reader) (domain.Reader, error)
	displayFn  func(ctx context.Context, display domain.ReaderDisplay) error
	clearFn    func(ctx context.Context) error
	createFn   func(ctx context.Context, intent domain.PaymentIntent) (domain.PendingPayment, error)
	collectFn  func(ctx context.Context, pending domain.PendingPayment) (domain.CollectedPayment, error)
	processFn  func(ctx context.Context, collected domain.CollectedPayment) (domain.ProcessedPayment, error)
	captureFn  func(ctx context.Context, intentID string) (domain.CaptureResult, error)
	cancelFn   func(ctx context.Context) error
}

func (d *stubDevice) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *stubDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *stubDevice) RegisterReader(ctx context.Context, code string) (domain.Reader, error) {
	d.record("register")
	if d.registerFn != nil {
		return d.registerFn(ctx, code)
	}
	return domain.Reader{ID: "tmr_1", Label: "front"}, nil
}

func (d *stubDevice) ConnectReader(ctx context.Context, reader domain.Reader) (domain.Reader, error) {
	d.record("connect")
	if d.connectFn != nil {
		return d.connectFn(ctx, reader)
	}
	reader.Status = "online"
	return reader, nil
}

func (d *stubDevice) SetReaderDisplay(ctx context.Context, display domain.ReaderDisplay) error {
	d.record("display")
	if d.displayFn != nil {
		return d.displayFn(ctx, display)
	}
	return nil
}

func (d *stubDevice) ClearReaderDisplay(ctx context.Context) error {
	d.record("clear")
	if d.clearFn != nil {
		return d.clearFn(ctx)
	}
	return nil
}

func (d *stubDevice) ProcessPaymentIntent(ctx context.Context, intent domain.PaymentIntent) (domain.PendingPayment, error) {
	d.record("create")
	if d.createFn != nil {
		return d.createFn(ctx, intent)
	}
	return domain.PendingPayment{IntentID: "pi_1", ClientSecret: "pi_1_secret", Amount: intent.Amount, Currency: intent.Currency}, nil
}

func (d *stubDevice) CollectPaymentMethod(ctx context.Context, pending domain.PendingPayment) (domain.CollectedPayment, error) {
	d.record("collect")
	if d.collectFn != nil {
		return d.collectFn(ctx, pending)
	}
	return domain.CollectedPayment{IntentID: pending.IntentID, PaymentMethod: "pm_card_present"}, nil
}

func (d *stubDevice) ProcessPayment(ctx context.Context, collected domain.CollectedPayment) (domain.ProcessedPayment, error) {
	d.record("process")
	if d.processFn != nil {
		return d.processFn(ctx, collected)
	}
	return domain.ProcessedPayment{IntentID: collected.IntentID, Status: "requires_capture"}, nil
}

func (d *stubDevice) CapturePaymentIntent(ctx context.Context, intentID string) (domain.CaptureResult, error) {
	d.record("capture:" + intentID)
	if d.captureFn != nil {
		return d.captureFn(ctx, intentID)
	}
	return domain.CaptureResult{IntentID: intentID, Status: "succeeded"}, nil
}

func (d *stubDevice) CancelCollectPaymentMethod(ctx context.Context) error {
	d.record("cancel")
	if d.cancelFn != nil {
		return d.cancelFn(ctx)
	}
	return nil
}

type stubBackend struct {
	mu sync.Mutex

	createOrderFn    func(ctx context.Context, cmd CreateOrderCommand) (int64, error)
	createLineItemFn func(ctx context.Context, cmd CreateLineItemCommand) error
	updateEmailFn    func(ctx context.Context, orderID int64, email string) error
	listProductsFn   func(ctx context.Context, eventID int64) ([]domain.LineItem, error)
	listEventsFn     func(ctx context.Context) ([]domain.Event, error)
	listFacilitiesFn func(ctx context.Context, eventID int64) ([]domain.Facility, error)
	claimTicketFn    func(ctx context.Context, ticketID string) (domain.TicketClaim, error)

	orders    []CreateOrderCommand
	lineItems []CreateLineItemCommand
	emails    map[int64]string
}

func (b *stubBackend) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (int64, error) {
	b.mu.Lock()
	b.orders = append(b.orders, cmd)
	b.mu.Unlock()
	if b.createOrderFn != nil {
		return b.createOrderFn(ctx, cmd)
	}
	return 42, nil
}

func (b *stubBackend) CreateOrderLineItem(ctx context.Context, cmd CreateLineItemCommand) error {
	if b.createLineItemFn != nil {
		if err := b.createLineItemFn(ctx, cmd); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.lineItems = append(b.lineItems, cmd)
	b.mu.Unlock()
	return nil
}

func (b *stubBackend) UpdateOrderEmail(ctx context.Context, orderID int64, email string) error {
	if b.updateEmailFn != nil {
		if err := b.updateEmailFn(ctx, orderID, email); err != nil {
			return err
		}
	}
	b.mu.Lock()
	if b.emails == nil {
		b.emails = make(map[int64]string)
	}
	b.emails[orderID] = email
	b.mu.Unlock()
	return nil
}

func (b *stubBackend) ListProducts(ctx context.Context, eventID int64) ([]domain.LineItem, error) {
	if b.listProductsFn != nil {
		return b.listProductsFn(ctx, eventID)
	}
	return testCatalog(), nil
}

func (b *stubBackend) ListEvents(ctx context.Context) ([]domain.Event, error) {
	if b.listEventsFn != nil {
		return b.listEventsFn(ctx)
	}
	return []domain.Event{{ID: 7, Title: "Spring Classic", WebsiteID: 1}}, nil
}

func (b *stubBackend) ListFacilities(ctx context.Context, eventID int64) ([]domain.Facility, error) {
	if b.listFacilitiesFn != nil {
		return b.listFacilitiesFn(ctx, eventID)
	}
	return []domain.Facility{{ID: 3, Title: "North Gym"}}, nil
}

func (b *stubBackend) ClaimTicket(ctx context.Context, ticketID string) (domain.TicketClaim, error) {
	if b.claimTicketFn != nil {
		return b.claimTicketFn(ctx, ticketID)
	}
	return domain.TicketClaim{TicketID: ticketID}, nil
}

func (b *stubBackend) Orders() []CreateOrderCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CreateOrderCommand(nil), b.orders...)
}

func (b *stubBackend) LineItems() []CreateLineItemCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CreateLineItemCommand(nil), b.lineItems...)
}

func (b *stubBackend) Email(orderID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emails[orderID]
}

type stubPublisher struct {
	mu     sync.Mutex
	events []CheckoutCompleted
	err    error
}

func (p *stubPublisher) PublishCheckoutCompleted(_ context.Context, event CheckoutCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *stubPublisher) Events() []CheckoutCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CheckoutCompleted(nil), p.events...)
}
