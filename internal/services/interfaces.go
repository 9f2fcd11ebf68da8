package services

import (
	"context"
	"time"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

// DeviceClient is the stateful card reader driver. Implementations keep track
// of the connected reader; every call except RegisterReader and
// ClearReaderDisplay requires one.
type DeviceClient interface {
	RegisterReader(ctx context.Context, registrationCode string) (domain.Reader, error)
	ConnectReader(ctx context.Context, reader domain.Reader) (domain.Reader, error)
	SetReaderDisplay(ctx context.Context, display domain.ReaderDisplay) error
	ClearReaderDisplay(ctx context.Context) error
	ProcessPaymentIntent(ctx context.Context, intent domain.PaymentIntent) (domain.PendingPayment, error)
	CollectPaymentMethod(ctx context.Context, pending domain.PendingPayment) (domain.CollectedPayment, error)
	ProcessPayment(ctx context.Context, collected domain.CollectedPayment) (domain.ProcessedPayment, error)
	CapturePaymentIntent(ctx context.Context, intentID string) (domain.CaptureResult, error)
	CancelCollectPaymentMethod(ctx context.Context) error
}

// OrderBackend persists orders and their line items.
type OrderBackend interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (int64, error)
	CreateOrderLineItem(ctx context.Context, cmd CreateLineItemCommand) error
	UpdateOrderEmail(ctx context.Context, orderID int64, email string) error
}

// CatalogBackend serves the products, events and facilities the register sells against.
type CatalogBackend interface {
	ListProducts(ctx context.Context, eventID int64) ([]domain.LineItem, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	ListFacilities(ctx context.Context, eventID int64) ([]domain.Facility, error)
}

// TicketBackend claims scanned tickets.
type TicketBackend interface {
	ClaimTicket(ctx context.Context, ticketID string) (domain.TicketClaim, error)
}

// Backend is the complete remote backend the register talks to.
type Backend interface {
	OrderBackend
	CatalogBackend
	TicketBackend
}

// CheckoutPublisher announces completed checkouts to downstream consumers.
type CheckoutPublisher interface {
	PublishCheckoutCompleted(ctx context.Context, event CheckoutCompleted) error
}

// ErrorClassifier maps a raw failure message to a user-facing message.
type ErrorClassifier interface {
	Classify(raw string) ErrorMessage
}

// CreateOrderCommand is the payload for creating an order.
type CreateOrderCommand struct {
	EventID       int64
	FacilityID    int64
	PaymentMethod domain.PaymentMethod
}

// CreateLineItemCommand records one purchased product against an order.
type CreateLineItemCommand struct {
	OrderID   int64
	ProductID int64
	Quantity  int
}

// CheckoutCompleted is published after a checkout finished and the cart was reset.
type CheckoutCompleted struct {
	RunID         string
	OrderID       int64
	EventID       int64
	FacilityID    int64
	PaymentMethod domain.PaymentMethod
	AmountMinor   int64
	Currency      string
	IntentID      string
	Items         []domain.LineItem
	RecordedItems int
	CompletedAt   time.Time
}

// ErrorMessage is a classified, user-facing failure.
type ErrorMessage struct {
	Kind  Kind
	Lines []string
	Raw   string
}
