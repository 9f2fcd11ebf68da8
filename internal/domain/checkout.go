package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingOrderID marks an order whose creation has been requested but not confirmed.
const PendingOrderID int64 = -1

// LineItem is one product row of the register cart. UnitPrice is expressed in
// the display currency unit (10 means $10.00).
type LineItem struct {
	ID        int64
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns UnitPrice times Quantity.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Event is the game or tournament the register is selling for.
type Event struct {
	ID        int64
	Title     string
	WebsiteID int
}

// Facility is the gym or venue within an event where the register stands.
type Facility struct {
	ID    int64
	Title string
}

var (
	// UnknownEvent is the selection before the operator picks an event.
	UnknownEvent = Event{ID: -1, Title: "Unknown Event"}
	// UnknownFacility is the selection before the operator picks a facility.
	UnknownFacility = Facility{ID: -1, Title: "Unknown Facility"}
)

// PaymentMethod records how an order was settled.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodCash PaymentMethod = "cash"
)

// Valid reports whether the method is one the backend accepts.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCard || m == PaymentMethodCash
}

// Order is the backend record of one completed checkout.
type Order struct {
	ID            int64
	EventID       int64
	FacilityID    int64
	PaymentMethod PaymentMethod
	LineItems     []LineItem
	Total         decimal.Decimal
	Email         string
	CreatedAt     time.Time
}

// Pending reports whether the order is still waiting for its backend id.
func (o Order) Pending() bool {
	return o.ID == PendingOrderID
}

// Recorded reports whether the backend assigned an id.
func (o Order) Recorded() bool {
	return o.ID > 0
}

// TicketClaim is the backend answer for a scanned ticket.
type TicketClaim struct {
	TicketID       string
	AlreadyClaimed bool
}
