package services

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

// Session is the state of the one register: the cart, the selected event and
// facility, the current order and the screen history. Accessors are safe for
// concurrent use by the API; mutations happen only inside workflow steps.
type Session struct {
	Cart *CartLedger

	mu            sync.RWMutex
	event         domain.Event
	facility      domain.Facility
	order         domain.Order
	askForReceipt bool
	screens       []domain.Screen
}

// SessionSnapshot is a consistent copy of the session for rendering.
type SessionSnapshot struct {
	Event         domain.Event
	Facility      domain.Facility
	Order         domain.Order
	Items         []domain.LineItem
	Total         decimal.Decimal
	PreviousTotal decimal.Decimal
	AskForReceipt bool
	Screen        domain.Screen
	History       []domain.Screen
}

// NewSession starts a session on the register screen with an empty cart.
func NewSession() *Session {
	return &Session{
		Cart:     NewCartLedger(nil),
		event:    domain.UnknownEvent,
		facility: domain.UnknownFacility,
		screens:  []domain.Screen{domain.ScreenRegister},
	}
}

func (s *Session) Event() domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.event
}

func (s *Session) SetEvent(event domain.Event) {
	s.mu.Lock()
	s.event = event
	s.facility = domain.UnknownFacility
	s.mu.Unlock()
}

func (s *Session) Facility() domain.Facility {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facility
}

func (s *Session) SetFacility(facility domain.Facility) {
	s.mu.Lock()
	s.facility = facility
	s.mu.Unlock()
}

func (s *Session) Order() domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order
}

// BeginOrder marks a new order as pending. It refuses while another order is
// still pending so a checkout never creates two orders.
func (s *Session) BeginOrder(method domain.PaymentMethod, items []domain.LineItem, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order.Pending() {
		return ErrOrderInFlight
	}
	s.order = domain.Order{
		ID:            domain.PendingOrderID,
		EventID:       s.event.ID,
		FacilityID:    s.facility.ID,
		PaymentMethod: method,
		LineItems:     items,
		Total:         total,
	}
	return nil
}

// ConfirmOrder stores the backend id of the pending order.
func (s *Session) ConfirmOrder(id int64) {
	s.mu.Lock()
	if s.order.Pending() {
		s.order.ID = id
	}
	s.mu.Unlock()
}

// AbandonOrder drops a pending order whose creation failed.
func (s *Session) AbandonOrder() {
	s.mu.Lock()
	if s.order.Pending() {
		s.order = domain.Order{}
	}
	s.mu.Unlock()
}

// SetOrderEmail records the receipt address on the current order.
func (s *Session) SetOrderEmail(email string) {
	s.mu.Lock()
	s.order.Email = email
	s.mu.Unlock()
}

func (s *Session) AskForReceipt() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.askForReceipt
}

func (s *Session) SetAskForReceipt(v bool) {
	s.mu.Lock()
	s.askForReceipt = v
	s.mu.Unlock()
}

// Screen returns the screen on top of the history.
func (s *Session) Screen() domain.Screen {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screens[len(s.screens)-1]
}

// Navigate moves to screen. A screen already in the history is returned to,
// dropping everything above it; otherwise it is pushed.
func (s *Session) Navigate(screen domain.Screen) {
	if screen == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.screens {
		if existing == screen {
			s.screens = s.screens[:i+1]
			return
		}
	}
	s.screens = append(s.screens, screen)
}

// Back pops one screen. The first screen is never popped.
func (s *Session) Back() {
	s.mu.Lock()
	if len(s.screens) > 1 {
		s.screens = s.screens[:len(s.screens)-1]
	}
	s.mu.Unlock()
}

// Snapshot copies the whole session.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := s.order
	order.LineItems = append([]domain.LineItem(nil), s.order.LineItems...)
	return SessionSnapshot{
		Event:         s.event,
		Facility:      s.facility,
		Order:         order,
		Items:         s.Cart.Items(),
		Total:         s.Cart.Total(),
		PreviousTotal: s.Cart.PreviousTotal(),
		AskForReceipt: s.askForReceipt,
		Screen:        s.screens[len(s.screens)-1],
		History:       append([]domain.Screen(nil), s.screens...),
	}
}
