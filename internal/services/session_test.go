package services

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

func TestSessionNavigateReturnsToExistingScreen(t *testing.T) {
	session := NewSession()
	for _, screen := range []domain.Screen{domain.ScreenEvents, domain.ScreenFacilities, domain.ScreenCheckout, domain.ScreenInsert, domain.ScreenCollect} {
		session.Navigate(screen)
	}

	session.Navigate(domain.ScreenCheckout)

	want := []domain.Screen{domain.ScreenRegister, domain.ScreenEvents, domain.ScreenFacilities, domain.ScreenCheckout}
	if got := session.Snapshot().History; !reflect.DeepEqual(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
}

func TestSessionBackKeepsRoot(t *testing.T) {
	session := NewSession()
	session.Navigate(domain.ScreenEvents)
	session.Back()
	session.Back()
	if session.Screen() != domain.ScreenRegister {
		t.Fatalf("expected register screen, got %s", session.Screen())
	}
}

func TestSessionOrderLifecycle(t *testing.T) {
	session := NewSession()
	session.SetEvent(domain.Event{ID: 7, Title: "Spring Classic", WebsiteID: 1})
	session.SetFacility(domain.Facility{ID: 3, Title: "North Gym"})

	if err := session.BeginOrder(domain.PaymentMethodCard, nil, decimal.NewFromInt(20)); err != nil {
		t.Fatalf("BeginOrder: %v", err)
	}
	if err := session.BeginOrder(domain.PaymentMethodCard, nil, decimal.NewFromInt(20)); !errors.Is(err, ErrOrderInFlight) {
		t.Fatalf("expected ErrOrderInFlight, got %v", err)
	}
	order := session.Order()
	if !order.Pending() || order.EventID != 7 || order.FacilityID != 3 {
		t.Fatalf("unexpected pending order %+v", order)
	}

	session.ConfirmOrder(42)
	session.ConfirmOrder(43)
	if got := session.Order().ID; got != 42 {
		t.Fatalf("order id must not change once assigned, got %d", got)
	}

	if err := session.BeginOrder(domain.PaymentMethodCash, nil, decimal.Zero); err != nil {
		t.Fatalf("BeginOrder after confirm: %v", err)
	}
	session.AbandonOrder()
	if session.Order().Pending() {
		t.Fatal("expected abandoned order to clear")
	}
}

func TestSessionSelectingEventResetsFacility(t *testing.T) {
	session := NewSession()
	session.SetFacility(domain.Facility{ID: 3})
	session.SetEvent(domain.Event{ID: 8})
	if session.Facility() != domain.UnknownFacility {
		t.Fatalf("expected facility reset, got %+v", session.Facility())
	}
}
