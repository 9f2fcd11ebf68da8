package domain

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   int64
	}{
		{name: "whole", amount: "20", want: 2000},
		{name: "cents", amount: "7.50", want: 750},
		{name: "rounds half up", amount: "0.125", want: 13},
		{name: "zero", amount: "0", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MinorUnits(decimal.RequireFromString(tt.amount)); got != tt.want {
				t.Fatalf("MinorUnits(%s) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	got, err := FormatAmount("en-US", "usd", decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("FormatAmount returned error: %v", err)
	}
	if !strings.Contains(got, "20.00") {
		t.Fatalf("expected formatted amount to contain 20.00, got %q", got)
	}

	if _, err := FormatAmount("en-US", "zz", decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected invalid currency error")
	}
	if _, err := FormatAmount("???", "usd", decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected invalid locale error")
	}
}

func TestLineItemSubtotal(t *testing.T) {
	item := LineItem{Name: "Ticket", UnitPrice: decimal.NewFromInt(10), Quantity: 2}
	if !item.Subtotal().Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected subtotal %s", item.Subtotal())
	}
}

func TestOrderStates(t *testing.T) {
	if !(Order{ID: PendingOrderID}).Pending() {
		t.Fatal("expected pending order")
	}
	if (Order{}).Recorded() || !(Order{ID: 42}).Recorded() {
		t.Fatal("unexpected recorded state")
	}
	if PaymentMethod("check").Valid() || !PaymentMethodCash.Valid() {
		t.Fatal("unexpected payment method validity")
	}
}
