package services

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

func testCatalog() []domain.LineItem {
	return []domain.LineItem{
		{ID: 1, Name: "Ticket", UnitPrice: decimal.NewFromInt(10), Quantity: 0},
		{ID: 2, Name: "Coaches Packet", UnitPrice: decimal.RequireFromString("25.50"), Quantity: 0},
		{ID: 3, Name: "Water", UnitPrice: decimal.RequireFromString("1.25"), Quantity: 0},
	}
}

func TestCartLedgerAdjustQuantityRejectsNegative(t *testing.T) {
	ledger := NewCartLedger(testCatalog())
	if !ledger.AdjustQuantity(0, 2) {
		t.Fatal("expected increment to apply")
	}

	if ledger.AdjustQuantity(0, -5) {
		t.Fatal("expected adjustment below zero to be refused")
	}
	if got := ledger.Items()[0].Quantity; got != 2 {
		t.Fatalf("expected quantity to stay 2, got %d", got)
	}
	if !ledger.Total().Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected total 20, got %s", ledger.Total())
	}
}

func TestCartLedgerAdjustQuantityIgnoresOutOfRange(t *testing.T) {
	ledger := NewCartLedger(testCatalog())
	if ledger.AdjustQuantity(3, 1) || ledger.AdjustQuantity(-1, 1) {
		t.Fatal("expected out of range index to be refused")
	}
	if !ledger.Total().IsZero() {
		t.Fatalf("expected zero total, got %s", ledger.Total())
	}
}

func TestCartLedgerTotalMatchesItemsUnderRandomAdjustments(t *testing.T) {
	ledger := NewCartLedger(testCatalog())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		ledger.AdjustQuantity(rng.Intn(4), rng.Intn(7)-3)

		items := ledger.Items()
		want := decimal.Zero
		for _, item := range items {
			if item.Quantity < 0 {
				t.Fatalf("negative quantity for %s: %d", item.Name, item.Quantity)
			}
			want = want.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		if !ledger.Total().Equal(want) {
			t.Fatalf("iteration %d: total %s, want %s", i, ledger.Total(), want)
		}
	}
}

func TestCartLedgerResetSnapshotsPreviousTotal(t *testing.T) {
	ledger := NewCartLedger(testCatalog())
	ledger.AdjustQuantity(0, 2)
	ledger.AdjustQuantity(1, 1)

	ledger.Reset()

	if got := ledger.PurchasedItems(); len(got) != 0 {
		t.Fatalf("expected no purchased items after reset, got %v", got)
	}
	if !ledger.Total().IsZero() {
		t.Fatalf("expected zero total after reset, got %s", ledger.Total())
	}
	if !ledger.PreviousTotal().Equal(decimal.RequireFromString("45.50")) {
		t.Fatalf("expected previous total 45.50, got %s", ledger.PreviousTotal())
	}
	if len(ledger.Items()) != 3 {
		t.Fatal("expected catalog rows to survive reset")
	}

	ledger.ClearPreviousTotal()
	if !ledger.PreviousTotal().IsZero() {
		t.Fatal("expected previous total cleared")
	}
}

func TestCartLedgerPurchasedItemsKeepsOrder(t *testing.T) {
	ledger := NewCartLedger(testCatalog())
	ledger.AdjustQuantity(2, 1)
	ledger.AdjustQuantity(0, 3)

	got := ledger.PurchasedItems()
	if len(got) != 2 || got[0].Name != "Ticket" || got[1].Name != "Water" {
		t.Fatalf("unexpected purchased items %+v", got)
	}
}

func TestCartLedgerReplaceClampsNegativeQuantities(t *testing.T) {
	items := testCatalog()
	items[0].Quantity = -4
	items[1].Quantity = 1
	ledger := NewCartLedger(items)

	if got := ledger.Items()[0].Quantity; got != 0 {
		t.Fatalf("expected clamped quantity, got %d", got)
	}
	if !ledger.Total().Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("unexpected total %s", ledger.Total())
	}
	items[1].Quantity = 9
	if ledger.Items()[1].Quantity != 1 {
		t.Fatal("ledger must not alias caller slice")
	}
}
