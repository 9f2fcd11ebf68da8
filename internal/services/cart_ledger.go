package services

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

// CartLedger owns the register cart. Quantities never go negative and the
// running total always equals the sum of price times quantity.
type CartLedger struct {
	mu            sync.RWMutex
	items         []domain.LineItem
	total         decimal.Decimal
	previousTotal decimal.Decimal
}

// NewCartLedger builds a ledger over a copy of items.
func NewCartLedger(items []domain.LineItem) *CartLedger {
	l := &CartLedger{}
	l.Replace(items)
	return l
}

// Replace swaps the catalog shown in the cart, e.g. after an event is selected.
func (l *CartLedger) Replace(items []domain.LineItem) {
	copied := make([]domain.LineItem, len(items))
	copy(copied, items)
	for i := range copied {
		if copied[i].Quantity < 0 {
			copied[i].Quantity = 0
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = copied
	l.recomputeLocked()
}

// AdjustQuantity adds delta to the quantity at index. It is a no-op returning
// false when index is out of range or the result would be negative.
func (l *CartLedger) AdjustQuantity(index, delta int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.items) {
		return false
	}
	next := l.items[index].Quantity + delta
	if next < 0 {
		return false
	}
	l.items[index].Quantity = next
	l.recomputeLocked()
	return true
}

// Items returns a copy of every cart row, purchased or not.
func (l *CartLedger) Items() []domain.LineItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.LineItem, len(l.items))
	copy(out, l.items)
	return out
}

// PurchasedItems returns the rows with a positive quantity, in cart order.
func (l *CartLedger) PurchasedItems() []domain.LineItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return purchased(l.items)
}

// Total returns the current cart total in display units.
func (l *CartLedger) Total() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// PreviousTotal returns the total snapshotted by the last Reset.
func (l *CartLedger) PreviousTotal() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.previousTotal
}

// ClearPreviousTotal forgets the last snapshot once the receipt prompt is done.
func (l *CartLedger) ClearPreviousTotal() {
	l.mu.Lock()
	l.previousTotal = decimal.Zero
	l.mu.Unlock()
}

// Reset zeroes every quantity after snapshotting the total into PreviousTotal.
func (l *CartLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.previousTotal = l.total
	for i := range l.items {
		l.items[i].Quantity = 0
	}
	l.total = decimal.Zero
}

func (l *CartLedger) recomputeLocked() {
	l.total = cartTotal(l.items)
}

func purchased(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.Quantity > 0 {
			out = append(out, item)
		}
	}
	return out
}

func cartTotal(items []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
