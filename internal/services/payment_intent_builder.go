package services

import (
	"fmt"
	"strings"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

const unknownVenue = "Unknown Venue"

// PaymentIntentBuilder derives reader payloads from the cart. It is pure.
type PaymentIntentBuilder struct {
	venues   map[int]string
	currency string
	tax      int64
}

// NewPaymentIntentBuilder captures the venue table (website id to venue name),
// the currency and the flat tax in minor units.
func NewPaymentIntentBuilder(venues map[int]string, currency string, tax int64) PaymentIntentBuilder {
	copied := make(map[int]string, len(venues))
	for id, name := range venues {
		copied[id] = name
	}
	if tax < 0 {
		tax = 0
	}
	return PaymentIntentBuilder{
		venues:   copied,
		currency: strings.ToLower(strings.TrimSpace(currency)),
		tax:      tax,
	}
}

// Venue returns the venue name for an event, or "Unknown Venue".
func (b PaymentIntentBuilder) Venue(event domain.Event) string {
	if name, ok := b.venues[event.WebsiteID]; ok && name != "" {
		return name
	}
	return unknownVenue
}

// BuildDescription renders "<venue> - <event> - Name (qty), Name (qty)" over
// the purchased items. With nothing purchased it is "<venue> - <event>".
func (b PaymentIntentBuilder) BuildDescription(items []domain.LineItem, event domain.Event) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%d)", item.Name, item.Quantity))
	}
	head := b.Venue(event) + " - " + event.Title
	if len(parts) == 0 {
		return head
	}
	return head + " - " + strings.Join(parts, ", ")
}

// BuildIntent returns the intent for the purchased items: total in minor units plus tax.
func (b PaymentIntentBuilder) BuildIntent(items []domain.LineItem, event domain.Event) domain.PaymentIntent {
	return domain.PaymentIntent{
		Amount:      domain.MinorUnits(cartTotal(purchased(items))) + b.tax,
		Currency:    b.currency,
		Description: b.BuildDescription(items, event),
	}
}

// BuildReaderDisplay returns the cart payload shown on the reader.
func (b PaymentIntentBuilder) BuildReaderDisplay(items []domain.LineItem) domain.ReaderDisplay {
	bought := purchased(items)
	lines := make([]domain.ReaderLineItem, 0, len(bought))
	for _, item := range bought {
		lines = append(lines, domain.ReaderLineItem{
			Description: item.Name,
			Amount:      domain.MinorUnits(item.UnitPrice),
			Quantity:    int64(item.Quantity),
		})
	}
	return domain.ReaderDisplay{
		Type: domain.ReaderDisplayTypeCart,
		Cart: domain.ReaderCart{
			LineItems: lines,
			Tax:       b.tax,
			Total:     domain.MinorUnits(cartTotal(bought)) + b.tax,
			Currency:  b.currency,
		},
	}
}
