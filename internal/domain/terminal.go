package domain

// ReaderDisplayTypeCart is the only display mode the register pushes.
const ReaderDisplayTypeCart = "cart"

// PaymentIntent is the amount and description handed to the card reader.
// Amount is in minor units and already includes tax.
type PaymentIntent struct {
	Amount      int64
	Currency    string
	Description string
}

// ReaderDisplay is the cart summary rendered on the reader's screen.
type ReaderDisplay struct {
	Type string
	Cart ReaderCart
}

// ReaderCart mirrors the register cart in minor units.
type ReaderCart struct {
	LineItems []ReaderLineItem
	Tax       int64
	Total     int64
	Currency  string
}

// ReaderLineItem is one row of ReaderCart. Amount is the unit price in minor units.
type ReaderLineItem struct {
	Description string
	Amount      int64
	Quantity    int64
}

// Reader identifies a registered card reader.
type Reader struct {
	ID       string
	Label    string
	Serial   string
	Status   string
	Location string
}

// PendingPayment is a created but uncollected payment intent.
type PendingPayment struct {
	IntentID     string
	ClientSecret string
	Amount       int64
	Currency     string
}

// CollectedPayment is a payment intent with a payment method attached by the reader.
type CollectedPayment struct {
	IntentID      string
	PaymentMethod string
}

// ProcessedPayment is an authorised intent awaiting capture.
type ProcessedPayment struct {
	IntentID string
	Status   string
}

// CaptureResult is the outcome of capturing an authorised intent.
type CaptureResult struct {
	IntentID string
	Amount   int64
	Currency string
	Status   string
}
