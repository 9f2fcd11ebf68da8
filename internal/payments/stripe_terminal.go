package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

const defaultPollInterval = time.Second

var (
	// ErrNoReader indicates a reader call was made before a reader was connected.
	ErrNoReader = errors.New("no reader connected")
	// ErrReaderOffline indicates the registered reader is not reachable by Stripe.
	ErrReaderOffline = errors.New("reader is offline")
	// ErrCollectCanceled indicates the reader action was canceled before completing.
	ErrCollectCanceled = errors.New("payment canceled on the reader")
)

// Logger defines the logging contract for the device drivers.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripeReaderAPI interface {
	New(params *stripe.TerminalReaderParams) (*stripe.TerminalReader, error)
	Get(id string, params *stripe.TerminalReaderParams) (*stripe.TerminalReader, error)
	SetReaderDisplay(id string, params *stripe.TerminalReaderSetReaderDisplayParams) (*stripe.TerminalReader, error)
	ProcessPaymentIntent(id string, params *stripe.TerminalReaderProcessPaymentIntentParams) (*stripe.TerminalReader, error)
	CancelAction(id string, params *stripe.TerminalReaderCancelActionParams) (*stripe.TerminalReader, error)
}

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	readers stripeReaderAPI
	intents stripeIntentAPI
}

// StripeTerminalConfig configures the Stripe Terminal driver.
type StripeTerminalConfig struct {
	APIKey       string
	LocationID   string
	ReaderLabel  string
	PollInterval time.Duration
	Backends     *stripe.Backends
	Logger       Logger
	Clients      *stripeClients
}

// StripeTerminal drives a smart reader through Stripe's server-driven
// Terminal API. Collecting hands the intent to the reader and polls the
// reader action until the customer finishes.
type StripeTerminal struct {
	api      stripeClients
	location string
	label    string
	interval time.Duration
	logger   Logger

	mu       sync.Mutex
	readerID string
}

// NewStripeTerminal constructs the driver from cfg.
func NewStripeTerminal(cfg StripeTerminalConfig) (*StripeTerminal, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe terminal: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			readers: sc.TerminalReaders,
			intents: sc.PaymentIntents,
		}
	}
	if clients.readers == nil || clients.intents == nil {
		return nil, errors.New("stripe terminal: incomplete client configuration")
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeTerminal{
		api:      clients,
		location: strings.TrimSpace(cfg.LocationID),
		label:    strings.TrimSpace(cfg.ReaderLabel),
		interval: interval,
		logger:   logger,
	}, nil
}

// RegisterReader registers the reader showing code with the configured location.
func (t *StripeTerminal) RegisterReader(ctx context.Context, code string) (domain.Reader, error) {
	params := &stripe.TerminalReaderParams{
		RegistrationCode: stripe.String(code),
	}
	params.Context = ctx
	if t.location != "" {
		params.Location = stripe.String(t.location)
	}
	if t.label != "" {
		params.Label = stripe.String(t.label)
	}
	reader, err := t.api.readers.New(params)
	if err != nil {
		return domain.Reader{}, stripeError("register reader", err)
	}
	t.logger(ctx, "payments.stripe.reader.registered", map[string]any{"readerID": reader.ID})
	return readerFromStripe(reader), nil
}

// ConnectReader checks the reader is online and makes it the active reader.
func (t *StripeTerminal) ConnectReader(ctx context.Context, reader domain.Reader) (domain.Reader, error) {
	params := &stripe.TerminalReaderParams{}
	params.Context = ctx
	current, err := t.api.readers.Get(reader.ID, params)
	if err != nil {
		return domain.Reader{}, stripeError("connect reader", err)
	}
	if string(current.Status) != "online" {
		return domain.Reader{}, ErrReaderOffline
	}
	t.mu.Lock()
	t.readerID = current.ID
	t.mu.Unlock()
	return readerFromStripe(current), nil
}

// SetReaderDisplay shows the cart on the connected reader.
func (t *StripeTerminal) SetReaderDisplay(ctx context.Context, display domain.ReaderDisplay) error {
	readerID, err := t.connected()
	if err != nil {
		return err
	}
	cart := &stripe.TerminalReaderSetReaderDisplayCartParams{
		Currency: stripe.String(strings.ToLower(display.Cart.Currency)),
		Tax:      stripe.Int64(display.Cart.Tax),
		Total:    stripe.Int64(display.Cart.Total),
	}
	for _, item := range display.Cart.LineItems {
		cart.LineItems = append(cart.LineItems, &stripe.TerminalReaderSetReaderDisplayCartLineItemParams{
			Amount:      stripe.Int64(item.Amount),
			Description: stripe.String(item.Description),
			Quantity:    stripe.Int64(item.Quantity),
		})
	}
	displayType := display.Type
	if displayType == "" {
		displayType = domain.ReaderDisplayTypeCart
	}
	params := &stripe.TerminalReaderSetReaderDisplayParams{
		Type: stripe.String(displayType),
		Cart: cart,
	}
	params.Context = ctx
	if _, err := t.api.readers.SetReaderDisplay(readerID, params); err != nil {
		return stripeError("set reader display", err)
	}
	return nil
}

// ClearReaderDisplay cancels whatever the reader is showing. Without a reader it does nothing.
func (t *StripeTerminal) ClearReaderDisplay(ctx context.Context) error {
	readerID, err := t.connected()
	if err != nil {
		return nil
	}
	return t.cancelAction(ctx, readerID, "clear reader display")
}

// ProcessPaymentIntent creates a card-present intent that is captured manually.
func (t *StripeTerminal) ProcessPaymentIntent(ctx context.Context, intent domain.PaymentIntent) (domain.PendingPayment, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(intent.Amount),
		Currency:           stripe.String(strings.ToLower(intent.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card_present"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if intent.Description != "" {
		params.Description = stripe.String(intent.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	created, err := t.api.intents.New(params)
	if err != nil {
		return domain.PendingPayment{}, stripeError("create payment intent", err)
	}
	t.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": created.ID,
		"amount":        created.Amount,
	})
	return domain.PendingPayment{
		IntentID:     created.ID,
		ClientSecret: created.ClientSecret,
		Amount:       created.Amount,
		Currency:     string(created.Currency),
	}, nil
}

// CollectPaymentMethod hands the intent to the reader and waits for the
// customer to present a card.
func (t *StripeTerminal) CollectPaymentMethod(ctx context.Context, pending domain.PendingPayment) (domain.CollectedPayment, error) {
	readerID, err := t.connected()
	if err != nil {
		return domain.CollectedPayment{}, err
	}
	intentID := pending.IntentID
	if intentID == "" {
		intentID = intentIDFromSecret(pending.ClientSecret)
	}

	params := &stripe.TerminalReaderProcessPaymentIntentParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	if _, err := t.api.readers.ProcessPaymentIntent(readerID, params); err != nil {
		return domain.CollectedPayment{}, stripeError("collect payment method", err)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return domain.CollectedPayment{}, ctx.Err()
		case <-ticker.C:
		}

		getParams := &stripe.TerminalReaderParams{}
		getParams.Context = ctx
		reader, err := t.api.readers.Get(readerID, getParams)
		if err != nil {
			return domain.CollectedPayment{}, stripeError("collect payment method", err)
		}
		action := reader.Action
		if action == nil {
			return domain.CollectedPayment{}, ErrCollectCanceled
		}
		switch string(action.Status) {
		case "succeeded":
			collected := domain.CollectedPayment{IntentID: intentID}
			if action.ProcessPaymentIntent != nil && action.ProcessPaymentIntent.PaymentIntent != nil {
				if pm := action.ProcessPaymentIntent.PaymentIntent.PaymentMethod; pm != nil {
					collected.PaymentMethod = pm.ID
				}
			}
			return collected, nil
		case "failed":
			message := strings.TrimSpace(action.FailureMessage)
			if message == "" {
				message = "reader action failed: " + action.FailureCode
			}
			return domain.CollectedPayment{}, errors.New(message)
		}
	}
}

// ProcessPayment confirms the reader authorised the intent and it awaits capture.
func (t *StripeTerminal) ProcessPayment(ctx context.Context, collected domain.CollectedPayment) (domain.ProcessedPayment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := t.api.intents.Get(collected.IntentID, params)
	if err != nil {
		return domain.ProcessedPayment{}, stripeError("process payment", err)
	}
	if intent.Status != stripe.PaymentIntentStatusRequiresCapture {
		return domain.ProcessedPayment{}, fmt.Errorf("payment intent %s is %s, not ready to capture", intent.ID, intent.Status)
	}
	return domain.ProcessedPayment{IntentID: intent.ID, Status: string(intent.Status)}, nil
}

// CapturePaymentIntent captures the authorised amount.
func (t *StripeTerminal) CapturePaymentIntent(ctx context.Context, intentID string) (domain.CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	intent, err := t.api.intents.Capture(intentID, params)
	if err != nil {
		return domain.CaptureResult{}, stripeError("capture payment", err)
	}
	t.logger(ctx, "payments.stripe.intent.captured", map[string]any{
		"paymentIntent":  intent.ID,
		"amountReceived": intent.AmountReceived,
	})
	return domain.CaptureResult{
		IntentID: intent.ID,
		Amount:   intent.AmountReceived,
		Currency: string(intent.Currency),
		Status:   string(intent.Status),
	}, nil
}

// CancelCollectPaymentMethod cancels the action running on the reader.
func (t *StripeTerminal) CancelCollectPaymentMethod(ctx context.Context) error {
	readerID, err := t.connected()
	if err != nil {
		return err
	}
	return t.cancelAction(ctx, readerID, "cancel collect payment method")
}

func (t *StripeTerminal) cancelAction(ctx context.Context, readerID, op string) error {
	params := &stripe.TerminalReaderCancelActionParams{}
	params.Context = ctx
	if _, err := t.api.readers.CancelAction(readerID, params); err != nil {
		return stripeError(op, err)
	}
	return nil
}

func (t *StripeTerminal) connected() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readerID == "" {
		return "", ErrNoReader
	}
	return t.readerID, nil
}

func readerFromStripe(reader *stripe.TerminalReader) domain.Reader {
	out := domain.Reader{
		ID:     reader.ID,
		Label:  reader.Label,
		Serial: reader.SerialNumber,
		Status: string(reader.Status),
	}
	if reader.Location != nil {
		out.Location = reader.Location.ID
	}
	return out
}

// intentIDFromSecret derives "pi_123" from a client secret "pi_123_secret_abc".
func intentIDFromSecret(secret string) string {
	if idx := strings.Index(secret, "_secret_"); idx > 0 {
		return secret[:idx]
	}
	return secret
}

// stripeError unwraps the Stripe API message so declines read as the reader shows them.
func stripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && strings.TrimSpace(stripeErr.Msg) != "" {
		return fmt.Errorf("stripe: %s: %s", op, stripeErr.Msg)
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}
