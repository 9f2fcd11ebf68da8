package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

// Simulated decline messages keyed by the cents of the amount, mirroring the
// Stripe Terminal test card amounts.
var simulatorDeclines = map[int64]string{
	1:  "Your card was declined.",
	5:  "Your card was declined (generic_decline).",
	55: "Incorrect PIN entered.",
}

// SimulatorConfig configures the in-memory reader.
type SimulatorConfig struct {
	// CollectDelay is how long the simulated customer takes to tap a card.
	CollectDelay time.Duration
	Logger       Logger
}

// Simulator is an in-memory reader for development and demos. Amounts
// ending in .01, .05 or .55 are declined the way Stripe test cards are.
type Simulator struct {
	delay  time.Duration
	logger Logger

	mu       sync.Mutex
	reader   *domain.Reader
	display  *domain.ReaderDisplay
	intents  map[string]*simulatedIntent
	cancelCh chan struct{}
}

type simulatedIntent struct {
	amount   int64
	currency string
	status   string
}

// NewSimulator constructs a simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Simulator{
		delay:   cfg.CollectDelay,
		logger:  logger,
		intents: make(map[string]*simulatedIntent),
	}
}

func (s *Simulator) RegisterReader(ctx context.Context, code string) (domain.Reader, error) {
	if strings.EqualFold(strings.TrimSpace(code), "invalid") {
		return domain.Reader{}, errors.New("the registration code is not recognised")
	}
	reader := domain.Reader{
		ID:     "tmr_sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Label:  "Simulated reader",
		Serial: "SIM-" + strings.ToUpper(code),
		Status: "online",
	}
	s.logger(ctx, "payments.simulator.reader.registered", map[string]any{"readerID": reader.ID})
	return reader, nil
}

func (s *Simulator) ConnectReader(_ context.Context, reader domain.Reader) (domain.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reader.Status = "online"
	s.reader = &reader
	return reader, nil
}

func (s *Simulator) SetReaderDisplay(_ context.Context, display domain.ReaderDisplay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return ErrNoReader
	}
	s.display = &display
	return nil
}

func (s *Simulator) ClearReaderDisplay(context.Context) error {
	s.mu.Lock()
	s.display = nil
	s.mu.Unlock()
	return nil
}

// Display returns what the reader currently shows.
func (s *Simulator) Display() (domain.ReaderDisplay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.display == nil {
		return domain.ReaderDisplay{}, false
	}
	return *s.display, true
}

func (s *Simulator) ProcessPaymentIntent(_ context.Context, intent domain.PaymentIntent) (domain.PendingPayment, error) {
	if intent.Amount <= 0 {
		return domain.PendingPayment{}, fmt.Errorf("amount must be positive, got %d", intent.Amount)
	}
	id := "pi_sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	s.mu.Lock()
	s.intents[id] = &simulatedIntent{amount: intent.Amount, currency: strings.ToLower(intent.Currency), status: "requires_payment_method"}
	s.mu.Unlock()
	return domain.PendingPayment{
		IntentID:     id,
		ClientSecret: id + "_secret_sim",
		Amount:       intent.Amount,
		Currency:     strings.ToLower(intent.Currency),
	}, nil
}

func (s *Simulator) CollectPaymentMethod(ctx context.Context, pending domain.PendingPayment) (domain.CollectedPayment, error) {
	s.mu.Lock()
	if s.reader == nil {
		s.mu.Unlock()
		return domain.CollectedPayment{}, ErrNoReader
	}
	intent, ok := s.intents[pending.IntentID]
	if !ok {
		s.mu.Unlock()
		return domain.CollectedPayment{}, fmt.Errorf("no such payment intent: %s", pending.IntentID)
	}
	cancelCh := make(chan struct{})
	s.cancelCh = cancelCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancelCh = nil
		s.mu.Unlock()
	}()

	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.CollectedPayment{}, ctx.Err()
	case <-cancelCh:
		return domain.CollectedPayment{}, ErrCollectCanceled
	case <-timer.C:
	}

	if message, declined := simulatorDeclines[intent.amount%100]; declined {
		return domain.CollectedPayment{}, errors.New(message)
	}
	s.mu.Lock()
	intent.status = "requires_confirmation"
	s.mu.Unlock()
	return domain.CollectedPayment{IntentID: pending.IntentID, PaymentMethod: "pm_card_present_sim"}, nil
}

func (s *Simulator) ProcessPayment(_ context.Context, collected domain.CollectedPayment) (domain.ProcessedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[collected.IntentID]
	if !ok || intent.status != "requires_confirmation" {
		return domain.ProcessedPayment{}, fmt.Errorf("payment intent %s has no collected payment method", collected.IntentID)
	}
	intent.status = "requires_capture"
	return domain.ProcessedPayment{IntentID: collected.IntentID, Status: intent.status}, nil
}

func (s *Simulator) CapturePaymentIntent(ctx context.Context, intentID string) (domain.CaptureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok || intent.status != "requires_capture" {
		return domain.CaptureResult{}, fmt.Errorf("payment intent %s is not ready to capture", intentID)
	}
	intent.status = "succeeded"
	s.logger(ctx, "payments.simulator.intent.captured", map[string]any{"paymentIntent": intentID, "amount": intent.amount})
	return domain.CaptureResult{IntentID: intentID, Amount: intent.amount, Currency: intent.currency, Status: intent.status}, nil
}

func (s *Simulator) CancelCollectPaymentMethod(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelCh == nil {
		return errors.New("no collect to cancel")
	}
	close(s.cancelCh)
	s.cancelCh = nil
	return nil
}
