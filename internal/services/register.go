package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

// StepID names a workflow step the UI can trigger.
type StepID string

const (
	StepRegisterReader StepID = "register_reader"
	StepSelectEvent    StepID = "select_event"
	StepSelectFacility StepID = "select_facility"
	StepCheckout       StepID = "checkout"
	StepEditOrder      StepID = "edit_order"
	StepCancelOrder    StepID = "cancel_order"
	StepCollectPayment StepID = "collect_payment"
	StepPayWithCash    StepID = "pay_with_cash"
	StepEmailReceipt   StepID = "email_receipt"
	StepSkipReceipt    StepID = "skip_receipt"
	StepReset          StepID = "reset"
	StepClaimTicket    StepID = "claim_ticket"
)

// RegisterDeps wires the register facade.
type RegisterDeps struct {
	Session        *Session
	Terminal       *TerminalSession
	Orders         *OrderRecorder
	Catalog        CatalogBackend
	Tickets        TicketBackend
	Builder        PaymentIntentBuilder
	Orchestrator   *Orchestrator
	Publisher      CheckoutPublisher
	Sanitize       func(string) string
	ReceiptProduct string
	Locale         string
	Currency       string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// Register is the facade the register API drives. It turns UI actions into
// workflow steps and applies their outcomes to the session.
type Register struct {
	session        *Session
	terminal       *TerminalSession
	orders         *OrderRecorder
	catalog        CatalogBackend
	tickets        TicketBackend
	builder        PaymentIntentBuilder
	orchestrator   *Orchestrator
	publisher      CheckoutPublisher
	sanitize       func(string) string
	receiptProduct string
	locale         string
	currency       string
	now            func() time.Time
	logger         func(ctx context.Context, event string, fields map[string]any)

	steps map[StepID]stepDefinition
}

// RegisterSnapshot is everything the UI needs to render the register.
type RegisterSnapshot struct {
	Session       SessionSnapshot
	State         WorkflowState
	Reader        *domain.Reader
	ReceiptAmount string
}

// NewRegister validates deps and builds the step table.
func NewRegister(deps RegisterDeps) (*Register, error) {
	switch {
	case deps.Session == nil:
		return nil, errors.New("register: session is required")
	case deps.Terminal == nil:
		return nil, errors.New("register: terminal session is required")
	case deps.Orders == nil:
		return nil, errors.New("register: order recorder is required")
	case deps.Catalog == nil:
		return nil, errors.New("register: catalog backend is required")
	case deps.Tickets == nil:
		return nil, errors.New("register: ticket backend is required")
	case deps.Orchestrator == nil:
		return nil, errors.New("register: orchestrator is required")
	}

	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	locale := strings.TrimSpace(deps.Locale)
	if locale == "" {
		locale = "en-US"
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}

	r := &Register{
		session:        deps.Session,
		terminal:       deps.Terminal,
		orders:         deps.Orders,
		catalog:        deps.Catalog,
		tickets:        deps.Tickets,
		builder:        deps.Builder,
		orchestrator:   deps.Orchestrator,
		publisher:      deps.Publisher,
		sanitize:       sanitize,
		receiptProduct: strings.TrimSpace(deps.ReceiptProduct),
		locale:         locale,
		currency:       currency,
		now:            clock,
		logger:         logger,
	}
	r.steps = r.stepTable()
	return r, nil
}

// RunStep decodes args for stepID and runs it through the orchestrator.
// ErrUnknownStep, ErrInvalidStepArgs and ErrWorkflowInFlight are returned
// directly; every other failure is reported in the outcome.
func (r *Register) RunStep(ctx context.Context, id StepID, args json.RawMessage) (Outcome, error) {
	def, ok := r.steps[id]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownStep, id)
	}
	run, err := def.bind(args)
	if err != nil {
		return Outcome{}, err
	}

	var trigger domain.Screen
	outcome, err := r.orchestrator.Run(ctx, Step{
		ID: id,
		Run: func(ctx context.Context) (domain.Screen, error) {
			trigger = r.session.Screen()
			if def.pending != "" {
				r.session.Navigate(def.pending)
			}
			return run(ctx)
		},
		Settle: func(outcome Outcome) Outcome {
			switch outcome.Navigation {
			case NavigateForward:
				r.session.Navigate(outcome.Screen)
			case NavigateBack:
				r.session.Navigate(trigger)
				outcome.Screen = trigger
			default:
				outcome.Screen = r.session.Screen()
			}
			return outcome
		},
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// CurrentError returns the classified message of the last failed step.
func (r *Register) CurrentError() *ErrorMessage {
	return r.orchestrator.LastError()
}

// DismissError clears the current error.
func (r *Register) DismissError() {
	r.orchestrator.DismissError()
}

// IsRunning reports whether a step is in flight.
func (r *Register) IsRunning() bool {
	return r.orchestrator.IsRunning()
}

// Snapshot returns the session together with the workflow state.
func (r *Register) Snapshot() RegisterSnapshot {
	snapshot := RegisterSnapshot{
		Session: r.session.Snapshot(),
		State:   r.orchestrator.State(),
	}
	if reader, ok := r.terminal.Reader(); ok {
		snapshot.Reader = &reader
	}
	if snapshot.Session.AskForReceipt {
		amount, err := domain.FormatAmount(r.locale, r.currency, snapshot.Session.PreviousTotal)
		if err == nil {
			snapshot.ReceiptAmount = amount
		}
	}
	return snapshot
}

// AdjustQuantity changes the quantity of the cart row at index. It reports
// false when the change was refused, and ErrWorkflowInFlight while a step runs.
func (r *Register) AdjustQuantity(index, delta int) (bool, error) {
	var changed bool
	err := r.orchestrator.Exclusive(func() {
		changed = r.session.Cart.AdjustQuantity(index, delta)
	})
	return changed, err
}

// CancelPendingPayment aborts the collect waiting on the reader. It bypasses
// the in-flight gate because the step it cancels holds it.
func (r *Register) CancelPendingPayment(ctx context.Context) error {
	return r.terminal.CancelPending(ctx)
}

// LoadCatalog fills the cart with every product the backend sells.
func (r *Register) LoadCatalog(ctx context.Context) error {
	products, err := r.catalog.ListProducts(ctx, 0)
	if err != nil {
		return err
	}
	r.session.Cart.Replace(products)
	r.logger(ctx, "register.catalog.loaded", map[string]any{"products": len(products)})
	return nil
}

// Events lists the events the operator can pick from.
func (r *Register) Events(ctx context.Context) ([]domain.Event, error) {
	return r.catalog.ListEvents(ctx)
}

// Facilities lists the facilities of an event.
func (r *Register) Facilities(ctx context.Context, eventID int64) ([]domain.Facility, error) {
	return r.catalog.ListFacilities(ctx, eventID)
}
