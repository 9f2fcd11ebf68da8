package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/SamuraiViking/pos-register/internal/domain"
)

const defaultDeviceTimeout = 2 * time.Minute

// TerminalSessionDeps wires the terminal session.
type TerminalSessionDeps struct {
	Device  DeviceClient
	Timeout time.Duration
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// TerminalSession sequences calls to the card reader. Every call is bounded by
// the device timeout, and a payment is always created, collected, processed
// and captured in that order.
type TerminalSession struct {
	device  DeviceClient
	timeout time.Duration
	logger  func(ctx context.Context, event string, fields map[string]any)

	mu         sync.Mutex
	reader     *domain.Reader
	collecting bool
}

// NewTerminalSession validates deps and applies defaults.
func NewTerminalSession(deps TerminalSessionDeps) (*TerminalSession, error) {
	if deps.Device == nil {
		return nil, errors.New("terminal session: device client is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultDeviceTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TerminalSession{device: deps.Device, timeout: timeout, logger: logger}, nil
}

// RegisterAndConnect registers the reader behind code and connects to it.
// Connect is not attempted when registration fails.
func (s *TerminalSession) RegisterAndConnect(ctx context.Context, code string) (domain.Reader, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Reader{}, &ValidationError{Field: "registration code", Err: errors.New("is required")}
	}

	var registered domain.Reader
	err := s.call(ctx, "register reader", func(ctx context.Context) error {
		var err error
		registered, err = s.device.RegisterReader(ctx, code)
		return err
	})
	if err != nil {
		return domain.Reader{}, err
	}

	var connected domain.Reader
	err = s.call(ctx, "connect reader", func(ctx context.Context) error {
		var err error
		connected, err = s.device.ConnectReader(ctx, registered)
		return err
	})
	if err != nil {
		return domain.Reader{}, err
	}

	s.mu.Lock()
	s.reader = &connected
	s.mu.Unlock()
	s.logger(ctx, "register.terminal.connected", map[string]any{"readerID": connected.ID, "label": connected.Label})
	return connected, nil
}

// Connected reports whether a reader is attached to the session.
func (s *TerminalSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

// Reader returns the connected reader, if any.
func (s *TerminalSession) Reader() (domain.Reader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return domain.Reader{}, false
	}
	return *s.reader, true
}

// PushDisplay shows the cart on the reader. Pushing the same display twice is harmless.
func (s *TerminalSession) PushDisplay(ctx context.Context, display domain.ReaderDisplay) error {
	return s.call(ctx, "set reader display", func(ctx context.Context) error {
		return s.device.SetReaderDisplay(ctx, display)
	})
}

// ClearDisplay resets the reader screen. Without a reader it does nothing.
func (s *TerminalSession) ClearDisplay(ctx context.Context) error {
	if !s.Connected() {
		return nil
	}
	return s.call(ctx, "clear reader display", s.device.ClearReaderDisplay)
}

// CollectAndProcess runs create intent, collect, process and capture in order,
// aborting on the first failure. Nothing is captured unless every earlier call succeeded.
func (s *TerminalSession) CollectAndProcess(ctx context.Context, intent domain.PaymentIntent) (domain.CaptureResult, error) {
	var pending domain.PendingPayment
	err := s.call(ctx, "create payment intent", func(ctx context.Context) error {
		var err error
		pending, err = s.device.ProcessPaymentIntent(ctx, intent)
		return err
	})
	if err != nil {
		return domain.CaptureResult{}, err
	}

	s.setCollecting(true)
	var collected domain.CollectedPayment
	err = s.call(ctx, "collect payment method", func(ctx context.Context) error {
		var err error
		collected, err = s.device.CollectPaymentMethod(ctx, pending)
		return err
	})
	s.setCollecting(false)
	if err != nil {
		if readerTimedOut(err) {
			s.abandonCollect(ctx, pending)
		}
		return domain.CaptureResult{}, err
	}

	var processed domain.ProcessedPayment
	err = s.call(ctx, "process payment", func(ctx context.Context) error {
		var err error
		processed, err = s.device.ProcessPayment(ctx, collected)
		return err
	})
	if err != nil {
		return domain.CaptureResult{}, err
	}

	var captured domain.CaptureResult
	err = s.call(ctx, "capture payment", func(ctx context.Context) error {
		var err error
		captured, err = s.device.CapturePaymentIntent(ctx, processed.IntentID)
		return err
	})
	if err != nil {
		return domain.CaptureResult{}, err
	}

	s.logger(ctx, "register.terminal.captured", map[string]any{
		"intentID": captured.IntentID,
		"amount":   captured.Amount,
		"currency": captured.Currency,
	})
	return captured, nil
}

// CancelPending aborts an outstanding collect. It fails with ErrNoPendingCollect when none is running.
func (s *TerminalSession) CancelPending(ctx context.Context) error {
	s.mu.Lock()
	collecting := s.collecting
	s.mu.Unlock()
	if !collecting {
		return ErrNoPendingCollect
	}
	err := s.call(ctx, "cancel collect payment method", s.device.CancelCollectPaymentMethod)
	if err == nil {
		s.logger(ctx, "register.terminal.collect_canceled", nil)
	}
	return err
}

// abandonCollect cancels the reader action a timed out collect left running.
func (s *TerminalSession) abandonCollect(ctx context.Context, pending domain.PendingPayment) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.device.CancelCollectPaymentMethod(cancelCtx); err != nil {
		s.logger(ctx, "register.terminal.cancel_after_timeout_failed", map[string]any{
			"intentID": pending.IntentID,
			"error":    err.Error(),
		})
		return
	}
	s.logger(ctx, "register.terminal.collect_canceled", map[string]any{"intentID": pending.IntentID, "reason": "timeout"})
}

func readerTimedOut(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Message == readerTimeoutMessage
}

func (s *TerminalSession) setCollecting(v bool) {
	s.mu.Lock()
	s.collecting = v
	s.mu.Unlock()
}

func (s *TerminalSession) call(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = &DeviceError{Op: op, Message: readerTimeoutMessage, Err: err}
	}
	wrapped := deviceCallError(op, err)
	s.logger(ctx, "register.terminal.failed", map[string]any{"op": op, "error": wrapped.Error()})
	return wrapped
}
