package services

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the user-facing error taxonomy of the register.
type Kind string

const (
	// KindNetwork covers backend transport failures and non-2xx responses.
	KindNetwork Kind = "network"
	// KindDevice covers card reader failures, declines and reader timeouts.
	KindDevice Kind = "device"
	// KindValidation covers operator input the register refuses locally.
	KindValidation Kind = "validation"
	// KindUnclassified is any failure no classification rule recognised.
	KindUnclassified Kind = "unclassified"
)

var (
	// ErrWorkflowInFlight is returned when a step is started while another one runs.
	ErrWorkflowInFlight = errors.New("workflow: a step is already in flight")
	// ErrUnknownStep indicates the UI asked for a step the register does not know.
	ErrUnknownStep = errors.New("workflow: unknown step")
	// ErrInvalidStepArgs indicates the step arguments could not be decoded or were incomplete.
	ErrInvalidStepArgs = errors.New("workflow: invalid step arguments")
	// ErrCartEmpty indicates checkout was attempted with nothing purchased.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrNoReaderConnected indicates a device call that needs a reader found none.
	ErrNoReaderConnected = errors.New("no reader connected")
	// ErrNoPendingCollect indicates cancel was requested with no collect outstanding.
	ErrNoPendingCollect = errors.New("no payment collection in progress")
	// ErrOrderInFlight indicates an order creation was re-triggered before the first returned.
	ErrOrderInFlight = errors.New("order creation already in progress")
	// ErrNoOrderForReceipt indicates a receipt was requested with no recorded order.
	ErrNoOrderForReceipt = errors.New("no order to attach a receipt to")
	// ErrInvalidEmail indicates the receipt address could not be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
)

// NetworkError describes a failed backend call.
type NetworkError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": network error"
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DeviceError describes a failed card reader call. Message carries the raw
// reader text (e.g. "Your card was declined.") used for classification.
type DeviceError struct {
	Op      string
	Message string
	Err     error
}

func (e *DeviceError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": device error"
	}
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ValidationError describes operator input refused before any I/O.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// KindOf reports the taxonomy of err from its type, used when no classification rule matched.
func KindOf(err error) Kind {
	var (
		netErr   *NetworkError
		devErr   *DeviceError
		validErr *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &devErr):
		return KindDevice
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &validErr), errors.Is(err, ErrInvalidStepArgs):
		return KindValidation
	default:
		return KindUnclassified
	}
}

const readerTimeoutMessage = "reader timed out"

// deviceCallError wraps a device failure, turning deadline expiry into a reader timeout.
func deviceCallError(op string, err error) error {
	if err == nil {
		return nil
	}
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DeviceError{Op: op, Message: readerTimeoutMessage, Err: err}
	}
	return &DeviceError{Op: op, Err: err}
}
