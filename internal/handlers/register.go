package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SamuraiViking/pos-register/internal/domain"
	"github.com/SamuraiViking/pos-register/internal/platform/httpx"
	"github.com/SamuraiViking/pos-register/internal/services"
)

const maxStepBodySize = 16 * 1024

var errBodyTooLarge = errors.New("request body too large")

// RegisterService is the part of the register facade the HTTP layer drives.
type RegisterService interface {
	RunStep(ctx context.Context, id services.StepID, args json.RawMessage) (services.Outcome, error)
	Snapshot() services.RegisterSnapshot
	CurrentError() *services.ErrorMessage
	DismissError()
	AdjustQuantity(index, delta int) (bool, error)
	CancelPendingPayment(ctx context.Context) error
	Events(ctx context.Context) ([]domain.Event, error)
	Facilities(ctx context.Context, eventID int64) ([]domain.Facility, error)
}

// RegisterHandlers exposes the register workflow over HTTP.
type RegisterHandlers struct {
	register        RegisterService
	stepMiddlewares []func(http.Handler) http.Handler
}

// RegisterOption customises RegisterHandlers.
type RegisterOption func(*RegisterHandlers)

// WithStepMiddlewares wraps only the step endpoint, e.g. with replay protection.
func WithStepMiddlewares(mw ...func(http.Handler) http.Handler) RegisterOption {
	return func(h *RegisterHandlers) {
		h.stepMiddlewares = append(h.stepMiddlewares, mw...)
	}
}

// NewRegisterHandlers constructs the register handlers.
func NewRegisterHandlers(register RegisterService, opts ...RegisterOption) *RegisterHandlers {
	h := &RegisterHandlers{register: register}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the register endpoints onto the provided router.
func (h *RegisterHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/register", h.getRegister)
	r.Get("/register/error", h.getError)
	r.Delete("/register/error", h.dismissError)

	steps := r.With()
	for _, mw := range h.stepMiddlewares {
		if mw != nil {
			steps = steps.With(mw)
		}
	}
	steps.Post("/steps/{stepID}", h.runStep)

	r.Post("/cart/items/{index}/quantity", h.adjustQuantity)
	r.Post("/terminal/cancel", h.cancelPayment)
	r.Get("/events", h.listEvents)
	r.Get("/events/{eventID}/facilities", h.listFacilities)
}

func (h *RegisterHandlers) getRegister(w http.ResponseWriter, r *http.Request) {
	if h.register == nil {
		writeUnavailable(r.Context(), w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildRegisterPayload(h.register.Snapshot()))
}

func (h *RegisterHandlers) getError(w http.ResponseWriter, r *http.Request) {
	if h.register == nil {
		writeUnavailable(r.Context(), w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"error": buildErrorPayload(h.register.CurrentError())})
}

func (h *RegisterHandlers) dismissError(w http.ResponseWriter, r *http.Request) {
	if h.register == nil {
		writeUnavailable(r.Context(), w)
		return
	}
	h.register.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

func (h *RegisterHandlers) runStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.register == nil {
		writeUnavailable(ctx, w)
		return
	}

	stepID := services.StepID(strings.TrimSpace(chi.URLParam(r, "stepID")))
	body, err := readOptionalBody(r, maxStepBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	outcome, err := h.register.RunStep(ctx, stepID, body)
	if err != nil {
		writeStepError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stepResponse{
		Outcome:  buildOutcomePayload(outcome),
		Register: buildRegisterPayload(h.register.Snapshot()),
	})
}

type adjustQuantityRequest struct {
	Delta *int `json:"delta"`
}

func (h *RegisterHandlers) adjustQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.register == nil {
		writeUnavailable(ctx, w)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "index must be a non-negative integer", http.StatusBadRequest))
		return
	}
	body, err := readOptionalBody(r, maxStepBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req adjustQuantityRequest
	if len(body) == 0 || json.Unmarshal(body, &req) != nil || req.Delta == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delta is required", http.StatusBadRequest))
		return
	}

	applied, err := h.register.AdjustQuantity(index, *req.Delta)
	if err != nil {
		writeStepError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"applied":  applied,
		"register": buildRegisterPayload(h.register.Snapshot()),
	})
}

func (h *RegisterHandlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.register == nil {
		writeUnavailable(ctx, w)
		return
	}
	if err := h.register.CancelPendingPayment(ctx); err != nil {
		switch {
		case errors.Is(err, services.ErrNoPendingCollect):
			httpx.WriteError(ctx, w, httpx.NewError("no_pending_payment", "no payment collection in progress", http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("device_error", err.Error(), http.StatusBadGateway))
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *RegisterHandlers) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.register == nil {
		writeUnavailable(ctx, w)
		return
	}
	events, err := h.register.Events(ctx)
	if err != nil {
		writeBackendError(ctx, w, err)
		return
	}
	items := make([]eventPayload, 0, len(events))
	for _, event := range events {
		items = append(items, buildEventPayload(event))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": items})
}

func (h *RegisterHandlers) listFacilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.register == nil {
		writeUnavailable(ctx, w)
		return
	}
	eventID, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil || eventID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "eventID must be a positive integer", http.StatusBadRequest))
		return
	}
	facilities, err := h.register.Facilities(ctx, eventID)
	if err != nil {
		writeBackendError(ctx, w, err)
		return
	}
	items := make([]facilityPayload, 0, len(facilities))
	for _, facility := range facilities {
		items = append(items, facilityPayload{ID: facility.ID, Title: facility.Title})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"facilities": items})
}

func readOptionalBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
}

func writeStepError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrWorkflowInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("workflow_in_flight", "another step is still running", http.StatusConflict))
	case errors.Is(err, services.ErrUnknownStep):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_step", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidStepArgs):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_step_args", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "step could not be started", http.StatusInternalServerError))
	}
}

func writeBackendError(ctx context.Context, w http.ResponseWriter, err error) {
	var netErr *services.NetworkError
	if errors.As(err, &netErr) {
		httpx.WriteError(ctx, w, httpx.NewError("backend_unavailable", netErr.Error(), http.StatusBadGateway))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", err.Error(), http.StatusInternalServerError))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("register_unavailable", "register is unavailable", http.StatusServiceUnavailable))
}
