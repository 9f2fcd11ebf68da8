package handlers

import (
	"github.com/shopspring/decimal"

	"github.com/SamuraiViking/pos-register/internal/domain"
	"github.com/SamuraiViking/pos-register/internal/services"
)

type stepResponse struct {
	Outcome  outcomePayload  `json:"outcome"`
	Register registerPayload `json:"register"`
}

type outcomePayload struct {
	RunID      string        `json:"runId"`
	Step       string        `json:"step"`
	Navigation string        `json:"navigation"`
	Screen     string        `json:"screen"`
	Error      *errorPayload `json:"error"`
	DurationMS int64         `json:"durationMs"`
}

type errorPayload struct {
	Kind  string   `json:"kind"`
	Lines []string `json:"lines"`
	Raw   string   `json:"raw,omitempty"`
}

type registerPayload struct {
	Screen        string            `json:"screen"`
	History       []string          `json:"history"`
	Event         eventPayload      `json:"event"`
	Facility      facilityPayload   `json:"facility"`
	Items         []lineItemPayload `json:"items"`
	Total         string            `json:"total"`
	PreviousTotal string            `json:"previousTotal"`
	Order         *orderPayload     `json:"order,omitempty"`
	AskForReceipt bool              `json:"askForReceipt"`
	ReceiptAmount string            `json:"receiptAmount,omitempty"`
	Reader        *readerPayload    `json:"reader"`
	InFlight      bool              `json:"inFlight"`
	Error         *errorPayload     `json:"error"`
}

type eventPayload struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	WebsiteID int    `json:"websiteId,omitempty"`
}

type facilityPayload struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type lineItemPayload struct {
	Index     int    `json:"index"`
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Subtotal  string `json:"subtotal"`
}

type orderPayload struct {
	ID            int64  `json:"id"`
	PaymentMethod string `json:"paymentMethod"`
	Total         string `json:"total"`
	Email         string `json:"email,omitempty"`
	Pending       bool   `json:"pending"`
}

type readerPayload struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Serial   string `json:"serial,omitempty"`
	Status   string `json:"status,omitempty"`
	Location string `json:"location,omitempty"`
}

func buildOutcomePayload(outcome services.Outcome) outcomePayload {
	return outcomePayload{
		RunID:      outcome.RunID,
		Step:       string(outcome.Step),
		Navigation: string(outcome.Navigation),
		Screen:     string(outcome.Screen),
		Error:      buildErrorPayload(outcome.Error),
		DurationMS: outcome.Duration.Milliseconds(),
	}
}

func buildErrorPayload(message *services.ErrorMessage) *errorPayload {
	if message == nil {
		return nil
	}
	return &errorPayload{
		Kind:  string(message.Kind),
		Lines: append([]string(nil), message.Lines...),
		Raw:   message.Raw,
	}
}

func buildEventPayload(event domain.Event) eventPayload {
	return eventPayload{ID: event.ID, Title: event.Title, WebsiteID: event.WebsiteID}
}

func buildRegisterPayload(snapshot services.RegisterSnapshot) registerPayload {
	session := snapshot.Session
	payload := registerPayload{
		Screen:        string(session.Screen),
		History:       make([]string, 0, len(session.History)),
		Event:         buildEventPayload(session.Event),
		Facility:      facilityPayload{ID: session.Facility.ID, Title: session.Facility.Title},
		Items:         make([]lineItemPayload, 0, len(session.Items)),
		Total:         formatDecimal(session.Total),
		PreviousTotal: formatDecimal(session.PreviousTotal),
		AskForReceipt: session.AskForReceipt,
		ReceiptAmount: snapshot.ReceiptAmount,
		InFlight:      snapshot.State.InFlight,
		Error:         buildErrorPayload(snapshot.State.LastError),
	}
	for _, screen := range session.History {
		payload.History = append(payload.History, string(screen))
	}
	for i, item := range session.Items {
		payload.Items = append(payload.Items, lineItemPayload{
			Index:     i,
			ProductID: item.ID,
			Name:      item.Name,
			UnitPrice: formatDecimal(item.UnitPrice),
			Quantity:  item.Quantity,
			Subtotal:  formatDecimal(item.Subtotal()),
		})
	}
	if order := session.Order; order.ID != 0 {
		payload.Order = &orderPayload{
			ID:            order.ID,
			PaymentMethod: string(order.PaymentMethod),
			Total:         formatDecimal(order.Total),
			Email:         order.Email,
			Pending:       order.Pending(),
		}
	}
	if reader := snapshot.Reader; reader != nil {
		payload.Reader = &readerPayload{
			ID:       reader.ID,
			Label:    reader.Label,
			Serial:   reader.Serial,
			Status:   reader.Status,
			Location: reader.Location,
		}
	}
	return payload
}

func formatDecimal(value decimal.Decimal) string {
	return value.StringFixed(2)
}
