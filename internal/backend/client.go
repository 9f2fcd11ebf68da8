package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SamuraiViking/pos-register/internal/domain"
	"github.com/SamuraiViking/pos-register/internal/platform/requestctx"
	"github.com/SamuraiViking/pos-register/internal/services"
)

const (
	defaultTimeout = 10 * time.Second
	runIDHeader    = "X-Register-Run-ID"
	maxErrorBody   = 256
)

// Client talks to the order and catalog backend over JSON/HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every backend call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithAuthToken sends token as a bearer credential.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// NewClient constructs a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("backend: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ services.Backend = (*Client)(nil)

type productPayload struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type eventPayload struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	WebsiteID int    `json:"website_id"`
}

type facilityPayload struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type createOrderPayload struct {
	EventID       int64  `json:"event_id"`
	FacilityID    int64  `json:"facility_id"`
	PaymentMethod string `json:"payment_method"`
}

type createOrderResponse struct {
	ID int64 `json:"id"`
}

type lineItemPayload struct {
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type emailPayload struct {
	Email string `json:"email"`
}

type claimResponse struct {
	AlreadyClaimed bool `json:"alreadyClaimed"`
}

// ListProducts returns the catalog; eventID <= 0 lists every product.
func (c *Client) ListProducts(ctx context.Context, eventID int64) ([]domain.LineItem, error) {
	query := url.Values{}
	if eventID > 0 {
		query.Set("eventId", strconv.FormatInt(eventID, 10))
	}
	var payload []productPayload
	if err := c.do(ctx, "list products", http.MethodGet, "/products", query, nil, &payload); err != nil {
		return nil, err
	}
	items := make([]domain.LineItem, 0, len(payload))
	for _, p := range payload {
		items = append(items, domain.LineItem{
			ID:        p.ID,
			Name:      strings.TrimSpace(p.Name),
			UnitPrice: p.Price,
			Quantity:  max(p.Quantity, 0),
		})
	}
	return items, nil
}

func (c *Client) ListEvents(ctx context.Context) ([]domain.Event, error) {
	var payload []eventPayload
	if err := c.do(ctx, "list events", http.MethodGet, "/events", nil, nil, &payload); err != nil {
		return nil, err
	}
	events := make([]domain.Event, 0, len(payload))
	for _, e := range payload {
		events = append(events, domain.Event{ID: e.ID, Title: strings.TrimSpace(e.Title), WebsiteID: e.WebsiteID})
	}
	return events, nil
}

func (c *Client) ListFacilities(ctx context.Context, eventID int64) ([]domain.Facility, error) {
	var payload []facilityPayload
	path := "/events/" + strconv.FormatInt(eventID, 10) + "/facilities"
	if err := c.do(ctx, "list facilities", http.MethodGet, path, nil, nil, &payload); err != nil {
		return nil, err
	}
	facilities := make([]domain.Facility, 0, len(payload))
	for _, f := range payload {
		facilities = append(facilities, domain.Facility{ID: f.ID, Title: strings.TrimSpace(f.Title)})
	}
	return facilities, nil
}

func (c *Client) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (int64, error) {
	body := createOrderPayload{
		EventID:       cmd.EventID,
		FacilityID:    cmd.FacilityID,
		PaymentMethod: string(cmd.PaymentMethod),
	}
	var resp createOrderResponse
	if err := c.do(ctx, "create order", http.MethodPost, "/orders", nil, body, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) CreateOrderLineItem(ctx context.Context, cmd services.CreateLineItemCommand) error {
	body := lineItemPayload{OrderID: cmd.OrderID, ProductID: cmd.ProductID, Quantity: cmd.Quantity}
	return c.do(ctx, "create order line item", http.MethodPost, "/order-line-items", nil, body, nil)
}

func (c *Client) UpdateOrderEmail(ctx context.Context, orderID int64, email string) error {
	path := "/orders/" + strconv.FormatInt(orderID, 10)
	return c.do(ctx, "update order email", http.MethodPatch, path, nil, emailPayload{Email: email}, nil)
}

func (c *Client) ClaimTicket(ctx context.Context, ticketID string) (domain.TicketClaim, error) {
	var resp claimResponse
	path := "/claim-ticket/" + url.PathEscape(ticketID)
	if err := c.do(ctx, "claim ticket", http.MethodPost, path, nil, nil, &resp); err != nil {
		return domain.TicketClaim{}, err
	}
	return domain.TicketClaim{TicketID: ticketID, AlreadyClaimed: resp.AlreadyClaimed}, nil
}

// do performs one JSON round trip. Every failure comes back as a *services.NetworkError.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &services.NetworkError{Op: op, Err: err}
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &services.NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if runID := requestctx.RunID(ctx); runID != "" {
		req.Header.Set(runIDHeader, runID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &services.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &services.NetworkError{Op: op, Status: resp.StatusCode, Message: drainError(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &services.NetworkError{Op: op, Status: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

func drainError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
