package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuraiViking/pos-register/internal/domain"
	"github.com/SamuraiViking/pos-register/internal/platform/requestctx"
	"github.com/SamuraiViking/pos-register/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL+"/", WithAuthToken("tok"), WithTimeout(time.Second))
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
}

func TestListProducts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("eventId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id":1,"name":"Ticket","price":10,"quantity":0},{"id":2,"name":" Coaches Packet ","price":"25.50","quantity":-1}]`)
	})

	items, err := client.ListProducts(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].UnitPrice.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "Coaches Packet", items[1].Name)
	assert.True(t, items[1].UnitPrice.Equal(decimal.RequireFromString("25.50")))
	assert.Zero(t, items[1].Quantity)
}

func TestListProductsWithoutEvent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_, _ = io.WriteString(w, `[]`)
	})
	items, err := client.ListProducts(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListEventsAndFacilities(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events":
			_, _ = io.WriteString(w, `[{"id":7,"title":"Spring Classic","website_id":1}]`)
		case "/events/7/facilities":
			_, _ = io.WriteString(w, `[{"id":3,"title":"North Gym"}]`)
		default:
			http.NotFound(w, r)
		}
	})

	events, err := client.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Event{{ID: 7, Title: "Spring Classic", WebsiteID: 1}}, events)

	facilities, err := client.ListFacilities(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []domain.Facility{{ID: 3, Title: "North Gym"}}, facilities)
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "run-1", r.Header.Get(runIDHeader))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"event_id": float64(7), "facility_id": float64(3), "payment_method": "card"}, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":42}`)
	})

	ctx := requestctx.WithRunID(context.Background(), "run-1")
	id, err := client.CreateOrder(ctx, services.CreateOrderCommand{EventID: 7, FacilityID: 3, PaymentMethod: domain.PaymentMethodCard})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestCreateOrderLineItemAndEmail(t *testing.T) {
	var seen []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, r.Method+" "+r.URL.Path+" "+string(body))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.CreateOrderLineItem(context.Background(), services.CreateLineItemCommand{OrderID: 42, ProductID: 1, Quantity: 2}))
	require.NoError(t, client.UpdateOrderEmail(context.Background(), 42, "coach@example.com"))
	assert.Equal(t, []string{
		`POST /order-line-items {"order_id":42,"product_id":1,"quantity":2}`,
		`PATCH /orders/42 {"email":"coach@example.com"}`,
	}, seen)
}

func TestClaimTicket(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/claim-ticket/abc", r.URL.Path)
		_, _ = io.WriteString(w, `{"alreadyClaimed":true}`)
	})
	claim, err := client.ClaimTicket(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, claim.AlreadyClaimed)
}

func TestNon2xxBecomesNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	})

	_, err := client.CreateOrder(context.Background(), services.CreateOrderCommand{PaymentMethod: domain.PaymentMethodCash})
	var netErr *services.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusServiceUnavailable, netErr.Status)
	assert.Equal(t, "create order: status 503: database unavailable", err.Error())
	assert.Equal(t, services.KindNetwork, services.KindOf(err))
}

func TestTransportFailureBecomesNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client, err := NewClient(srv.URL)
	require.NoError(t, err)
	srv.Close()

	_, err = client.ListEvents(context.Background())
	var netErr *services.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Zero(t, netErr.Status)
	assert.Equal(t, "list events", netErr.Op)
}

func TestInvalidBodyBecomesNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	})
	_, err := client.ListEvents(context.Background())
	assert.Equal(t, services.KindNetwork, services.KindOf(err))
}
