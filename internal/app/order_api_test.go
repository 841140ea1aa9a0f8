package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/esoms/internal/health"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _ := newTestServices(t)
	return newHTTPRouter(healthcheck.NewHandler("test"), newOrderAPI(svc, log.WithField("test", t.Name())))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) orderView {
	t.Helper()
	var view orderView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	return view
}

func createTestOrder(t *testing.T, h http.Handler, id string) orderView {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/orders", createOrderRequest{
		ID:              id,
		Customer:        domain.CustomerInfo{ID: "cust-1", Name: "Ada"},
		DeliveryAddress: domain.Address{Line1: "1 Main St", City: "Springfield", Country: "US"},
		BusinessContext: "ecommerce",
		Currency:        "USD",
		Items: []itemRequest{
			{ProductID: "sku-1", Name: "Mug", UnitPrice: "10.00", Quantity: 2},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeOrder(t, rec)
}

func TestOrderAPI_EcommerceLifecycle(t *testing.T) {
	h := newTestRouter(t)

	created := createTestOrder(t, h, "api-1")
	assert.Equal(t, "pending", created.Status)
	assert.True(t, created.Total.Amount.Equal(decimal.NewFromInt(20)), "total %s", created.Total.Amount)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/orders/api-1/items", itemRequest{
		ProductID: "sku-2", Name: "Spoon", UnitPrice: "2.50", Quantity: 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeOrder(t, rec).Total.Amount.Equal(decimal.NewFromInt(25)))

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/orders/api-1/items/sku-2?qty=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeOrder(t, rec).Items, 1)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/orders/api-1/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decodeOrder(t, rec).Status)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/orders/api-1/workflow", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res resultView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Success, res.Message)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/orders/api-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeOrder(t, rec)
	assert.Equal(t, "processing", view.Status)
	assert.Equal(t, string(domain.PaymentStatusAuthorized), view.PaymentStatus)
	assert.Contains(t, view.ValidTransitions, "shipped")

	rec = doJSON(t, h, http.MethodGet, "/api/v1/orders/api-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []historyEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	require.NotEmpty(t, history)
	assert.Equal(t, domain.EventTypeOrderCreated, history[0].EventType)
}

func TestOrderAPI_ExecuteTransition(t *testing.T) {
	h := newTestRouter(t)
	createTestOrder(t, h, "api-2")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/orders/api-2/transitions", transitionRequest{
		Status: "delivered", ActorID: "ops", Reason: "skip ahead",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/orders/api-2/transitions", transitionRequest{
		Status: "confirmed", ActorID: "ops",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tv transitionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tv))
	assert.Equal(t, "pending", tv.From)
	assert.Equal(t, "confirmed", tv.To)
	assert.NotEmpty(t, tv.EventID)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/orders/api-2/transitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&next))
	assert.Contains(t, next, "processing")
	assert.NotContains(t, next, "delivered")
}

func TestOrderAPI_ErrorMapping(t *testing.T) {
	h := newTestRouter(t)
	createTestOrder(t, h, "api-3")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown order", http.MethodGet, "/api/v1/orders/missing", nil, http.StatusNotFound},
		{"unknown business context", http.MethodPost, "/api/v1/orders", createOrderRequest{
			Customer: domain.CustomerInfo{ID: "c"}, BusinessContext: "casino", Currency: "USD",
		}, http.StatusBadRequest},
		{"bad price", http.MethodPost, "/api/v1/orders/api-3/items", itemRequest{
			ProductID: "sku-9", Name: "Bad", UnitPrice: "ten", Quantity: 1,
		}, http.StatusBadRequest},
		{"unknown status", http.MethodPost, "/api/v1/orders/api-3/transitions", transitionRequest{Status: "teleported"}, http.StatusBadRequest},
		{"bad qty", http.MethodDelete, "/api/v1/orders/api-3/items/sku-1?qty=x", nil, http.StatusBadRequest},
		{"context change while pending", http.MethodPost, "/api/v1/orders/api-3/context", map[string]string{"business_context": "restaurant"}, http.StatusOK},
		{"duplicate create", http.MethodPost, "/api/v1/orders", createOrderRequest{
			ID: "api-3", Customer: domain.CustomerInfo{ID: "c"}, BusinessContext: "boutique", Currency: "USD",
		}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestOrderAPI_InvalidBody(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestHTTPStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrItemQtyInvalid, http.StatusBadRequest},
		{domain.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("save: %w", domain.ErrConcurrencyConflict), http.StatusConflict},
		{&domain.IllegalTransitionError{From: "pending", To: "shipped"}, http.StatusUnprocessableEntity},
		{domain.ErrItemsLocked, http.StatusUnprocessableEntity},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatusFor(tt.err), tt.err.Error())
	}
}
