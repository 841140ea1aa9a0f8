package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/service/orchestration"
	"github.com/vladislavdragonenkov/esoms/internal/service/orders"
	"github.com/vladislavdragonenkov/esoms/internal/service/workflow"
)

// orderAPI: HTTP-обёртка над командами заказа, движком переходов и оркестрацией.
type orderAPI struct {
	orders        *orders.Service
	engine        *workflow.Engine
	orchestration *orchestration.Service
	logger        *log.Entry
}

func newOrderAPI(svc *runtimeServices, logger *log.Entry) *orderAPI {
	return &orderAPI{
		orders:        svc.orders,
		engine:        svc.engine,
		orchestration: svc.orchestration,
		logger:        logger.WithField("layer", "http"),
	}
}

func (a *orderAPI) routes(r chi.Router) {
	r.Post("/", a.createOrder)
	r.Route("/{orderID}", func(r chi.Router) {
		r.Get("/", a.getOrder)
		r.Get("/history", a.history)
		r.Get("/transitions", a.validTransitions)
		r.Post("/transitions", a.executeTransition)
		r.Post("/items", a.addItem)
		r.Delete("/items/{productID}", a.removeItem)
		r.Post("/confirm", a.confirm)
		r.Post("/cancel", a.cancel)
		r.Post("/payment", a.processPayment)
		r.Post("/context", a.changeContext)
		r.Post("/workflow", a.initiateWorkflow)
	})
}

type itemRequest struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Currency  string `json:"currency,omitempty"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	ID              string              `json:"id,omitempty"`
	Customer        domain.CustomerInfo `json:"customer"`
	DeliveryAddress domain.Address      `json:"delivery_address"`
	BusinessContext string              `json:"business_context"`
	Currency        string              `json:"currency"`
	ServiceContext  map[string]string   `json:"service_context,omitempty"`
	Items           []itemRequest       `json:"items,omitempty"`
}

type transitionRequest struct {
	Status   string            `json:"status"`
	ActorID  string            `json:"actor_id,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type paymentRequest struct {
	Amount         string `json:"amount"`
	Method         string `json:"method"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	Status         string `json:"status,omitempty"`
}

type orderItemView struct {
	ProductID string       `json:"product_id"`
	Name      string       `json:"name"`
	UnitPrice domain.Money `json:"unit_price"`
	Quantity  int          `json:"quantity"`
}

type orderView struct {
	ID               string              `json:"id"`
	Customer         domain.CustomerInfo `json:"customer"`
	BusinessContext  string              `json:"business_context"`
	Status           string              `json:"status"`
	Currency         string              `json:"currency"`
	Total            domain.Money        `json:"total"`
	Items            []orderItemView     `json:"items"`
	PaymentStatus    string              `json:"payment_status,omitempty"`
	TrackingNumber   string              `json:"tracking_number,omitempty"`
	CancelReason     string              `json:"cancel_reason,omitempty"`
	ServiceContext   map[string]string   `json:"service_context,omitempty"`
	Version          int64               `json:"version"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	ValidTransitions []string            `json:"valid_transitions,omitempty"`
}

func newOrderView(o domain.Order) orderView {
	items := make([]orderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemView{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	return orderView{
		ID:              o.ID,
		Customer:        o.Customer,
		BusinessContext: string(o.Context),
		Status:          string(o.Status),
		Currency:        o.Currency,
		Total:           o.Total,
		Items:           items,
		PaymentStatus:   string(o.Payment.Status),
		TrackingNumber:  o.TrackingNumber,
		CancelReason:    o.CancelReason,
		ServiceContext:  o.ServiceContext,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type historyEntry struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
}

type transitionView struct {
	Order      orderView  `json:"order"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	EventID    string     `json:"event_id"`
	Hooks      []hookView `json:"hooks,omitempty"`
	HooksAsync bool       `json:"hooks_async,omitempty"`
}

type hookView struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type resultView struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

type errorView struct {
	Error string `json:"error"`
}

func (a *orderAPI) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !a.decode(w, r, &req) {
		return
	}
	bc, err := domain.ParseBusinessContext(req.BusinessContext)
	if err != nil {
		a.writeError(w, err)
		return
	}
	items := make([]domain.AddItemParams, 0, len(req.Items))
	for _, it := range req.Items {
		p, err := it.params(req.Currency)
		if err != nil {
			a.writeError(w, err)
			return
		}
		items = append(items, p)
	}

	o, err := a.orders.CreateOrder(r.Context(), domain.CreateOrderParams{
		ID:              req.ID,
		Customer:        req.Customer,
		DeliveryAddress: req.DeliveryAddress,
		BusinessContext: bc,
		Currency:        req.Currency,
		ServiceContext:  req.ServiceContext,
	}, items...)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(o))
}

func (a *orderAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	view := newOrderView(o)
	if next, err := a.engine.GetValidTransitions(r.Context(), o.ID); err == nil {
		view.ValidTransitions = statusStrings(next)
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *orderAPI) history(w http.ResponseWriter, r *http.Request) {
	events, err := a.orders.History(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]historyEntry, 0, len(events))
	for _, e := range events {
		meta := e.Metadata()
		out = append(out, historyEntry{EventID: meta.EventID, EventType: e.EventType(), OccurredAt: meta.OccurredAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *orderAPI) validTransitions(w http.ResponseWriter, r *http.Request) {
	next, err := a.engine.GetValidTransitions(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusStrings(next))
}

func (a *orderAPI) executeTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !a.decode(w, r, &req) {
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.engine.ExecuteTransition(r.Context(), chi.URLParam(r, "orderID"), target, domain.WorkflowContext{
		ActorID:  req.ActorID,
		Reason:   req.Reason,
		Metadata: req.Metadata,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}

	view := transitionView{
		Order:      newOrderView(res.Order),
		From:       string(res.From),
		To:         string(res.To),
		EventID:    res.EventID,
		HooksAsync: res.HooksAsync,
	}
	for _, h := range res.Hooks {
		hv := hookView{Name: h.Name, Success: h.Success, Skipped: h.Skipped}
		if h.Err != nil {
			hv.Error = h.Err.Error()
		}
		view.Hooks = append(view.Hooks, hv)
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *orderAPI) addItem(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req itemRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Currency == "" {
		current, err := a.orders.GetOrder(r.Context(), orderID)
		if err != nil {
			a.writeError(w, err)
			return
		}
		req.Currency = current.Currency
	}
	p, err := req.params("")
	if err != nil {
		a.writeError(w, err)
		return
	}
	o, err := a.orders.AddItem(r.Context(), orderID, p)
	a.respondOrder(w, o, err)
}

func (a *orderAPI) removeItem(w http.ResponseWriter, r *http.Request) {
	qty := 1
	if raw := r.URL.Query().Get("qty"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.writeError(w, fmt.Errorf("%w: qty must be an integer", domain.ErrInvalidArgument))
			return
		}
		qty = n
	}
	o, err := a.orders.RemoveItem(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "productID"), qty)
	a.respondOrder(w, o, err)
}

func (a *orderAPI) confirm(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.ConfirmOrder(r.Context(), chi.URLParam(r, "orderID"))
	a.respondOrder(w, o, err)
}

func (a *orderAPI) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	o, err := a.orders.CancelOrder(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	a.respondOrder(w, o, err)
}

func (a *orderAPI) processPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req paymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	current, err := a.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	amount, err := parseMoney(req.Amount, current.Currency)
	if err != nil {
		a.writeError(w, err)
		return
	}
	o, err := a.orders.ProcessPayment(r.Context(), orderID, domain.ProcessPaymentParams{
		Amount:         amount,
		Method:         req.Method,
		TransactionRef: req.TransactionRef,
		Status:         domain.PaymentStatus(req.Status),
	})
	a.respondOrder(w, o, err)
}

func (a *orderAPI) changeContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BusinessContext string `json:"business_context"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	bc, err := domain.ParseBusinessContext(req.BusinessContext)
	if err != nil {
		a.writeError(w, err)
		return
	}
	o, err := a.orders.ChangeBusinessContext(r.Context(), chi.URLParam(r, "orderID"), bc)
	a.respondOrder(w, o, err)
}

// initiateWorkflow запускает обработку заказа по правилам его вертикали.
// Бизнес-отказ интеграции возвращается как 422 с телом результата.
func (a *orderAPI) initiateWorkflow(w http.ResponseWriter, r *http.Request) {
	res, err := a.orchestration.InitiateWorkflow(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resultView{Success: res.Success, Message: res.Message, Reference: res.Reference})
}

func (a *orderAPI) respondOrder(w http.ResponseWriter, o domain.Order, err error) {
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (a *orderAPI) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (a *orderAPI) writeError(w http.ResponseWriter, err error) {
	status := httpStatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.WithError(err).Error("order api request failed")
	}
	writeJSON(w, status, errorView{Error: err.Error()})
}

// httpStatusFor сопоставляет категории доменных ошибок с HTTP-кодами.
func httpStatusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsVersionConflict(err):
		return http.StatusConflict
	case domain.IsIllegalTransition(err), domain.IsInvalidOperation(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (it itemRequest) params(defaultCurrency string) (domain.AddItemParams, error) {
	currency := it.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	price, err := parseMoney(it.UnitPrice, currency)
	if err != nil {
		return domain.AddItemParams{}, err
	}
	return domain.AddItemParams{
		ProductID: it.ProductID,
		Name:      it.Name,
		UnitPrice: price,
		Quantity:  it.Quantity,
	}, nil
}

func parseMoney(amount, currency string) (domain.Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Money{}, fmt.Errorf("%w: invalid amount %q", domain.ErrInvalidArgument, amount)
	}
	return domain.NewMoney(d, currency)
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
