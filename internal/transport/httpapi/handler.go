package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderquery"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderstatus"
)

const (
	// HeaderIdempotencyKey — необязательный ключ повтора для checkout.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, если ответ взят из сохранённого.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

// CheckoutService — оформление заказа.
type CheckoutService interface {
	Checkout(ctx context.Context, userID int64, raw []domain.CartLine) (domain.Order, error)
}

// StatusService — смена статуса заказа с учётом прав.
type StatusService interface {
	CancelByCustomer(ctx context.Context, orderID int64, actor domain.Actor) (orderstatus.Result, error)
	UpdateByAdmin(ctx context.Context, orderID int64, requested domain.OrderStatus, actor domain.Actor) (orderstatus.Result, error)
}

// QueryService — чтение заказов и каталога.
type QueryService interface {
	ListForUser(ctx context.Context, actor domain.Actor) ([]domain.Order, error)
	GetForUser(ctx context.Context, actor domain.Actor, orderID int64) (domain.Order, error)
	StatusForUser(ctx context.Context, actor domain.Actor, orderID int64) (domain.CachedStatus, error)
	AdminList(ctx context.Context, actor domain.Actor, page orderquery.Page) ([]domain.Order, error)
	AdminGet(ctx context.Context, actor domain.Actor, orderID int64) (domain.Order, error)
	ListProducts(ctx context.Context, page orderquery.Page) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID int64) (domain.Product, error)
}

// IdempotencyGuard выполняет запрос не более одного раза на Idempotency-Key.
type IdempotencyGuard interface {
	Do(ctx context.Context, req idempotency.Request, handler func(ctx context.Context) idempotency.Response) (idempotency.Response, bool, error)
}

// Deps — зависимости REST-обработчиков.
type Deps struct {
	Checkout    CheckoutService
	Status      StatusService
	Query       QueryService
	Idempotency IdempotencyGuard
	Storage     domain.Pinger
	Auth        Authenticator
	Logger      *log.Entry
}

// Handler реализует REST API /api/v1.
type Handler struct {
	checkout    CheckoutService
	status      StatusService
	query       QueryService
	idempotency IdempotencyGuard
	storage     domain.Pinger
	auth        Authenticator
	logger      *log.Entry
}

// NewHandler создаёт обработчики. Idempotency может быть nil: тогда ключ игнорируется.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	auth := deps.Auth
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	return &Handler{
		checkout:    deps.Checkout,
		status:      deps.Status,
		query:       deps.Query,
		idempotency: deps.Idempotency,
		storage:     deps.Storage,
		auth:        auth,
		logger:      logger,
	}
}

// Routes монтирует маршруты API на r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/db-check", h.dbCheck)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/", h.createOrder)
		r.Get("/", h.listMyOrders)
		r.Get("/{id}", h.getMyOrder)
		r.Get("/{id}/status", h.getMyOrderStatus)
		r.Post("/{id}/cancel", h.cancelMyOrder)
	})

	r.Route("/admin/orders", func(r chi.Router) {
		r.Use(h.authenticate, h.requireAdmin)
		r.Get("/", h.adminListOrders)
		r.Get("/{id}", h.adminGetOrder)
		r.Put("/{id}/status", h.adminUpdateStatus)
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body is too large"})
		return
	}

	run := func(ctx context.Context) idempotency.Response {
		return h.placeOrder(ctx, r, actor, body)
	}

	var (
		resp     idempotency.Response
		replayed bool
	)
	key := r.Header.Get(HeaderIdempotencyKey)
	if h.idempotency == nil || strings.TrimSpace(key) == "" {
		resp = run(r.Context())
	} else {
		resp, replayed, err = h.idempotency.Do(r.Context(), idempotency.Request{
			Scope:   "checkout",
			ActorID: actor.ID,
			Key:     key,
			Body:    body,
		}, run)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	if replayed {
		w.Header().Set(HeaderIdempotentReplay, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// placeOrder возвращает готовый ответ: он же сохраняется для повтора по Idempotency-Key.
func (h *Handler) placeOrder(ctx context.Context, r *http.Request, actor domain.Actor, body []byte) idempotency.Response {
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return h.errorBody(r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidInput))
	}

	order, err := h.checkout.Checkout(ctx, actor.ID, req.cartLines())
	if err != nil {
		return h.errorBody(r, err)
	}

	return jsonBody(http.StatusCreated, envelope{
		Message: "Order created successfully",
		Data: checkoutResult{
			ID:         order.ID,
			TotalCents: order.TotalMinor,
			Currency:   order.Currency,
			Status:     order.Status,
		},
	})
}

func (h *Handler) errorBody(r *http.Request, err error) idempotency.Response {
	rec := &bufferedWriter{header: http.Header{}}
	h.writeError(rec, r, err)
	return idempotency.Response{Status: rec.status, Body: rec.body.Bytes()}
}

func jsonBody(status int, body any) idempotency.Response {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	return idempotency.Response{Status: status, Body: buf.Bytes()}
}

// bufferedWriter собирает ответ в память, чтобы его можно было сохранить.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header         { return b.header }
func (b *bufferedWriter) WriteHeader(status int)      { b.status = status }
func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	orders, err := h.query.ListForUser(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: toOrderDTOs(orders)})
}

func (h *Handler) getMyOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "Invalid order id")
	if !ok {
		return
	}
	actor, _ := ActorFromContext(r.Context())
	order, err := h.query.GetForUser(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: toOrderDTO(order)})
}

func (h *Handler) getMyOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "Invalid order id")
	if !ok {
		return
	}
	actor, _ := ActorFromContext(r.Context())
	status, err := h.query.StatusForUser(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: orderStatusDTO{
		ID:        status.OrderID,
		Status:    status.Status,
		UpdatedAt: status.UpdatedAt,
	}})
}

func (h *Handler) cancelMyOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "Invalid order id")
	if !ok {
		return
	}
	actor, _ := ActorFromContext(r.Context())
	res, err := h.status.CancelByCustomer(r.Context(), orderID, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeTransition(w, res)
}

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	orders, err := h.query.AdminList(r.Context(), actor, page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: toOrderDTOs(orders)})
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "Invalid order id")
	if !ok {
		return
	}
	actor, _ := ActorFromContext(r.Context())
	order, err := h.query.AdminGet(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: toOrderDTO(order)})
}

func (h *Handler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "Invalid order id")
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidInput))
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	res, err := h.status.UpdateByAdmin(r.Context(), orderID, status, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeTransition(w, res)
}

func writeTransition(w http.ResponseWriter, res orderstatus.Result) {
	message := "Status updated"
	if !res.Changed {
		message = "Status unchanged"
	}
	writeJSON(w, http.StatusOK, envelope{
		Message: message,
		Data: map[string]any{
			"id_order": res.Order.ID,
			"status":   res.Order.Status,
		},
	})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	products, err := h.query.ListProducts(r.Context(), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]productDTO, 0, len(products))
	for _, p := range products {
		out = append(out, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, envelope{Data: out})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.pathID(w, r, "Invalid product id")
	if !ok {
		return
	}
	product, err := h.query.GetProduct(r.Context(), productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Product not found"})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: toProductDTO(product)})
}

func (h *Handler) dbCheck(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false, "db": false})
		return
	}
	if err := h.storage.Ping(r.Context()); err != nil {
		h.logger.WithError(err).Warn("db check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false, "db": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "db": true})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, message string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
		return 0, false
	}
	return id, true
}

func parsePage(r *http.Request) (orderquery.Page, error) {
	query := r.URL.Query()
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		return orderquery.Page{}, fmt.Errorf("%w: invalid limit", domain.ErrInvalidInput)
	}
	offset, err := optionalInt(query.Get("offset"))
	if err != nil {
		return orderquery.Page{}, fmt.Errorf("%w: invalid offset", domain.ErrInvalidInput)
	}
	return orderquery.NormalizePage(limit, offset), nil
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
