package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/platform/httpx"
	"github.com/shopforge/api/internal/platform/requestctx"
	"github.com/shopforge/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

var orderSortFields = map[string]domain.OrderSort{
	"createdAt":   domain.OrderSortCreatedAt,
	"updatedAt":   domain.OrderSortUpdatedAt,
	"totalAmount": domain.OrderSortTotalAmount,
	"orderNumber": domain.OrderSortOrderNumber,
}

// OrderHandlers exposes the order lifecycle and query endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	queries services.OrderQueryService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, queries services.OrderQueryService) *OrderHandlers {
	return &OrderHandlers{
		orders:  orders,
		queries: queries,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/statistics", h.statistics)
	r.Get("/number/{orderNumber}", h.getOrderByNumber)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/status", h.transitionStatus)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Patch("/{orderID}/confirm-payment", h.confirmPayment)
}

type createOrderItemRequest struct {
	ProductID string            `json:"productId"`
	Quantity  int               `json:"quantity"`
	Variant   map[string]string `json:"variant,omitempty"`
}

type createOrderRequest struct {
	UserID            string                   `json:"userId"`
	ShippingAddressID string                   `json:"shippingAddressId"`
	Items             []createOrderItemRequest `json:"orderItems"`
	ShippingMethod    string                   `json:"shippingMethod"`
	CustomerNotes     string                   `json:"customerNotes"`
	PaymentConfirmed  bool                     `json:"paymentConfirmed"`
	Metadata          map[string]any           `json:"metadata,omitempty"`
}

type transitionStatusRequest struct {
	NewStatus         string `json:"newStatus"`
	Comment           string `json:"comment"`
	IsCustomerVisible *bool  `json:"isCustomerVisible"`
}

type cancelOrderRequest struct {
	Reason            string `json:"reason"`
	IsCustomerVisible *bool  `json:"isCustomerVisible"`
}

type confirmPaymentRequest struct {
	Comment           string `json:"comment"`
	IsCustomerVisible *bool  `json:"isCustomerVisible"`
}

// History entries are shown to customers unless the caller opts out.
func customerVisible(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	actorID := requestctx.Actor(ctx)
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = actorID
	}

	items := make([]services.CreateOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CreateOrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Variant:   item.Variant,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:            userID,
		ShippingAddressID: req.ShippingAddressID,
		Items:             items,
		ShippingMethod:    domain.ShippingMethod(strings.TrimSpace(req.ShippingMethod)),
		CustomerNotes:     req.CustomerNotes,
		PaymentConfirmed:  req.PaymentConfirmed,
		Metadata:          req.Metadata,
		ActorID:           actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, renderOrder(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, ok := parseListFilter(ctx, w, r)
	if !ok {
		return
	}

	page, err := h.queries.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderResponse, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, renderOrder(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"totalItems": page.TotalItems,
		"totalPages": page.TotalPages,
		"page":       page.Page,
		"limit":      page.Limit,
		"hasNext":    page.HasNext,
		"hasPrev":    page.HasPrev,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	order, err := h.queries.GetByID(ctx, orderID, readOptions(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderOrder(order))
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderNumber := chi.URLParam(r, "orderNumber")

	order, err := h.queries.GetByNumber(ctx, orderNumber, readOptions(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderOrder(order))
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req transitionStatusRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.NewStatus) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "newStatus is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		NewStatus:       domain.OrderStatus(strings.TrimSpace(req.NewStatus)),
		Comment:         req.Comment,
		ActorID:         requestctx.Actor(ctx),
		CustomerVisible: customerVisible(req.IsCustomerVisible),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderOrder(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req cancelOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		Reason:          req.Reason,
		ActorID:         requestctx.Actor(ctx),
		CustomerVisible: customerVisible(req.IsCustomerVisible),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderOrder(order))
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Body is optional on payment confirmation.
	var req confirmPaymentRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !decodeBody(ctx, w, r, &req) {
			return
		}
	}

	order, err := h.orders.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		Comment:         req.Comment,
		ActorID:         requestctx.Actor(ctx),
		CustomerVisible: customerVisible(req.IsCustomerVisible),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renderOrder(order))
}

func (h *OrderHandlers) statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.queries.Statistics(ctx, r.URL.Query().Get("userId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"totalOrders":      stats.TotalOrders,
		"pendingOrders":    stats.PendingOrders,
		"deliveredOrders":  stats.DeliveredOrders,
		"cancelledOrders":  stats.CancelledOrders,
		"deliveredRevenue": domain.MoneyString(stats.DeliveredRevenue),
	})
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxOrderBodySize)
	defer body.Close()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON: "+err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func readOptions(r *http.Request) services.OrderReadOptions {
	include, _ := strconv.ParseBool(r.URL.Query().Get("includeHistory"))
	return services.OrderReadOptions{IncludeHistory: include}
}

func parseListFilter(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	query := r.URL.Query()
	filter := services.OrderListFilter{
		UserID:      strings.TrimSpace(query.Get("userId")),
		OrderNumber: strings.TrimSpace(query.Get("orderNumber")),
	}

	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if status := strings.TrimSpace(part); status != "" {
				filter.Status = append(filter.Status, domain.OrderStatus(status))
			}
		}
	}

	if raw := strings.TrimSpace(query.Get("shippingMethod")); raw != "" {
		method := domain.ShippingMethod(raw)
		if !domain.ValidShippingMethod(method) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown shipping method", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		filter.ShippingMethod = method
	}

	if raw := strings.TrimSpace(query.Get("createdAfter")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdAfter must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		filter.CreatedRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("createdBefore")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdBefore must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		filter.CreatedRange.To = &ts
	}

	if raw := strings.TrimSpace(query.Get("minTotal")); raw != "" {
		amount, err := domain.ParseMoney(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "minTotal must be a decimal amount", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		filter.TotalRange.From = &amount
	}
	if raw := strings.TrimSpace(query.Get("maxTotal")); raw != "" {
		amount, err := domain.ParseMoney(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "maxTotal must be a decimal amount", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		filter.TotalRange.To = &amount
	}

	if raw := strings.TrimSpace(query.Get("sortBy")); raw != "" {
		sort, ok := orderSortFields[raw]
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sortBy must be one of createdAt, updatedAt, totalAmount, orderNumber", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		filter.SortBy = sort
	}
	switch strings.TrimSpace(query.Get("sortOrder")) {
	case "":
	case "asc":
		filter.SortOrder = domain.SortAsc
	case "desc":
		filter.SortOrder = domain.SortDesc
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sortOrder must be asc or desc", http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}

	page := 1
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page must be a positive integer", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		page = parsed
	}
	limit := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		if parsed > maxOrderPageSize {
			parsed = maxOrderPageSize
		}
		limit = parsed
	}
	filter.Pagination = domain.Pagination{Page: page, Limit: limit}

	return filter, true
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if ve, ok := services.AsValidationError(err); ok {
		fields := make([]httpx.FieldError, 0, len(ve.Errors))
		for _, fe := range ve.Errors {
			field := httpx.FieldError{Field: fe.Field, Code: fe.Code, Message: fe.Message}
			fields = append(fields, field)
		}
		httpErr := httpx.NewError("validation_failed", "request validation failed", http.StatusBadRequest).WithFieldErrors(fields)
		if details := shortfallDetails(ve); details != nil {
			httpErr = httpErr.WithDetails(details)
		}
		httpx.WriteError(ctx, w, httpErr)
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrAlreadyConfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_already_confirmed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidStatusTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNumberExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_number_unavailable", "could not allocate an order number, retry shortly", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request cancelled or timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

// shortfallDetails exposes requested/available quantities for inventory
// failures so clients can adjust without re-submitting blind.
func shortfallDetails(ve *services.ValidationError) map[string]any {
	var shortages []map[string]any
	for _, fe := range ve.Errors {
		if fe.Code != "insufficient_inventory" {
			continue
		}
		shortages = append(shortages, map[string]any{
			"message":   fe.Message,
			"requested": fe.Requested,
			"available": fe.Available,
		})
	}
	if shortages == nil {
		return nil
	}
	return map[string]any{"inventory": shortages}
}

type orderItemResponse struct {
	ID          string            `json:"id"`
	ProductID   string            `json:"productId"`
	ProductName string            `json:"productName"`
	ProductSlug string            `json:"productSlug,omitempty"`
	WeightGrams int               `json:"weightGrams,omitempty"`
	Quantity    int               `json:"quantity"`
	UnitPrice   string            `json:"unitPrice"`
	TotalPrice  string            `json:"totalPrice"`
	Variant     map[string]string `json:"variant,omitempty"`
}

type orderTotalsResponse struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

type orderHistoryResponse struct {
	ID              string  `json:"id"`
	PreviousStatus  *string `json:"previousStatus"`
	NewStatus       string  `json:"newStatus"`
	Comment         string  `json:"comment,omitempty"`
	ChangedBy       string  `json:"changedBy,omitempty"`
	CustomerVisible bool    `json:"customerVisible"`
	CreatedAt       string  `json:"createdAt"`
}

type orderResponse struct {
	ID                string                 `json:"id"`
	OrderNumber       string                 `json:"orderNumber"`
	UserID            string                 `json:"userId"`
	Status            string                 `json:"status"`
	PaymentConfirmed  bool                   `json:"paymentConfirmed"`
	Totals            orderTotalsResponse    `json:"totals"`
	ShippingMethod    string                 `json:"shippingMethod"`
	ShippingAddressID string                 `json:"shippingAddressId"`
	CustomerNotes     string                 `json:"customerNotes,omitempty"`
	Metadata          map[string]any         `json:"metadata,omitempty"`
	Items             []orderItemResponse    `json:"items"`
	CreatedAt         string                 `json:"createdAt"`
	UpdatedAt         string                 `json:"updatedAt"`
	ConfirmedAt       *string                `json:"confirmedAt,omitempty"`
	ShippedAt         *string                `json:"shippedAt,omitempty"`
	DeliveredAt       *string                `json:"deliveredAt,omitempty"`
	CancelledAt       *string                `json:"cancelledAt,omitempty"`
	CancelReason      *string                `json:"cancelReason,omitempty"`
	History           []orderHistoryResponse `json:"history,omitempty"`
}

func renderOrder(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSlug: item.ProductSlug,
			WeightGrams: item.WeightGrams,
			Quantity:    item.Quantity,
			UnitPrice:   domain.MoneyString(item.UnitPrice),
			TotalPrice:  domain.MoneyString(item.TotalPrice),
			Variant:     item.Variant,
		})
	}

	resp := orderResponse{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		UserID:           order.UserID,
		Status:           string(order.Status),
		PaymentConfirmed: order.PaymentConfirmed,
		Totals: orderTotalsResponse{
			Subtotal: domain.MoneyString(order.Totals.Subtotal),
			Tax:      domain.MoneyString(order.Totals.Tax),
			Shipping: domain.MoneyString(order.Totals.Shipping),
			Total:    domain.MoneyString(order.Totals.Total),
		},
		ShippingMethod:    string(order.ShippingMethod),
		ShippingAddressID: order.ShippingAddressID,
		CustomerNotes:     order.CustomerNotes,
		Metadata:          order.Metadata,
		Items:             items,
		CreatedAt:         order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         order.UpdatedAt.UTC().Format(time.RFC3339),
		ConfirmedAt:       formatOptionalTime(order.ConfirmedAt),
		ShippedAt:         formatOptionalTime(order.ShippedAt),
		DeliveredAt:       formatOptionalTime(order.DeliveredAt),
		CancelledAt:       formatOptionalTime(order.CancelledAt),
		CancelReason:      order.CancelReason,
	}

	for _, entry := range order.History {
		var previous *string
		if entry.PreviousStatus != nil {
			value := string(*entry.PreviousStatus)
			previous = &value
		}
		resp.History = append(resp.History, orderHistoryResponse{
			ID:              entry.ID,
			PreviousStatus:  previous,
			NewStatus:       string(entry.NewStatus),
			Comment:         entry.Comment,
			ChangedBy:       entry.ChangedBy,
			CustomerVisible: entry.CustomerVisible,
			CreatedAt:       entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return resp
}

func formatOptionalTime(ts *time.Time) *string {
	if ts == nil {
		return nil
	}
	value := ts.UTC().Format(time.RFC3339)
	return &value
}
