package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/platform/observability"
	"github.com/shopforge/api/internal/repositories"
)

const (
	orderEventCreated          = "order.created"
	orderEventStatusChanged    = "order.status.changed"
	orderEventPaymentConfirmed = "order.payment.confirmed"

	orderIDPrefix   = "ord_"
	historyIDPrefix = "hst_"
	eventIDPrefix   = "evt_"

	maxCancelReasonChars = 500
)

// orderStateTransitions is the strict transition whitelist. Any requested
// transition absent from the table fails, including self-transitions.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusReturned},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned, domain.OrderStatusRefunded},
	domain.OrderStatusCancelled:  {domain.OrderStatusRefunded},
	domain.OrderStatusReturned:   {domain.OrderStatusRefunded},
	domain.OrderStatusRefunded:   {},
}

// restoringStatuses are the destinations that hand stock back. A transition
// releases inventory only when it enters this set from outside it, so an
// order passing through several restoring states releases exactly once.
var restoringStatuses = []domain.OrderStatus{
	domain.OrderStatusCancelled,
	domain.OrderStatusReturned,
	domain.OrderStatusRefunded,
}

// OrderServiceDeps bundles the collaborators required to construct an order
// service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	History    repositories.OrderHistoryRepository
	Carts      repositories.CartRepository
	UnitOfWork repositories.UnitOfWork
	Validator  OrderValidator
	Pricing    PricingCalculator
	Inventory  InventoryService
	Numbers    OrderNumberGenerator
	Events     OrderEventPublisher
	Clock      func() time.Time
	// Tax and Shipping recompute totals from the frozen in-transaction
	// snapshots; they default to the same flat formulas the calculator uses.
	Tax         TaxFunc
	Shipping    ShippingFunc
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	history    repositories.OrderHistoryRepository
	carts      repositories.CartRepository
	unitOfWork repositories.UnitOfWork
	validator  OrderValidator
	pricing    PricingCalculator
	inventory  InventoryService
	numbers    OrderNumberGenerator
	events     OrderEventPublisher
	clock      func() time.Time
	tax        TaxFunc
	shipping   ShippingFunc
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService
// implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("order service: history repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("order service: validator is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing calculator is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number generator is required")
	}

	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	tax := deps.Tax
	if tax == nil {
		tax = FlatTax(defaultTaxRate)
	}
	shipping := deps.Shipping
	if shipping == nil {
		shipping = TableShipping
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		history:    deps.History,
		carts:      deps.Carts,
		unitOfWork: uow,
		validator:  deps.Validator,
		pricing:    deps.Pricing,
		inventory:  deps.Inventory,
		numbers:    deps.Numbers,
		events:     deps.Events,
		clock:      sharedClock(deps.Clock),
		tax:        tax,
		shipping:   shipping,
		newID:      idGen,
		logger:     logger,
	}, nil
}

// CreateOrder runs the full creation sequence: pre-flight validation,
// pricing, number generation, then one transaction that reserves stock,
// freezes item snapshots, writes the order with its creation history entry,
// and clears the cart. Any in-transaction failure leaves nothing behind.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := s.validator.Validate(ctx, cmd); err != nil {
		return Order{}, err
	}

	method := cmd.ShippingMethod
	if method == "" {
		method = domain.ShippingStandard
	}

	items := make([]PricingItem, 0, len(cmd.Items))
	lines := make([]InventoryLine, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, PricingItem{ProductID: item.ProductID, Quantity: item.Quantity})
		lines = append(lines, InventoryLine{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity})
	}

	// Pre-flight pricing catches method errors early; the committed totals
	// are recomputed below from the snapshots frozen under lock.
	if _, err := s.pricing.Calculate(ctx, items, method); err != nil {
		return Order{}, err
	}

	orderNumber, err := s.numbers.Generate(ctx)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	status := domain.OrderStatusPending
	var confirmedAt *time.Time
	if cmd.PaymentConfirmed {
		status = domain.OrderStatusConfirmed
		confirmedAt = &now
	}

	order := Order{
		ID:                orderIDPrefix + s.newID(),
		OrderNumber:       orderNumber,
		UserID:            strings.TrimSpace(cmd.UserID),
		Status:            status,
		PaymentConfirmed:  cmd.PaymentConfirmed,
		ShippingMethod:    method,
		ShippingAddressID: strings.TrimSpace(cmd.ShippingAddressID),
		CustomerNotes:     strings.TrimSpace(cmd.CustomerNotes),
		Metadata:          cmd.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
		ConfirmedAt:       confirmedAt,
	}

	err = s.runInTx(ctx, "OrderService.CreateOrder", []attribute.KeyValue{
		attribute.String("order.id", order.ID),
		attribute.String("order.number", order.OrderNumber),
	}, func(txCtx context.Context) error {
		products, err := s.inventory.Reserve(txCtx, lines)
		if err != nil {
			return s.mapInventoryError(err)
		}

		order.Items = buildOrderItems(cmd.Items, products, s.newID)
		order.Totals = s.computeTotals(order.Items, method)

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.history.Append(txCtx, s.historyEntry(order.ID, nil, order.Status, "Order created", cmd.ActorID, true, now)); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.carts.Clear(txCtx, order.UserID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventID:     eventIDPrefix + s.newID(),
		Type:        orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		NewStatus:   string(order.Status),
		OccurredAt:  now,
	})

	return order, nil
}

// TransitionStatus applies one whitelisted state-machine step, appends the
// history entry, and releases inventory when the step enters a restoring
// status from outside the restoring set.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.NewStatus
	if !knownOrderStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}

	now := s.now()
	var order Order
	var previous domain.OrderStatus

	// The order is read and the whitelist checked inside the transaction,
	// so two concurrent transitions into a restoring status cannot both
	// pass the check and release stock twice.
	err := s.runInTx(ctx, "OrderService.TransitionStatus", []attribute.KeyValue{
		attribute.String("order.id", orderID),
		attribute.String("order.status.to", string(target)),
	}, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !canTransition(loaded.Status, target) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, loaded.Status, target)
		}
		order = loaded
		previous = loaded.Status

		if releasesInventory(previous, target) && len(order.Items) > 0 {
			if err := s.inventory.Release(txCtx, releaseLines(order.Items)); err != nil {
				return s.mapInventoryError(err)
			}
		}

		order.Status = target
		order.UpdatedAt = now
		applyStatusTimestamp(&order, target, now)
		if target == domain.OrderStatusCancelled && strings.TrimSpace(cmd.Comment) != "" {
			reason := strings.TrimSpace(cmd.Comment)
			order.CancelReason = &reason
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.mapRepositoryError(s.history.Append(txCtx,
			s.historyEntry(order.ID, &previous, target, cmd.Comment, cmd.ActorID, cmd.CustomerVisible, now)))
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventID:        eventIDPrefix + s.newID(),
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		NewStatus:      string(target),
		OccurredAt:     now,
	})

	return order, nil
}

// ConfirmPayment sets the payment flag exactly once. When the order is
// still pending it also advances to confirmed, recorded as a single
// history entry.
func (s *orderService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var order Order
	var previous domain.OrderStatus
	var advances bool

	// Read inside the transaction keeps the confirmation idempotent under
	// concurrent requests.
	err := s.runInTx(ctx, "OrderService.ConfirmPayment", []attribute.KeyValue{
		attribute.String("order.id", orderID),
	}, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if loaded.PaymentConfirmed {
			return fmt.Errorf("%w: order %s", ErrAlreadyConfirmed, orderID)
		}
		order = loaded
		previous = loaded.Status
		advances = loaded.Status == domain.OrderStatusPending

		order.PaymentConfirmed = true
		order.UpdatedAt = now
		if advances {
			order.Status = domain.OrderStatusConfirmed
			applyStatusTimestamp(&order, domain.OrderStatusConfirmed, now)
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if advances {
			comment := strings.TrimSpace(cmd.Comment)
			if comment == "" {
				comment = "Payment confirmed"
			}
			return s.mapRepositoryError(s.history.Append(txCtx,
				s.historyEntry(order.ID, &previous, domain.OrderStatusConfirmed, comment, cmd.ActorID, cmd.CustomerVisible, now)))
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	event := OrderEventMessage{
		EventID:     eventIDPrefix + s.newID(),
		Type:        orderEventPaymentConfirmed,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		NewStatus:   string(order.Status),
		OccurredAt:  now,
	}
	if advances {
		event.PreviousStatus = string(previous)
	}
	s.publishEvent(ctx, event)

	return order, nil
}

// Cancel is a convenience wrapper over the generic transition requiring a
// non-empty reason.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}
	if len(reason) > maxCancelReasonChars {
		return Order{}, fmt.Errorf("%w: cancellation reason must be at most %d characters", ErrOrderInvalidInput, maxCancelReasonChars)
	}
	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:         cmd.OrderID,
		NewStatus:       domain.OrderStatusCancelled,
		Comment:         reason,
		ActorID:         cmd.ActorID,
		CustomerVisible: cmd.CustomerVisible,
	})
}

func (s *orderService) computeTotals(items []OrderItem, method ShippingMethod) OrderTotals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	subtotal = domain.RoundMoney(subtotal)
	tax := domain.RoundMoney(s.tax(subtotal))
	shipping := domain.RoundMoney(s.shipping(subtotal, method))
	return OrderTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    domain.RoundMoney(subtotal.Add(tax).Add(shipping)),
	}
}

func (s *orderService) historyEntry(orderID string, previous *domain.OrderStatus, next domain.OrderStatus, comment, actor string, visible bool, now time.Time) domain.OrderStatusHistory {
	return domain.OrderStatusHistory{
		ID:              historyIDPrefix + s.newID(),
		OrderID:         orderID,
		PreviousStatus:  previous,
		NewStatus:       next,
		Comment:         strings.TrimSpace(comment),
		ChangedBy:       strings.TrimSpace(actor),
		CustomerVisible: visible,
		CreatedAt:       now,
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

// mapInventoryError converts ledger failures into the field-scoped
// validation shape callers surface to clients.
func (s *orderService) mapInventoryError(err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		field := FieldError{
			Field:     "orderItems",
			Code:      string(invErr.Code),
			Message:   invErr.Message,
			Requested: invErr.Requested,
			Available: invErr.Available,
		}
		return NewValidationError([]FieldError{field})
	}
	return err
}

// runInTx wraps the unit of work in a tracer span so order mutations show
// up as children of the request span.
func (s *orderService) runInTx(ctx context.Context, spanName string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := observability.Tracer().Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attrs...)

	if err := s.unitOfWork.RunInTx(ctx, fn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, message OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   message.Type,
			"order":  message.OrderID,
			"error":  err.Error(),
			"status": message.NewStatus,
		})
	}
}

// buildOrderItems freezes name, slug, weight, and price from the product
// projections read under lock. The snapshot must not follow later catalog
// edits.
func buildOrderItems(requested []CreateOrderItem, products map[string]Product, newID func() string) []OrderItem {
	items := make([]OrderItem, 0, len(requested))
	for _, req := range requested {
		productID := strings.TrimSpace(req.ProductID)
		product := products[productID]
		unitPrice := domain.RoundMoney(product.Price)
		items = append(items, OrderItem{
			ID:          "itm_" + newID(),
			ProductID:   productID,
			ProductName: product.Name,
			ProductSlug: product.Slug,
			WeightGrams: product.WeightGrams,
			Quantity:    req.Quantity,
			UnitPrice:   unitPrice,
			TotalPrice:  LinePrice(unitPrice, req.Quantity),
			Variant:     req.Variant,
		})
	}
	return items
}

func releaseLines(items []OrderItem) []InventoryLine {
	lines := make([]InventoryLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, InventoryLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func applyStatusTimestamp(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func releasesInventory(from, to domain.OrderStatus) bool {
	return slices.Contains(restoringStatuses, to) && !slices.Contains(restoringStatuses, from)
}

func knownOrderStatus(status domain.OrderStatus) bool {
	if _, ok := orderStateTransitions[status]; ok {
		return true
	}
	return false
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
