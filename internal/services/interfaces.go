package services

import (
	"context"
	"time"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/repositories"
)

// Type aliases expose domain models to the services package without
// reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderTotals        = domain.OrderTotals
	OrderStatusHistory = domain.OrderStatusHistory
	OrderStatistics    = domain.OrderStatistics
	ShippingMethod     = domain.ShippingMethod
	Product            = domain.Product
	Cart               = domain.Cart
	CartItem           = domain.CartItem

	// OrderListFilter is shared verbatim with the repository layer; the
	// service applies no additional narrowing of its own.
	OrderListFilter = repositories.OrderListFilter
)

// InventoryService is the stock ledger. Reserve and Release mutate product
// stock rows under the row lock of the surrounding transaction; both are
// intended to run inside a unit of work started by the caller.
type InventoryService interface {
	Reserve(ctx context.Context, lines []InventoryLine) (map[string]Product, error)
	Release(ctx context.Context, lines []InventoryLine) error
	CheckAvailability(ctx context.Context, lines []InventoryLine) ([]InventoryShortfall, error)
}

// InventoryLine names one product and the quantity to reserve or release.
type InventoryLine struct {
	ProductID string
	Quantity  int
}

// InventoryShortfall describes one product that cannot satisfy a requested
// quantity during a pre-flight availability check.
type InventoryShortfall struct {
	ProductID string
	Reason    string
	Requested int
	Available int
}

// PricingCalculator computes order totals from line items and a shipping
// method. Tax and shipping stay swappable pure functions so a real engine
// can replace them without touching order creation.
type PricingCalculator interface {
	Calculate(ctx context.Context, items []PricingItem, method ShippingMethod) (PricingResult, error)
}

// PricingItem names one product and quantity to price.
type PricingItem struct {
	ProductID string
	Quantity  int
}

// PricingResult carries the computed totals plus the product projections
// used, so callers can freeze item snapshots from the same lookup.
type PricingResult struct {
	Totals   OrderTotals
	Products map[string]Product
}

// OrderNumberGenerator produces globally unique human-readable order
// numbers with a bounded collision-retry budget.
type OrderNumberGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// OrderValidator runs the pre-flight checks for order creation and returns
// every violation at once as field-scoped errors.
type OrderValidator interface {
	Validate(ctx context.Context, cmd CreateOrderCommand) error
}

// OrderService owns the order lifecycle: creation, status transitions,
// payment confirmation, and cancellation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// OrderQueryService is the read side: single-order fetches, filtered
// listings, and aggregate statistics. It never locks rows.
type OrderQueryService interface {
	GetByID(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	GetByNumber(ctx context.Context, orderNumber string, opts OrderReadOptions) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	Statistics(ctx context.Context, userID string) (OrderStatistics, error)
}

// OrderReadOptions toggles optional relation loading on single-order reads.
type OrderReadOptions struct {
	IncludeHistory bool
}

// OrderEventPublisher publishes order domain events for downstream
// consumers. Returns the broker-assigned message ID.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// OrderEventMessage is the wire payload for order lifecycle events.
type OrderEventMessage struct {
	EventID        string    `json:"eventId"`
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	UserID         string    `json:"userId"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	NewStatus      string    `json:"newStatus"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// CreateOrderCommand carries everything order creation needs. Totals are
// always recomputed server-side; client-supplied amounts are ignored.
type CreateOrderCommand struct {
	UserID            string
	ShippingAddressID string
	Items             []CreateOrderItem
	ShippingMethod    ShippingMethod
	CustomerNotes     string
	PaymentConfirmed  bool
	Metadata          map[string]any
	ActorID           string
}

// CreateOrderItem is one requested order line.
type CreateOrderItem struct {
	ProductID string
	Quantity  int
	Variant   map[string]string
}

// OrderStatusTransitionCommand requests one state-machine transition.
type OrderStatusTransitionCommand struct {
	OrderID         string
	NewStatus       OrderStatus
	Comment         string
	ActorID         string
	CustomerVisible bool
}

// ConfirmPaymentCommand marks an order's payment as confirmed.
type ConfirmPaymentCommand struct {
	OrderID         string
	Comment         string
	ActorID         string
	CustomerVisible bool
}

// CancelOrderCommand cancels an order with a mandatory reason.
type CancelOrderCommand struct {
	OrderID         string
	Reason          string
	ActorID         string
	CustomerVisible bool
}
