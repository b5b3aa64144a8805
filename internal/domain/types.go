package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination carries page/limit inputs for list queries. Page starts at 1.
type Pagination struct {
	Page  int
	Limit int
}

// SortOrder determines list ordering direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// OrderSort enumerates sortable order fields.
type OrderSort string

const (
	OrderSortCreatedAt   OrderSort = "createdAt"
	OrderSortUpdatedAt   OrderSort = "updatedAt"
	OrderSortTotalAmount OrderSort = "totalAmount"
	OrderSortOrderNumber OrderSort = "orderNumber"
)

// RangeQuery expresses an inclusive from/to filter over a comparable field.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// Page is the standard paginated result envelope.
type Page[T any] struct {
	Items      []T
	TotalItems int64
	TotalPages int
	Page       int
	Limit      int
	HasNext    bool
	HasPrev    bool
}

// OrderStatus models the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// ShippingMethod selects the shipping-cost table entry for an order.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
	ShippingFree     ShippingMethod = "free_shipping"
)

// ValidShippingMethod reports whether the value is a known shipping method.
func ValidShippingMethod(m ShippingMethod) bool {
	switch m {
	case ShippingStandard, ShippingExpress, ShippingFree:
		return true
	}
	return false
}

// OrderTotals aggregates the monetary breakdown of an order.
// All amounts are fixed-point decimals rounded to 2 places; total is always
// recomputed server-side as subtotal + tax + shipping.
type OrderTotals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Order is the aggregate root for the order/inventory core. Orders are never
// physically deleted; all mutation happens through status transitions and
// payment confirmation.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	Status            OrderStatus
	PaymentConfirmed  bool
	Totals            OrderTotals
	ShippingMethod    ShippingMethod
	ShippingAddressID string
	CustomerNotes     string
	Metadata          map[string]any
	Items             []OrderItem

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time

	CancelReason *string

	// History is populated on demand by read paths that request it.
	History []OrderStatusHistory
}

// OrderItem is an order line with the product attributes frozen at order
// time. The snapshot must not follow later product edits.
type OrderItem struct {
	ID          string
	ProductID   string
	ProductName string
	ProductSlug string
	WeightGrams int
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Variant     map[string]string
}

// OrderStatusHistory is an append-only audit record of one status
// transition. The creation entry has PreviousStatus == nil.
type OrderStatusHistory struct {
	ID              string
	OrderID         string
	PreviousStatus  *OrderStatus
	NewStatus       OrderStatus
	Comment         string
	ChangedBy       string
	CustomerVisible bool
	CreatedAt       time.Time
}

// ProductStatus mirrors the catalog's activity flag.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusArchived ProductStatus = "archived"
)

// Product is the inventory-relevant projection of a catalog product. The
// catalog owns every field except StockQuantity, which this core mutates
// transactionally.
type Product struct {
	ID             string
	Name           string
	Slug           string
	Price          decimal.Decimal
	WeightGrams    int
	StockQuantity  int
	AllowBackorder bool
	Status         ProductStatus
	UpdatedAt      time.Time
}

// Active reports whether the product can be ordered.
func (p Product) Active() bool {
	return p.Status == ProductStatusActive
}

// UserProfile is the external user projection consumed for validation.
type UserProfile struct {
	ID          string
	Email       string
	DisplayName string
	IsActive    bool
}

// Address is the external shipping-address projection; the core only checks
// existence and ownership.
type Address struct {
	ID         string
	UserID     string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// CartItem is one line of the user's cart, consumed when an order is placed.
type CartItem struct {
	ProductID string
	Quantity  int
	Variant   map[string]string
}

// Cart is the external cart projection; cleared inside the order-creation
// transaction.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// OrderStatistics aggregates order counts and delivered revenue, optionally
// scoped to one user.
type OrderStatistics struct {
	TotalOrders      int64
	PendingOrders    int64
	DeliveredOrders  int64
	CancelledOrders  int64
	DeliveredRevenue decimal.Decimal
}
