package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/shopforge/api/internal/domain"
	pfirestore "github.com/shopforge/api/internal/platform/firestore"
	"github.com/shopforge/api/internal/repositories"
)

const (
	orderCollection       = "orders"
	orderNumberCollection = "orderNumbers"

	defaultListLimit = 20
	maxListLimit     = 100
)

// OrderRepository persists order aggregates. Order numbers are additionally
// claimed in a dedicated collection so uniqueness is enforced by document
// identity rather than by query.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	numbers  *pfirestore.BaseRepository[orderNumberClaim]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil),
		numbers:  pfirestore.NewBaseRepository[orderNumberClaim](provider, orderNumberCollection, nil),
	}, nil
}

// Insert creates the order document together with its order-number claim.
// Both creates join the transaction carried by the context, so a duplicate
// number aborts the whole unit of work with a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("order repository: order number is required")
	}

	doc := newOrderDocument(order)
	if err := r.orders.Create(ctx, order.ID, doc); err != nil {
		return err
	}
	claim := orderNumberClaim{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}
	return r.numbers.Create(ctx, order.OrderNumber, claim)
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.orders.Set(ctx, order.ID, newOrderDocument(order))
}

// FindByID loads one order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// FindByNumber resolves the claim document and loads the referenced order.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}
	claim, err := r.numbers.Get(ctx, orderNumber)
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, claim.Data.OrderID)
}

// NumberExists reports whether the order number has been claimed.
func (r *OrderRepository) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return false, errors.New("order repository: order number is required")
	}
	_, err := r.numbers.Get(ctx, orderNumber)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns a filtered, sorted page of orders together with total counts.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	page := filter.Pagination.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Pagination.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	narrow := orderFilterBuilder(filter)

	total, err := r.orders.Count(ctx, narrow)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		query = narrow(query)
		query = applyOrderSort(query, filter.SortBy, filter.SortOrder)
		return query.Offset((page - 1) * limit).Limit(limit)
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		items = append(items, order)
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}

	return domain.Page[domain.Order]{
		Items:      items,
		TotalItems: total,
		TotalPages: totalPages,
		Page:       page,
		Limit:      limit,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}, nil
}

// Statistics aggregates order counts per status and revenue over delivered
// orders, optionally scoped to one user. Counting and summing run server
// side over the minor-unit total mirror.
func (r *OrderRepository) Statistics(ctx context.Context, userID string) (domain.OrderStatistics, error) {
	scope := func(query firestore.Query) firestore.Query {
		if strings.TrimSpace(userID) != "" {
			query = query.Where("userId", "==", strings.TrimSpace(userID))
		}
		return query
	}
	statusScope := func(status domain.OrderStatus) pfirestore.QueryBuilder {
		return func(query firestore.Query) firestore.Query {
			return scope(query).Where("status", "==", string(status))
		}
	}

	stats := domain.OrderStatistics{DeliveredRevenue: decimal.Zero}

	var err error
	if stats.TotalOrders, err = r.orders.Count(ctx, scope); err != nil {
		return domain.OrderStatistics{}, err
	}
	if stats.PendingOrders, err = r.orders.Count(ctx, statusScope(domain.OrderStatusPending)); err != nil {
		return domain.OrderStatistics{}, err
	}
	if stats.DeliveredOrders, err = r.orders.Count(ctx, statusScope(domain.OrderStatusDelivered)); err != nil {
		return domain.OrderStatistics{}, err
	}
	if stats.CancelledOrders, err = r.orders.Count(ctx, statusScope(domain.OrderStatusCancelled)); err != nil {
		return domain.OrderStatistics{}, err
	}

	coll, err := r.orders.CollectionRef(ctx)
	if err != nil {
		return domain.OrderStatistics{}, err
	}
	query := statusScope(domain.OrderStatusDelivered)(coll.Query)
	result, err := query.NewAggregationQuery().WithSum("totalMinor", "revenue").Get(ctx)
	if err != nil {
		return domain.OrderStatistics{}, pfirestore.WrapError("orders.statistics", err)
	}
	if value, ok := result["revenue"]; ok {
		minor, err := pfirestore.AggregationInt(value)
		if err != nil {
			return domain.OrderStatistics{}, err
		}
		stats.DeliveredRevenue = domain.FromMinorUnits(minor)
	}

	return stats, nil
}

func orderFilterBuilder(filter repositories.OrderListFilter) pfirestore.QueryBuilder {
	return func(query firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			query = query.Where("userId", "==", userID)
		}
		if number := strings.TrimSpace(filter.OrderNumber); number != "" {
			query = query.Where("orderNumber", "==", number)
		}
		if len(filter.Status) == 1 {
			query = query.Where("status", "==", string(filter.Status[0]))
		} else if len(filter.Status) > 1 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			query = query.Where("status", "in", statuses)
		}
		if filter.ShippingMethod != "" {
			query = query.Where("shippingMethod", "==", string(filter.ShippingMethod))
		}
		if filter.CreatedRange.From != nil {
			query = query.Where("createdAt", ">=", filter.CreatedRange.From.UTC())
		}
		if filter.CreatedRange.To != nil {
			query = query.Where("createdAt", "<=", filter.CreatedRange.To.UTC())
		}
		if filter.TotalRange.From != nil {
			query = query.Where("totalMinor", ">=", domain.MinorUnits(*filter.TotalRange.From))
		}
		if filter.TotalRange.To != nil {
			query = query.Where("totalMinor", "<=", domain.MinorUnits(*filter.TotalRange.To))
		}
		return query
	}
}

func applyOrderSort(query firestore.Query, sortBy domain.OrderSort, order domain.SortOrder) firestore.Query {
	field := "createdAt"
	switch sortBy {
	case domain.OrderSortUpdatedAt:
		field = "updatedAt"
	case domain.OrderSortTotalAmount:
		field = "totalMinor"
	case domain.OrderSortOrderNumber:
		field = "orderNumber"
	}
	direction := firestore.Desc
	if order == domain.SortAsc {
		direction = firestore.Asc
	}
	return query.OrderBy(field, direction).OrderBy(firestore.DocumentID, direction)
}

type orderNumberClaim struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderNumber       string              `firestore:"orderNumber"`
	UserID            string              `firestore:"userId"`
	Status            string              `firestore:"status"`
	PaymentConfirmed  bool                `firestore:"paymentConfirmed"`
	Subtotal          string              `firestore:"subtotal"`
	Tax               string              `firestore:"tax"`
	Shipping          string              `firestore:"shipping"`
	Total             string              `firestore:"total"`
	TotalMinor        int64               `firestore:"totalMinor"`
	ShippingMethod    string              `firestore:"shippingMethod"`
	ShippingAddressID string              `firestore:"shippingAddressId"`
	CustomerNotes     string              `firestore:"customerNotes,omitempty"`
	Metadata          map[string]any      `firestore:"metadata,omitempty"`
	Items             []orderItemDocument `firestore:"items"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	ConfirmedAt       *time.Time          `firestore:"confirmedAt,omitempty"`
	ShippedAt         *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason      *string             `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ID          string            `firestore:"id"`
	ProductID   string            `firestore:"productId"`
	ProductName string            `firestore:"productName"`
	ProductSlug string            `firestore:"productSlug"`
	WeightGrams int               `firestore:"weightGrams"`
	Quantity    int               `firestore:"quantity"`
	UnitPrice   string            `firestore:"unitPrice"`
	TotalPrice  string            `firestore:"totalPrice"`
	Variant     map[string]string `firestore:"variant,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
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

	return orderDocument{
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Status:            string(order.Status),
		PaymentConfirmed:  order.PaymentConfirmed,
		Subtotal:          domain.MoneyString(order.Totals.Subtotal),
		Tax:               domain.MoneyString(order.Totals.Tax),
		Shipping:          domain.MoneyString(order.Totals.Shipping),
		Total:             domain.MoneyString(order.Totals.Total),
		TotalMinor:        domain.MinorUnits(order.Totals.Total),
		ShippingMethod:    string(order.ShippingMethod),
		ShippingAddressID: order.ShippingAddressID,
		CustomerNotes:     order.CustomerNotes,
		Metadata:          order.Metadata,
		Items:             items,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		ConfirmedAt:       utcOrNil(order.ConfirmedAt),
		ShippedAt:         utcOrNil(order.ShippedAt),
		DeliveredAt:       utcOrNil(order.DeliveredAt),
		CancelledAt:       utcOrNil(order.CancelledAt),
		CancelReason:      order.CancelReason,
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	totals := domain.OrderTotals{}
	var err error
	if totals.Subtotal, err = domain.ParseMoney(d.Subtotal); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: subtotal: %w", id, err)
	}
	if totals.Tax, err = domain.ParseMoney(d.Tax); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: tax: %w", id, err)
	}
	if totals.Shipping, err = domain.ParseMoney(d.Shipping); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: shipping: %w", id, err)
	}
	if totals.Total, err = domain.ParseMoney(d.Total); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: total: %w", id, err)
	}

	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		unitPrice, err := domain.ParseMoney(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s: item %s unit price: %w", id, item.ID, err)
		}
		totalPrice, err := domain.ParseMoney(item.TotalPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s: item %s total price: %w", id, item.ID, err)
		}
		items = append(items, domain.OrderItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSlug: item.ProductSlug,
			WeightGrams: item.WeightGrams,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			TotalPrice:  totalPrice,
			Variant:     item.Variant,
		})
	}

	return domain.Order{
		ID:                id,
		OrderNumber:       d.OrderNumber,
		UserID:            d.UserID,
		Status:            domain.OrderStatus(d.Status),
		PaymentConfirmed:  d.PaymentConfirmed,
		Totals:            totals,
		ShippingMethod:    domain.ShippingMethod(d.ShippingMethod),
		ShippingAddressID: d.ShippingAddressID,
		CustomerNotes:     d.CustomerNotes,
		Metadata:          d.Metadata,
		Items:             items,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		ConfirmedAt:       d.ConfirmedAt,
		ShippedAt:         d.ShippedAt,
		DeliveredAt:       d.DeliveredAt,
		CancelledAt:       d.CancelledAt,
		CancelReason:      d.CancelReason,
	}, nil
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
