package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shopforge/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for
// dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderHistory() OrderHistoryRepository
	Products() ProductRepository
	Users() UserRepository
	Addresses() AddressRepository
	Carts() CartRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation
// used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transactional boundary.
// Repositories participate when the transaction handle is present on the
// context passed to the callback.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides read-side queries.
// Insert and Update participate in a surrounding unit of work.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	NumberExists(ctx context.Context, orderNumber string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	Statistics(ctx context.Context, userID string) (domain.OrderStatistics, error)
}

// OrderHistoryRepository stores the append-only status-history trail.
// Append participates in a surrounding unit of work.
type OrderHistoryRepository interface {
	Append(ctx context.Context, entry domain.OrderStatusHistory) error
	List(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)
}

// ProductRepository reads catalog product projections and mutates stock.
//
// MutateStocks is the row-lock primitive: inside one transaction it reads
// every named product, applies fn to each loaded projection, and writes the
// stock quantities back, so the lock scope exactly brackets the
// read-modify-write. All reads precede all writes (Firestore transactions
// forbid reading after a buffered write). When the context already carries
// a transaction the mutation joins it; otherwise a standalone transaction
// is opened.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	MutateStocks(ctx context.Context, productIDs []string, now time.Time, fn func(product *domain.Product) error) (map[string]domain.Product, error)
}

// UserRepository is the external user-profile projection consumed for
// referential checks.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
}

// AddressRepository verifies shipping-address existence and ownership.
type AddressRepository interface {
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// CartRepository exposes the collaborator cart operations the core calls
// into. Clear participates in a surrounding unit of work.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

// OrderListFilter narrows and orders the read-side order listing.
type OrderListFilter struct {
	UserID         string
	Status         []domain.OrderStatus
	OrderNumber    string
	ShippingMethod domain.ShippingMethod
	CreatedRange   domain.RangeQuery[time.Time]
	TotalRange     domain.RangeQuery[decimal.Decimal]
	SortBy         domain.OrderSort
	SortOrder      domain.SortOrder
	Pagination     domain.Pagination
}
