package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/shopforge/api/internal/platform/firestore"
	"github.com/shopforge/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract. All repositories share one provider so
// reads and writes issued inside RunInTx join the same transaction.
type Registry struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork

	orders    *OrderRepository
	history   *OrderHistoryRepository
	products  *ProductRepository
	users     *UserRepository
	addresses *AddressRepository
	carts     *CartRepository
}

// NewRegistry constructs the registry and its repositories.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	uow, err := pfirestore.NewUnitOfWork(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	history, err := NewOrderHistoryRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		uow:       uow,
		orders:    orders,
		history:   history,
		products:  products,
		users:     users,
		addresses: addresses,
		carts:     carts,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// OrderHistory returns the status-history repository.
func (r *Registry) OrderHistory() repositories.OrderHistoryRepository { return r.history }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Users returns the user-profile repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Addresses returns the address repository.
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// RunInTx executes fn inside one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.uow == nil {
		return errors.New("registry not initialised")
	}
	return r.uow.RunInTx(ctx, fn)
}

var _ repositories.Registry = (*Registry)(nil)
