package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/repositories"
)

// repoError is a minimal repositories.RepositoryError for tests.
type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string       { return e.msg }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(msg string) error { return repoError{msg: msg, notFound: true} }
func conflictErr(msg string) error { return repoError{msg: msg, conflict: true} }

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	updateFn       func(context.Context, domain.Order) error
	findFn         func(context.Context, string) (domain.Order, error)
	findByNumberFn func(context.Context, string) (domain.Order, error)
	numberExistsFn func(context.Context, string) (bool, error)
	listFn         func(context.Context, repositories.OrderListFilter) (domain.Page[domain.Order], error)
	statisticsFn   func(context.Context, string) (domain.OrderStatistics, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, notFoundErr("order " + orderID + " not found")
}

func (s *stubOrderRepo) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findByNumberFn != nil {
		return s.findByNumberFn(ctx, orderNumber)
	}
	return domain.Order{}, notFoundErr("order " + orderNumber + " not found")
}

func (s *stubOrderRepo) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	if s.numberExistsFn != nil {
		return s.numberExistsFn(ctx, orderNumber)
	}
	return false, nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[domain.Order]{}, nil
}

func (s *stubOrderRepo) Statistics(ctx context.Context, userID string) (domain.OrderStatistics, error) {
	if s.statisticsFn != nil {
		return s.statisticsFn(ctx, userID)
	}
	return domain.OrderStatistics{}, nil
}

type stubHistoryRepo struct {
	appendFn func(context.Context, domain.OrderStatusHistory) error
	listFn   func(context.Context, string) ([]domain.OrderStatusHistory, error)
}

func (s *stubHistoryRepo) Append(ctx context.Context, entry domain.OrderStatusHistory) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, entry)
	}
	return nil
}

func (s *stubHistoryRepo) List(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

type stubCartRepo struct {
	getFn   func(context.Context, string) (domain.Cart, error)
	clearFn func(context.Context, string) error
}

func (s *stubCartRepo) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Cart{UserID: userID}, nil
}

func (s *stubCartRepo) Clear(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return nil
}

type stubUserRepo struct {
	findFn func(context.Context, string) (domain.UserProfile, error)
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if s.findFn != nil {
		return s.findFn(ctx, userID)
	}
	return domain.UserProfile{ID: userID, IsActive: true}, nil
}

type stubAddressRepo struct {
	getFn func(context.Context, string, string) (domain.Address, error)
}

func (s *stubAddressRepo) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, addressID)
	}
	return domain.Address{ID: addressID, UserID: userID}, nil
}

type stubInventory struct {
	reserveFn func(context.Context, []InventoryLine) (map[string]Product, error)
	releaseFn func(context.Context, []InventoryLine) error
	checkFn   func(context.Context, []InventoryLine) ([]InventoryShortfall, error)
}

func (s *stubInventory) Reserve(ctx context.Context, lines []InventoryLine) (map[string]Product, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, lines)
	}
	return map[string]Product{}, nil
}

func (s *stubInventory) Release(ctx context.Context, lines []InventoryLine) error {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, lines)
	}
	return nil
}

func (s *stubInventory) CheckAvailability(ctx context.Context, lines []InventoryLine) ([]InventoryShortfall, error) {
	if s.checkFn != nil {
		return s.checkFn(ctx, lines)
	}
	return nil, nil
}

type stubPublisher struct {
	mu       sync.Mutex
	messages []OrderEventMessage
	err      error
}

func (s *stubPublisher) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.messages = append(s.messages, message)
	return fmt.Sprintf("msg-%d", len(s.messages)), nil
}

func (s *stubPublisher) published() []OrderEventMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderEventMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// countingUnitOfWork runs callbacks inline and records how many
// transactions were opened.
type countingUnitOfWork struct {
	calls  int
	err    error
	before func()
}

func (u *countingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.calls++
	if u.err != nil {
		return u.err
	}
	if u.before != nil {
		u.before()
	}
	return fn(ctx)
}

// memoryProductStore is a mutex-guarded in-memory ProductRepository whose
// MutateStocks behaves like the transactional implementation: all-or-
// nothing, serialised, missing products rejected.
type memoryProductStore struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func newMemoryProductStore(products ...domain.Product) *memoryProductStore {
	store := &memoryProductStore{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		store.products[p.ID] = p
	}
	return store
}

func (s *memoryProductStore) FindByID(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, notFoundErr("product " + productID + " not found")
	}
	return product, nil
}

func (s *memoryProductStore) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (s *memoryProductStore) MutateStocks(_ context.Context, productIDs []string, now time.Time, fn func(*domain.Product) error) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		product, ok := s.products[id]
		if !ok {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, id, "product "+id+" not found", nil)
		}
		staged = append(staged, product)
	}
	for i := range staged {
		if err := fn(&staged[i]); err != nil {
			return nil, err
		}
	}

	out := make(map[string]domain.Product, len(staged))
	for _, product := range staged {
		product.UpdatedAt = now
		s.products[product.ID] = product
		out[product.ID] = product
	}
	return out, nil
}

func (s *memoryProductStore) stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].StockQuantity
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func activeProduct(id, name, price string, stock int) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          name,
		Slug:          id,
		Price:         mustMoney(price),
		StockQuantity: stock,
		Status:        domain.ProductStatusActive,
	}
}

func mustMoney(value string) decimal.Decimal {
	d, err := domain.ParseMoney(value)
	if err != nil {
		panic(err)
	}
	return d
}

var errStubFailure = errors.New("stub failure")
