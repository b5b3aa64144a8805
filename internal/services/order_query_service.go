package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/repositories"
)

// OrderQueryServiceDeps bundles the read-side collaborators.
type OrderQueryServiceDeps struct {
	Orders  repositories.OrderRepository
	History repositories.OrderHistoryRepository
}

type orderQueryService struct {
	orders  repositories.OrderRepository
	history repositories.OrderHistoryRepository
}

// NewOrderQueryService wires dependencies into a concrete OrderQueryService.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("order query service: history repository is required")
	}
	return &orderQueryService{
		orders:  deps.Orders,
		history: deps.History,
	}, nil
}

func (s *orderQueryService) GetByID(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapQueryError(err)
	}
	return s.attachHistory(ctx, order, opts)
}

func (s *orderQueryService) GetByNumber(ctx context.Context, orderNumber string, opts OrderReadOptions) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, mapQueryError(err)
	}
	return s.attachHistory(ctx, order, opts)
}

func (s *orderQueryService) List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[Order]{}, mapQueryError(err)
	}
	return page, nil
}

func (s *orderQueryService) Statistics(ctx context.Context, userID string) (OrderStatistics, error) {
	stats, err := s.orders.Statistics(ctx, strings.TrimSpace(userID))
	if err != nil {
		return OrderStatistics{}, mapQueryError(err)
	}
	return stats, nil
}

func (s *orderQueryService) attachHistory(ctx context.Context, order Order, opts OrderReadOptions) (Order, error) {
	if !opts.IncludeHistory {
		return order, nil
	}
	entries, err := s.history.List(ctx, order.ID)
	if err != nil {
		return Order{}, mapQueryError(err)
	}
	order.History = entries
	return order, nil
}

func mapQueryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return err
}
