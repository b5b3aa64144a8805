package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopforge/api/internal/repositories"
)

// InventoryServiceDeps bundles the collaborators required to construct an
// inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
}

type inventoryService struct {
	products repositories.ProductRepository
	clock    func() time.Time
}

// NewInventoryService wires dependencies into a concrete InventoryService
// implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &inventoryService{
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Reserve decrements stock for every line under the row lock of the
// surrounding transaction. Inactive products and shortfalls without a
// backorder allowance abort the whole reservation.
func (s *inventoryService) Reserve(ctx context.Context, lines []InventoryLine) (map[string]Product, error) {
	quantities, ids, err := normaliseLines(lines)
	if err != nil {
		return nil, err
	}

	return s.products.MutateStocks(ctx, ids, s.clock(), func(product *Product) error {
		quantity := quantities[product.ID]
		if !product.Active() {
			return repositories.NewInventoryError(repositories.InventoryErrorProductInactive, product.ID,
				fmt.Sprintf("product %s is not active", product.ID), nil)
		}
		remaining := product.StockQuantity - quantity
		if remaining < 0 && !product.AllowBackorder {
			return repositories.NewInsufficientStockError(product.ID, quantity, product.StockQuantity)
		}
		product.StockQuantity = remaining
		return nil
	})
}

// Release adds quantities back unconditionally. It succeeds whenever the
// product rows exist, regardless of status or resulting level.
func (s *inventoryService) Release(ctx context.Context, lines []InventoryLine) error {
	quantities, ids, err := normaliseLines(lines)
	if err != nil {
		return err
	}

	_, err = s.products.MutateStocks(ctx, ids, s.clock(), func(product *Product) error {
		product.StockQuantity += quantities[product.ID]
		return nil
	})
	return err
}

// CheckAvailability is the non-locking pre-flight pass: it reports every
// product that could not satisfy its requested quantity. The authoritative
// check runs again inside the creation transaction.
func (s *inventoryService) CheckAvailability(ctx context.Context, lines []InventoryLine) ([]InventoryShortfall, error) {
	quantities, ids, err := normaliseLines(lines)
	if err != nil {
		return nil, err
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var shortfalls []InventoryShortfall
	for _, id := range ids {
		quantity := quantities[id]
		product, ok := products[id]
		if !ok {
			shortfalls = append(shortfalls, InventoryShortfall{
				ProductID: id,
				Reason:    "product not found",
				Requested: quantity,
			})
			continue
		}
		if !product.Active() {
			shortfalls = append(shortfalls, InventoryShortfall{
				ProductID: id,
				Reason:    "product is not active",
				Requested: quantity,
				Available: product.StockQuantity,
			})
			continue
		}
		if quantity > product.StockQuantity && !product.AllowBackorder {
			shortfalls = append(shortfalls, InventoryShortfall{
				ProductID: id,
				Reason:    "insufficient stock",
				Requested: quantity,
				Available: product.StockQuantity,
			})
		}
	}
	return shortfalls, nil
}

// normaliseLines folds duplicate product IDs together and rejects
// non-positive quantities.
func normaliseLines(lines []InventoryLine) (map[string]int, []string, error) {
	if len(lines) == 0 {
		return nil, nil, errors.New("inventory: at least one line is required")
	}

	quantities := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, nil, errors.New("inventory: product id is required")
		}
		if line.Quantity <= 0 {
			return nil, nil, fmt.Errorf("inventory: quantity for %s must be positive", id)
		}
		if _, ok := quantities[id]; !ok {
			ids = append(ids, id)
		}
		quantities[id] += line.Quantity
	}
	return quantities, ids, nil
}
