package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/repositories"
)

// Flat-rate placeholders. Shipping is a fixed table and tax a single rate;
// both stay pure functions so a real engine can replace them.
var (
	defaultTaxRate = decimal.RequireFromString("0.085")

	standardShippingFee   = decimal.RequireFromString("9.99")
	expressShippingFee    = decimal.RequireFromString("19.99")
	freeShippingThreshold = decimal.RequireFromString("50.00")
)

// TaxFunc computes the tax amount from a subtotal.
type TaxFunc func(subtotal decimal.Decimal) decimal.Decimal

// ShippingFunc computes the shipping cost from subtotal and method.
type ShippingFunc func(subtotal decimal.Decimal, method ShippingMethod) decimal.Decimal

// FlatTax returns a TaxFunc applying a single flat rate.
func FlatTax(rate decimal.Decimal) TaxFunc {
	return func(subtotal decimal.Decimal) decimal.Decimal {
		return domain.RoundMoney(subtotal.Mul(rate))
	}
}

// TableShipping implements the fixed shipping table: standard is free
// strictly above the threshold, express is a flat fee, free_shipping is
// always zero.
func TableShipping(subtotal decimal.Decimal, method ShippingMethod) decimal.Decimal {
	switch method {
	case domain.ShippingExpress:
		return expressShippingFee
	case domain.ShippingFree:
		return decimal.Zero
	default:
		if subtotal.GreaterThan(freeShippingThreshold) {
			return decimal.Zero
		}
		return standardShippingFee
	}
}

// PricingCalculatorDeps bundles the collaborators for the calculator.
type PricingCalculatorDeps struct {
	Products repositories.ProductRepository
	Tax      TaxFunc
	Shipping ShippingFunc
}

type pricingCalculator struct {
	products repositories.ProductRepository
	tax      TaxFunc
	shipping ShippingFunc
}

// NewPricingCalculator wires dependencies into a concrete PricingCalculator.
func NewPricingCalculator(deps PricingCalculatorDeps) (PricingCalculator, error) {
	if deps.Products == nil {
		return nil, errors.New("pricing calculator: product repository is required")
	}
	tax := deps.Tax
	if tax == nil {
		tax = FlatTax(defaultTaxRate)
	}
	shipping := deps.Shipping
	if shipping == nil {
		shipping = TableShipping
	}
	return &pricingCalculator{
		products: deps.Products,
		tax:      tax,
		shipping: shipping,
	}, nil
}

// Calculate prices the items with one batch product lookup. Products with
// no resolvable price contribute zero to the subtotal; the known gap is
// kept until product owners decide whether it should fail instead.
func (c *pricingCalculator) Calculate(ctx context.Context, items []PricingItem, method ShippingMethod) (PricingResult, error) {
	if len(items) == 0 {
		return PricingResult{}, errors.New("pricing: at least one item is required")
	}
	if method == "" {
		method = domain.ShippingStandard
	}
	if !domain.ValidShippingMethod(method) {
		return PricingResult{}, fmt.Errorf("pricing: unknown shipping method %q", method)
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return PricingResult{}, errors.New("pricing: product id is required")
		}
		if item.Quantity <= 0 {
			return PricingResult{}, fmt.Errorf("pricing: quantity for %s must be positive", id)
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	products, err := c.products.FindByIDs(ctx, ids)
	if err != nil {
		return PricingResult{}, err
	}

	subtotal := decimal.Zero
	for _, item := range items {
		unitPrice := decimal.Zero
		if product, ok := products[strings.TrimSpace(item.ProductID)]; ok {
			unitPrice = product.Price
		}
		subtotal = subtotal.Add(LinePrice(unitPrice, item.Quantity))
	}
	subtotal = domain.RoundMoney(subtotal)

	tax := domain.RoundMoney(c.tax(subtotal))
	shipping := domain.RoundMoney(c.shipping(subtotal, method))
	total := domain.RoundMoney(subtotal.Add(tax).Add(shipping))

	return PricingResult{
		Totals: OrderTotals{
			Subtotal: subtotal,
			Tax:      tax,
			Shipping: shipping,
			Total:    total,
		},
		Products: products,
	}, nil
}

// LinePrice computes one line's frozen total: unit price times quantity,
// rounded to 2 places.
func LinePrice(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return domain.RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// sharedClock keeps the zero-dependency default in one place.
func sharedClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}
