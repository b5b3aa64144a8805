package services

import (
	"context"
	"testing"

	domain "github.com/shopforge/api/internal/domain"
)

func TestPricingCalculatorStandardShippingUnderThreshold(t *testing.T) {
	store := newMemoryProductStore(activeProduct("prod-1", "Widget", "25.00", 10))
	calc, err := NewPricingCalculator(PricingCalculatorDeps{Products: store})
	if err != nil {
		t.Fatalf("NewPricingCalculator returned error: %v", err)
	}

	result, err := calc.Calculate(context.Background(), []PricingItem{
		{ProductID: "prod-1", Quantity: 2},
	}, domain.ShippingStandard)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	// Subtotal of exactly 50.00 does not qualify for free shipping.
	assertMoney(t, "subtotal", result.Totals.Subtotal, "50.00")
	assertMoney(t, "tax", result.Totals.Tax, "4.25")
	assertMoney(t, "shipping", result.Totals.Shipping, "9.99")
	assertMoney(t, "total", result.Totals.Total, "64.24")
}

func TestPricingCalculatorFreeStandardShippingAboveThreshold(t *testing.T) {
	store := newMemoryProductStore(activeProduct("prod-1", "Widget", "50.01", 10))
	calc, err := NewPricingCalculator(PricingCalculatorDeps{Products: store})
	if err != nil {
		t.Fatalf("NewPricingCalculator returned error: %v", err)
	}

	result, err := calc.Calculate(context.Background(), []PricingItem{
		{ProductID: "prod-1", Quantity: 1},
	}, domain.ShippingStandard)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	assertMoney(t, "shipping", result.Totals.Shipping, "0.00")
	assertMoney(t, "total", result.Totals.Total, "54.26")
}

func TestPricingCalculatorExpressIgnoresThreshold(t *testing.T) {
	store := newMemoryProductStore(activeProduct("prod-1", "Widget", "100.00", 10))
	calc, err := NewPricingCalculator(PricingCalculatorDeps{Products: store})
	if err != nil {
		t.Fatalf("NewPricingCalculator returned error: %v", err)
	}

	result, err := calc.Calculate(context.Background(), []PricingItem{
		{ProductID: "prod-1", Quantity: 1},
	}, domain.ShippingExpress)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	assertMoney(t, "shipping", result.Totals.Shipping, "19.99")
}

func TestPricingCalculatorFreeShippingMethod(t *testing.T) {
	store := newMemoryProductStore(activeProduct("prod-1", "Widget", "10.00", 10))
	calc, err := NewPricingCalculator(PricingCalculatorDeps{Products: store})
	if err != nil {
		t.Fatalf("NewPricingCalculator returned error: %v", err)
	}

	result, err := calc.Calculate(context.Background(), []PricingItem{
		{ProductID: "prod-1", Quantity: 1},
	}, domain.ShippingFree)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	assertMoney(t, "shipping", result.Totals.Shipping, "0.00")
}

func TestPricingCalculatorMissingPriceContributesZero(t *testing.T) {
	store := newMemoryProductStore(activeProduct("prod-1", "Widget", "20.00", 10))
	calc, err := NewPricingCalculator(PricingCalculatorDeps{Products: store})
	if err != nil {
		t.Fatalf("NewPricingCalculator returned error: %v", err)
	}

	result, err := calc.Calculate(context.Background(), []PricingItem{
		{ProductID: "prod-1", Quantity: 1},
		{ProductID: "prod-ghost", Quantity: 3},
	}, domain.ShippingStandard)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	assertMoney(t, "subtotal", result.Totals.Subtotal, "20.00")
}

func TestPricingCalculatorRejectsUnknownMethod(t *testing.T) {
	store := newMemoryProductStore(activeProduct("prod-1", "Widget", "20.00", 10))
	calc, err := NewPricingCalculator(PricingCalculatorDeps{Products: store})
	if err != nil {
		t.Fatalf("NewPricingCalculator returned error: %v", err)
	}

	if _, err := calc.Calculate(context.Background(), []PricingItem{
		{ProductID: "prod-1", Quantity: 1},
	}, domain.ShippingMethod("drone")); err == nil {
		t.Fatal("expected error for unknown shipping method")
	}
}

func TestPricingCalculatorRejectsEmptyItems(t *testing.T) {
	store := newMemoryProductStore()
	calc, err := NewPricingCalculator(PricingCalculatorDeps{Products: store})
	if err != nil {
		t.Fatalf("NewPricingCalculator returned error: %v", err)
	}

	if _, err := calc.Calculate(context.Background(), nil, domain.ShippingStandard); err == nil {
		t.Fatal("expected error for empty item list")
	}
}

func TestLinePriceRounds(t *testing.T) {
	got := LinePrice(mustMoney("19.99"), 3)
	assertMoney(t, "line total", got, "59.97")
}

func assertMoney(t *testing.T, label string, got interface{ StringFixed(int32) string }, want string) {
	t.Helper()
	if s := got.StringFixed(2); s != want {
		t.Errorf("%s = %s, want %s", label, s, want)
	}
}
