package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shopforge/api/internal/platform/config"
	"github.com/shopforge/api/internal/platform/observability"
	"github.com/shopforge/api/internal/repositories"
	"github.com/shopforge/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled in NewContainer.
type Services struct {
	Inventory    services.InventoryService
	Pricing      services.PricingCalculator
	Numbers      services.OrderNumberGenerator
	Validator    services.OrderValidator
	Orders       services.OrderService
	OrderQueries services.OrderQueryService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring
// provides the Firestore registry; tests can supply in-memory ones. The
// events publisher is optional and nil disables publishing.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, events services.OrderEventPublisher, logger *zap.Logger) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, reg, cfg, events, logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, events services.OrderEventPublisher, logger *zap.Logger) (Services, error) {
	var svc Services

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Clock:    time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	var tax services.TaxFunc
	if raw := cfg.Orders.TaxRate; raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return Services{}, fmt.Errorf("parse tax rate %q: %w", raw, err)
		}
		tax = services.FlatTax(rate)
	}

	pricingSvc, err := services.NewPricingCalculator(services.PricingCalculatorDeps{
		Products: reg.Products(),
		Tax:      tax,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing calculator: %w", err)
	}
	svc.Pricing = pricingSvc

	numbers, err := services.NewOrderNumberGenerator(services.OrderNumberGeneratorDeps{
		Orders:      reg.Orders(),
		Prefix:      cfg.Orders.NumberPrefix,
		MaxAttempts: cfg.Orders.NumberMaxAttempts,
		Clock:       time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number generator: %w", err)
	}
	svc.Numbers = numbers

	validator, err := services.NewOrderValidator(services.OrderValidatorDeps{
		Users:     reg.Users(),
		Addresses: reg.Addresses(),
		Inventory: inventorySvc,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order validator: %w", err)
	}
	svc.Validator = validator

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		History:    reg.OrderHistory(),
		Carts:      reg.Carts(),
		UnitOfWork: reg,
		Validator:  validator,
		Pricing:    pricingSvc,
		Inventory:  inventorySvc,
		Numbers:    numbers,
		Events:     events,
		Clock:      time.Now,
		Tax:        tax,
		Logger:     serviceLogFunc(logger),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	querySvc, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders:  reg.Orders(),
		History: reg.OrderHistory(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order query service: %w", err)
	}
	svc.OrderQueries = querySvc

	return svc, nil
}

// serviceLogFunc adapts zap for the service layer, preferring the
// request-scoped logger when the context carries one.
func serviceLogFunc(fallback *zap.Logger) func(context.Context, string, map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		log := observability.FromContext(ctx)
		if log == nil || !log.Core().Enabled(zap.WarnLevel) {
			log = fallback
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		log.Warn(event, zapFields...)
	}
}
