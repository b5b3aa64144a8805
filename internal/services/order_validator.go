package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/repositories"
)

const (
	maxOrderItemQuantity  = 100
	maxCustomerNotesChars = 1000
)

// OrderValidatorDeps bundles the collaborators for pre-flight validation.
type OrderValidatorDeps struct {
	Users     repositories.UserRepository
	Addresses repositories.AddressRepository
	Inventory InventoryService
}

type orderValidator struct {
	users     repositories.UserRepository
	addresses repositories.AddressRepository
	inventory InventoryService
}

// NewOrderValidator wires dependencies into a concrete OrderValidator.
func NewOrderValidator(deps OrderValidatorDeps) (OrderValidator, error) {
	if deps.Users == nil {
		return nil, errors.New("order validator: user repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order validator: address repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order validator: inventory service is required")
	}
	return &orderValidator{
		users:     deps.Users,
		addresses: deps.Addresses,
		inventory: deps.Inventory,
	}, nil
}

// Validate collects every violation instead of failing fast. The inventory
// portion is advisory; the creation transaction re-checks under lock.
func (v *orderValidator) Validate(ctx context.Context, cmd CreateOrderCommand) error {
	var fields []FieldError

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		fields = append(fields, FieldError{Field: "userId", Code: "required", Message: "user id is required"})
	} else {
		user, err := v.users.FindByID(ctx, userID)
		switch {
		case isRepoNotFound(err):
			fields = append(fields, FieldError{Field: "userId", Code: "not_found", Message: "user does not exist"})
		case err != nil:
			return err
		case !user.IsActive:
			fields = append(fields, FieldError{Field: "userId", Code: "inactive", Message: "user account is not active"})
		}
	}

	addressID := strings.TrimSpace(cmd.ShippingAddressID)
	if addressID == "" {
		fields = append(fields, FieldError{Field: "shippingAddressId", Code: "required", Message: "shipping address id is required"})
	} else if userID != "" {
		// Ownership is part of the lookup path: another user's address
		// resolves as absent, never as a generic error.
		_, err := v.addresses.Get(ctx, userID, addressID)
		switch {
		case isRepoNotFound(err):
			fields = append(fields, FieldError{Field: "shippingAddressId", Code: "not_found", Message: "shipping address does not exist or does not belong to the user"})
		case err != nil:
			return err
		}
	}

	if cmd.ShippingMethod != "" && !domain.ValidShippingMethod(cmd.ShippingMethod) {
		fields = append(fields, FieldError{Field: "shippingMethod", Code: "invalid", Message: fmt.Sprintf("unknown shipping method %q", cmd.ShippingMethod)})
	}

	if len(cmd.CustomerNotes) > maxCustomerNotesChars {
		fields = append(fields, FieldError{Field: "customerNotes", Code: "too_long", Message: fmt.Sprintf("customer notes must be at most %d characters", maxCustomerNotesChars)})
	}

	if len(cmd.Items) == 0 {
		fields = append(fields, FieldError{Field: "orderItems", Code: "required", Message: "order must contain at least one item"})
		return NewValidationError(fields)
	}

	lines := make([]InventoryLine, 0, len(cmd.Items))
	itemsValid := true
	for i, item := range cmd.Items {
		field := fmt.Sprintf("orderItems[%d]", i)
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			fields = append(fields, FieldError{Field: field + ".productId", Code: "required", Message: "product id is required"})
			itemsValid = false
			continue
		}
		if item.Quantity < 1 || item.Quantity > maxOrderItemQuantity {
			fields = append(fields, FieldError{Field: field + ".quantity", Code: "out_of_range", Message: fmt.Sprintf("quantity must be between 1 and %d", maxOrderItemQuantity)})
			itemsValid = false
			continue
		}
		lines = append(lines, InventoryLine{ProductID: productID, Quantity: item.Quantity})
	}

	if itemsValid && len(lines) > 0 {
		shortfalls, err := v.inventory.CheckAvailability(ctx, lines)
		if err != nil {
			return err
		}
		for _, shortfall := range shortfalls {
			fields = append(fields, FieldError{
				Field:     "orderItems",
				Code:      "insufficient_inventory",
				Message:   fmt.Sprintf("product %s: %s (requested %d, available %d)", shortfall.ProductID, shortfall.Reason, shortfall.Requested, shortfall.Available),
				Requested: shortfall.Requested,
				Available: shortfall.Available,
			})
		}
	}

	return NewValidationError(fields)
}

func isRepoNotFound(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
