package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/shopforge/api/internal/domain"
	pfirestore "github.com/shopforge/api/internal/platform/firestore"
)

const cartCollection = "carts"

// CartRepository reads and clears the per-user cart projection. Carts are
// keyed by user ID, one document per user.
type CartRepository struct {
	carts *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		carts: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil),
	}, nil
}

// Get loads the user's cart. A missing document is an empty cart, not an
// error.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc, err := r.carts.Get(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return domain.Cart{UserID: userID}, nil
		}
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Clear removes the cart document. The delete joins the transaction carried
// by the context so emptying the cart commits with the order it produced.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("cart repository: user id is required")
	}
	return r.carts.Delete(ctx, userID)
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string            `firestore:"productId"`
	Quantity  int               `firestore:"quantity"`
	Variant   map[string]string `firestore:"variant,omitempty"`
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	items := make([]domain.CartItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Variant:   item.Variant,
		})
	}
	return domain.Cart{
		UserID:    userID,
		Items:     items,
		UpdatedAt: d.UpdatedAt,
	}
}
