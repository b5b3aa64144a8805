package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shopforge/api/internal/domain"
	pfirestore "github.com/shopforge/api/internal/platform/firestore"
	"github.com/shopforge/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads catalog projections and mutates stock counts.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil)
	return &ProductRepository{provider: provider, products: products}, nil
}

// FindByID loads a single product projection.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// FindByIDs loads the named products, omitting missing IDs from the result.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		doc, err := r.products.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		product, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		result[id] = product
	}
	return result, nil
}

// MutateStocks applies fn to every named product inside one transaction and
// persists the resulting stock quantities. Every product document is read
// before any write is buffered; Firestore transactions reject reads issued
// after a write.
func (r *ProductRepository) MutateStocks(ctx context.Context, productIDs []string, now time.Time, fn func(product *domain.Product) error) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	if fn == nil {
		return nil, errors.New("product repository: mutation function is required")
	}

	ids := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, id, "stock mutation: product id is required", nil)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("product repository: at least one product id is required")
	}

	now = now.UTC()
	mutated := make(map[string]domain.Product, len(ids))

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type loadedProduct struct {
			ref     *firestore.DocumentRef
			product domain.Product
		}

		loaded := make([]loadedProduct, 0, len(ids))
		for _, id := range ids {
			ref, err := r.products.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), err)
				}
				return pfirestore.WrapError("products.mutate", err)
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", id, err)
			}
			product, err := doc.toDomain(id)
			if err != nil {
				return err
			}
			loaded = append(loaded, loadedProduct{ref: ref, product: product})
		}

		for i := range loaded {
			if err := fn(&loaded[i].product); err != nil {
				return err
			}
		}

		for _, entry := range loaded {
			entry.product.UpdatedAt = now
			if err := tx.Set(entry.ref, map[string]any{
				"stockQuantity": entry.product.StockQuantity,
				"updatedAt":     now,
			}, firestore.MergeAll); err != nil {
				return pfirestore.WrapError("products.mutate", err)
			}
			mutated[entry.product.ID] = entry.product
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mutated, nil
}

type productDocument struct {
	Name           string    `firestore:"name"`
	Slug           string    `firestore:"slug"`
	Price          string    `firestore:"price"`
	PriceMinor     int64     `firestore:"priceMinor"`
	WeightGrams    int       `firestore:"weightGrams"`
	StockQuantity  int       `firestore:"stockQuantity"`
	AllowBackorder bool      `firestore:"allowBackorder"`
	Status         string    `firestore:"status"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := parseDocumentMoney(d.Price, d.PriceMinor)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, err)
	}
	return domain.Product{
		ID:             id,
		Name:           d.Name,
		Slug:           d.Slug,
		Price:          price,
		WeightGrams:    d.WeightGrams,
		StockQuantity:  d.StockQuantity,
		AllowBackorder: d.AllowBackorder,
		Status:         domain.ProductStatus(d.Status),
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

// parseDocumentMoney prefers the string representation and falls back to the
// minor-unit mirror kept for range queries.
func parseDocumentMoney(text string, minor int64) (decimal.Decimal, error) {
	if strings.TrimSpace(text) != "" {
		return domain.ParseMoney(text)
	}
	return domain.FromMinorUnits(minor), nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}
