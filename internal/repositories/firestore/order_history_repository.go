package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/shopforge/api/internal/domain"
	pfirestore "github.com/shopforge/api/internal/platform/firestore"
)

const orderHistoryCollectionPattern = "orders/%s/history"

// OrderHistoryRepository stores the append-only status trail under each
// order document. Entries are never updated or deleted.
type OrderHistoryRepository struct {
	provider *pfirestore.Provider
}

// NewOrderHistoryRepository constructs a Firestore-backed history repository.
func NewOrderHistoryRepository(provider *pfirestore.Provider) (*OrderHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("order history repository requires firestore provider")
	}
	return &OrderHistoryRepository{provider: provider}, nil
}

// Append writes one history entry. The write joins the transaction carried
// by the context.
func (r *OrderHistoryRepository) Append(ctx context.Context, entry domain.OrderStatusHistory) error {
	if strings.TrimSpace(entry.OrderID) == "" {
		return errors.New("order history repository: order id is required")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("order history repository: entry id is required")
	}

	coll, err := r.collection(ctx, entry.OrderID)
	if err != nil {
		return err
	}

	doc := newOrderHistoryDocument(entry)
	ref := coll.Doc(entry.ID)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orderHistory.append", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("orderHistory.append", err)
}

// List returns the full trail ordered oldest first.
func (r *OrderHistoryRepository) List(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("order history repository: order id is required")
	}

	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var entries []domain.OrderStatusHistory
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orderHistory.list", err)
		}
		var doc orderHistoryDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order history %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID, orderID))
	}
	return entries, nil
}

func (r *OrderHistoryRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(orderHistoryCollectionPattern, orderID)), nil
}

type orderHistoryDocument struct {
	PreviousStatus  *string   `firestore:"previousStatus"`
	NewStatus       string    `firestore:"newStatus"`
	Comment         string    `firestore:"comment,omitempty"`
	ChangedBy       string    `firestore:"changedBy"`
	CustomerVisible bool      `firestore:"customerVisible"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

func newOrderHistoryDocument(entry domain.OrderStatusHistory) orderHistoryDocument {
	var previous *string
	if entry.PreviousStatus != nil {
		value := string(*entry.PreviousStatus)
		previous = &value
	}
	return orderHistoryDocument{
		PreviousStatus:  previous,
		NewStatus:       string(entry.NewStatus),
		Comment:         entry.Comment,
		ChangedBy:       entry.ChangedBy,
		CustomerVisible: entry.CustomerVisible,
		CreatedAt:       entry.CreatedAt.UTC(),
	}
}

func (d orderHistoryDocument) toDomain(id, orderID string) domain.OrderStatusHistory {
	var previous *domain.OrderStatus
	if d.PreviousStatus != nil {
		value := domain.OrderStatus(*d.PreviousStatus)
		previous = &value
	}
	return domain.OrderStatusHistory{
		ID:              id,
		OrderID:         orderID,
		PreviousStatus:  previous,
		NewStatus:       domain.OrderStatus(d.NewStatus),
		Comment:         d.Comment,
		ChangedBy:       d.ChangedBy,
		CustomerVisible: d.CustomerVisible,
		CreatedAt:       d.CreatedAt,
	}
}
