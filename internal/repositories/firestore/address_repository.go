package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/shopforge/api/internal/domain"
	pfirestore "github.com/shopforge/api/internal/platform/firestore"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository reads shipping addresses stored under each user
// document. Keeping addresses in a per-user subcollection makes ownership a
// property of the path rather than a query predicate.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// Get loads one address owned by the user. A missing document surfaces as a
// not-found repository error whether the address is absent or owned by
// someone else.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" {
		return domain.Address{}, errors.New("address repository: user id is required")
	}
	if addressID == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}

	ref := coll.Doc(addressID)
	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}

	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", addressID, err)
	}
	return doc.toDomain(snap.Ref.ID, userID), nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, userID)), nil
}

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	Region     string `firestore:"region"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

func (d addressDocument) toDomain(id, userID string) domain.Address {
	return domain.Address{
		ID:         id,
		UserID:     userID,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		Region:     d.Region,
		PostalCode: d.PostalCode,
		Country:    d.Country,
	}
}
