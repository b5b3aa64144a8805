package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/shopforge/api/internal/domain"
	pfirestore "github.com/shopforge/api/internal/platform/firestore"
)

const userCollection = "users"

// UserRepository reads user-profile projections for referential checks.
type UserRepository struct {
	users *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		users: pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil),
	}, nil
}

// FindByID loads one user profile.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, errors.New("user repository: user id is required")
	}
	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type userDocument struct {
	Email       string `firestore:"email"`
	DisplayName string `firestore:"displayName"`
	IsActive    bool   `firestore:"isActive"`
}

func (d userDocument) toDomain(id string) domain.UserProfile {
	return domain.UserProfile{
		ID:          id,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		IsActive:    d.IsActive,
	}
}
