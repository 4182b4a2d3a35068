// Package users is the preference store: user aggregates with their
// embedded alert preferences.
//
// Missing users or preferences are reported as common.ErrorNotFound.
// Every preference mutation is atomic with respect to other mutations of
// the same user. A preference id is unique within its user and is never
// handed out again once it was removed or renamed away; reusing one is
// common.ErrorAlreadyExists.
package users

import (
	"context"

	"github.com/dmitrijs2005/pricealert/internal/server/models"
)

type Repository interface {
	// Create stores a new user and returns it with a freshly assigned ID.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// Delete removes the user with all its preferences and returns the
	// deleted snapshot.
	Delete(ctx context.Context, id string) (*models.User, error)

	AddPreference(ctx context.Context, userID string, p models.AlertPreference) (*models.User, error)
	UpdatePreference(ctx context.Context, userID, preferenceID string, p models.AlertPreference) (*models.User, error)
	RemovePreference(ctx context.Context, userID, preferenceID string) (*models.User, error)

	// List returns a snapshot of the whole user population.
	List(ctx context.Context) ([]*models.User, error)
}
