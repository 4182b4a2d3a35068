// Package services contains server-side business logic. UserService is the
// in-process API over the preference store: it validates input and assigns
// preference ids before handing work to the repository.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/pricealert/internal/common"
	"github.com/dmitrijs2005/pricealert/internal/dbx"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
	"github.com/dmitrijs2005/pricealert/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

type UserService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
}

func NewUserService(db dbx.DBTX, m repomanager.RepositoryManager) *UserService {
	return &UserService{db: db, repomanager: m}
}

// AddUser stores a new user with the store-assigned id. Preferences given
// on the user get ids the same way AddAlertPreference assigns them.
func (s *UserService) AddUser(ctx context.Context, u *models.User) (*models.User, error) {
	if u == nil || strings.TrimSpace(u.Name) == "" || strings.TrimSpace(u.Email) == "" {
		return nil, fmt.Errorf("%w: name and email are required", common.ErrorValidation)
	}

	in := u.Clone()
	seen := make(map[string]struct{}, len(in.AlertPreferences))
	for i := range in.AlertPreferences {
		p := &in.AlertPreferences[i]
		if err := validatePreference(*p); err != nil {
			return nil, err
		}
		if p.PreferenceID == "" {
			p.PreferenceID = uuid.NewString()
		}
		if _, dup := seen[p.PreferenceID]; dup {
			return nil, fmt.Errorf("preference %s: %w", p.PreferenceID, common.ErrorAlreadyExists)
		}
		seen[p.PreferenceID] = struct{}{}
	}

	created, err := s.repomanager.Users(s.db).Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return created, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, id)
}

// DeleteUser removes the user with all preferences and returns what was
// deleted.
func (s *UserService) DeleteUser(ctx context.Context, id string) (*models.User, error) {
	return s.repomanager.Users(s.db).Delete(ctx, id)
}

func (s *UserService) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.repomanager.Users(s.db).List(ctx)
}

// AddAlertPreference appends p, generating its id when empty.
func (s *UserService) AddAlertPreference(ctx context.Context, userID string, p models.AlertPreference) (*models.User, error) {
	if err := validatePreference(p); err != nil {
		return nil, err
	}
	if p.PreferenceID == "" {
		p.PreferenceID = uuid.NewString()
	}
	return s.repomanager.Users(s.db).AddPreference(ctx, userID, p)
}

// UpdateAlertPreference replaces the preference in place. An empty id on
// the new value keeps the addressed id.
func (s *UserService) UpdateAlertPreference(ctx context.Context, userID, preferenceID string, p models.AlertPreference) (*models.User, error) {
	if err := validatePreference(p); err != nil {
		return nil, err
	}
	if p.PreferenceID == "" {
		p.PreferenceID = preferenceID
	}
	return s.repomanager.Users(s.db).UpdatePreference(ctx, userID, preferenceID, p)
}

func (s *UserService) DeleteAlertPreference(ctx context.Context, userID, preferenceID string) (*models.User, error) {
	return s.repomanager.Users(s.db).RemovePreference(ctx, userID, preferenceID)
}

func validatePreference(p models.AlertPreference) error {
	switch {
	case strings.TrimSpace(p.Destination) == "":
		return fmt.Errorf("%w: destination is required", common.ErrorValidation)
	case strings.TrimSpace(p.Currency) == "":
		return fmt.Errorf("%w: currency is required", common.ErrorValidation)
	case p.MaxPrice.IsNegative():
		return fmt.Errorf("%w: max price must not be negative", common.ErrorValidation)
	}
	return nil
}
