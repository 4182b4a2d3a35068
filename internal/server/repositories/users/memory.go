package users

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/pricealert/internal/common"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. Every operation runs under
// one mutex and hands out copies, so callers never share the stored slices.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
	order []string
	// preference ids removed or renamed away, per user
	retired map[string]map[string]struct{}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[string]*models.User),
		retired: make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRepository) retire(userID, preferenceID string) {
	ids, ok := r.retired[userID]
	if !ok {
		ids = make(map[string]struct{})
		r.retired[userID] = ids
	}
	ids[preferenceID] = struct{}{}
}

// idTaken reports whether preferenceID is held or was retired by the user.
func (r *MemoryRepository) idTaken(u *models.User, preferenceID string) bool {
	if _, held := u.Preference(preferenceID); held {
		return true
	}
	_, retired := r.retired[u.ID][preferenceID]
	return retired
}

func (r *MemoryRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorNotPersisted, err)
	}

	stored := user.Clone()
	stored.ID = uuid.NewString()
	if stored.AlertPreferences == nil {
		stored.AlertPreferences = []models.AlertPreference{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[stored.ID] = stored
	r.order = append(r.order, stored.ID)

	return stored.Clone(), nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(r.users, id)
	delete(r.retired, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return u, nil
}

func (r *MemoryRepository) AddPreference(ctx context.Context, userID string, p models.AlertPreference) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if r.idTaken(u, p.PreferenceID) {
		return nil, fmt.Errorf("preference %s: %w", p.PreferenceID, common.ErrorAlreadyExists)
	}
	u.AlertPreferences = append(u.AlertPreferences, p)
	return u.Clone(), nil
}

func (r *MemoryRepository) UpdatePreference(ctx context.Context, userID, preferenceID string, p models.AlertPreference) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	idx := -1
	for i := range u.AlertPreferences {
		if u.AlertPreferences[i].PreferenceID == preferenceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, common.ErrorNotFound
	}

	if p.PreferenceID != preferenceID {
		if r.idTaken(u, p.PreferenceID) {
			return nil, fmt.Errorf("preference %s: %w", p.PreferenceID, common.ErrorAlreadyExists)
		}
		r.retire(userID, preferenceID)
	}
	u.AlertPreferences[idx] = p
	return u.Clone(), nil
}

func (r *MemoryRepository) RemovePreference(ctx context.Context, userID, preferenceID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	for i := range u.AlertPreferences {
		if u.AlertPreferences[i].PreferenceID == preferenceID {
			u.AlertPreferences = append(u.AlertPreferences[:i:i], u.AlertPreferences[i+1:]...)
			r.retire(userID, preferenceID)
			return u.Clone(), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) List(ctx context.Context) ([]*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.User, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.users[id].Clone())
	}
	return result, nil
}
