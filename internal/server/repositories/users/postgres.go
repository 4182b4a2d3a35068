package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pricealert/internal/common"
	"github.com/dmitrijs2005/pricealert/internal/dbx"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository keeps one row per user with the preference list in a
// JSONB column. Preference mutations are single UPDATE statements that
// rewrite the array server-side, so concurrent edits of one user are
// serialised by the row lock instead of racing in Go.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, name, email, COALESCE(mobile_device_token, ''), alert_preferences`

// preferenceHeld is true when the row's array holds an element whose
// preference_id equals the given parameter.
func preferenceHeld(param string) string {
	return `alert_preferences @> jsonb_build_array(jsonb_build_object('preference_id', ` + param + `::text))`
}

// preferenceRetired is true when the id was removed or renamed away
// before. Retired ids are never accepted again.
func preferenceRetired(param string) string {
	return `retired_preference_ids @> jsonb_build_array(` + param + `::text)`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user  models.User
		prefs []byte
	)

	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.MobileDeviceToken, &prefs); err != nil {
		return nil, err
	}

	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &user.AlertPreferences); err != nil {
			return nil, fmt.Errorf("decode alert preferences: %w", err)
		}
	}
	if user.AlertPreferences == nil {
		user.AlertPreferences = []models.AlertPreference{}
	}

	return &user, nil
}

func encodePreferences(prefs []models.AlertPreference) (string, error) {
	if prefs == nil {
		prefs = []models.AlertPreference{}
	}
	b, err := json.Marshal(prefs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodePreference(p models.AlertPreference) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// validID filters out ids that can never exist, so malformed input reads as
// not found rather than as a database error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	prefs, err := encodePreferences(user.AlertPreferences)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorNotPersisted, err)
	}

	query :=
		`INSERT INTO users (name, email, mobile_device_token, alert_preferences)
		 VALUES ($1, $2, $3, $4::jsonb)
		 RETURNING id
		 `

	created := user.Clone()
	err = r.db.QueryRowContext(ctx, query,
		user.Name, user.Email, nullable(user.MobileDeviceToken), prefs).Scan(&created.ID)

	if err != nil {
		return nil, fmt.Errorf("%w: db error: %w", common.ErrorNotPersisted, err)
	}

	if created.AlertPreferences == nil {
		created.AlertPreferences = []models.AlertPreference{}
	}

	return created, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, common.ErrorNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, common.ErrorNotFound
	}

	query := `DELETE FROM users WHERE id = $1 RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) AddPreference(ctx context.Context, userID string, p models.AlertPreference) (*models.User, error) {
	if !validID(userID) {
		return nil, common.ErrorNotFound
	}

	pref, err := encodePreference(p)
	if err != nil {
		return nil, fmt.Errorf("encode preference: %w", err)
	}

	query :=
		`UPDATE users
		 SET alert_preferences = alert_preferences || jsonb_build_array($3::jsonb)
		 WHERE id = $1 AND NOT ` + preferenceHeld("$2") + ` AND NOT ` + preferenceRetired("$2") + `
		 RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID, p.PreferenceID, pref))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// Nothing updated: either the user is gone or the id is taken or retired.
	exists, err := r.exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("preference %s: %w", p.PreferenceID, common.ErrorAlreadyExists)
	}
	return nil, common.ErrorNotFound
}

func (r *PostgresRepository) UpdatePreference(ctx context.Context, userID, preferenceID string, p models.AlertPreference) (*models.User, error) {
	if !validID(userID) {
		return nil, common.ErrorNotFound
	}

	pref, err := encodePreference(p)
	if err != nil {
		return nil, fmt.Errorf("encode preference: %w", err)
	}

	query :=
		`UPDATE users
		 SET alert_preferences = (
		     SELECT COALESCE(jsonb_agg(
		         CASE WHEN t.elem->>'preference_id' = $2::text THEN $3::jsonb ELSE t.elem END
		         ORDER BY t.ord), '[]'::jsonb)
		     FROM jsonb_array_elements(alert_preferences) WITH ORDINALITY AS t(elem, ord)
		 ),
		 retired_preference_ids = CASE WHEN $4::text <> $2::text
		     THEN retired_preference_ids || jsonb_build_array($2::text)
		     ELSE retired_preference_ids END
		 WHERE id = $1 AND ` + preferenceHeld("$2") + `
		   AND ($4::text = $2::text OR (NOT ` + preferenceHeld("$4") + ` AND NOT ` + preferenceRetired("$4") + `))
		 RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID, preferenceID, pref, p.PreferenceID))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// Nothing updated: the addressed preference is missing, or the new id
	// collides with another held or retired one.
	held, err := r.holdsPreference(ctx, userID, preferenceID)
	if err != nil {
		return nil, err
	}
	if held {
		return nil, fmt.Errorf("preference %s: %w", p.PreferenceID, common.ErrorAlreadyExists)
	}
	return nil, common.ErrorNotFound
}

func (r *PostgresRepository) RemovePreference(ctx context.Context, userID, preferenceID string) (*models.User, error) {
	if !validID(userID) {
		return nil, common.ErrorNotFound
	}

	query :=
		`UPDATE users
		 SET alert_preferences = (
		     SELECT COALESCE(jsonb_agg(t.elem ORDER BY t.ord), '[]'::jsonb)
		     FROM jsonb_array_elements(alert_preferences) WITH ORDINALITY AS t(elem, ord)
		     WHERE t.elem->>'preference_id' <> $2::text
		 ),
		 retired_preference_ids = retired_preference_ids || jsonb_build_array($2::text)
		 WHERE id = $1 AND ` + preferenceHeld("$2") + `
		 RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID, preferenceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) holdsPreference(ctx context.Context, userID, preferenceID string) (bool, error) {
	var held bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND ` + preferenceHeld("$2") + `)`
	err := r.db.QueryRowContext(ctx, query, userID, preferenceID).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return held, nil
}
