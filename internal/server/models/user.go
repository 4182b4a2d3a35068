package models

import "github.com/shopspring/decimal"

// User is the aggregate root owned by the preference store.
type User struct {
	ID                string
	Name              string
	Email             string
	MobileDeviceToken string
	AlertPreferences  []AlertPreference
}

// AlertPreference is a standing criterion for wanting to be notified.
// PreferenceID is unique within the owning user and never reused.
type AlertPreference struct {
	PreferenceID string          `json:"preference_id"`
	Destination  string          `json:"destination"`
	MaxPrice     decimal.Decimal `json:"max_price"`
	Currency     string          `json:"currency"`
}

// Clone returns a deep copy so callers can't alias the preference slice.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.AlertPreferences = append([]AlertPreference(nil), u.AlertPreferences...)
	return &c
}

// Preference returns the preference with the given id.
func (u *User) Preference(preferenceID string) (AlertPreference, bool) {
	for _, p := range u.AlertPreferences {
		if p.PreferenceID == preferenceID {
			return p, true
		}
	}
	return AlertPreference{}, false
}
