package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestUser_CloneDoesNotAlias(t *testing.T) {
	u := &User{
		ID:   "u1",
		Name: "User1",
		AlertPreferences: []AlertPreference{
			{PreferenceID: "p1", Destination: "Paris", MaxPrice: decimal.NewFromInt(1000), Currency: "USD"},
		},
	}

	c := u.Clone()
	c.AlertPreferences[0].Destination = "Rome"
	c.AlertPreferences = append(c.AlertPreferences, AlertPreference{PreferenceID: "p2"})

	assert.Equal(t, "Paris", u.AlertPreferences[0].Destination)
	assert.Len(t, u.AlertPreferences, 1)
	assert.Nil(t, (*User)(nil).Clone())
}

func TestUser_Preference(t *testing.T) {
	u := &User{AlertPreferences: []AlertPreference{{PreferenceID: "p1", Destination: "Paris"}}}

	p, ok := u.Preference("p1")
	assert.True(t, ok)
	assert.Equal(t, "Paris", p.Destination)

	_, ok = u.Preference("missing")
	assert.False(t, ok)
}
