// Package matcher runs the consumption loop that turns price events into
// push alerts for every matching user preference.
package matcher

import (
	"fmt"

	"github.com/dmitrijs2005/pricealert/internal/server/models"
)

// Match reports whether ev satisfies pref: same destination, same
// currency, and a price at or below the ceiling.
func Match(pref models.AlertPreference, ev *models.PriceEvent) bool {
	return pref.Destination == ev.Destination &&
		pref.Currency == ev.Currency &&
		ev.Price.LessThanOrEqual(pref.MaxPrice)
}

// FormatAlert renders the message delivered for one matched pair.
func FormatAlert(u *models.User, ev *models.PriceEvent) string {
	return fmt.Sprintf("Hi %s, the flight '%s' from %s to %s is now available for %s %s.",
		u.Name, ev.Airline, ev.Origin, ev.Destination, ev.Price.String(), ev.Currency)
}
