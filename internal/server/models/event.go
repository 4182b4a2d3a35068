// Package models defines the data shared by the queue, the preference
// store and the matching engine.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceEvent is one inbound message describing a flight's current price.
// It is immutable once produced.
type PriceEvent struct {
	FlightID      string
	Airline       string
	Origin        string
	Destination   string
	Price         decimal.Decimal
	Currency      string
	DepartureDate time.Time
}
