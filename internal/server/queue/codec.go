package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pricealert/internal/server/models"
	"github.com/shopspring/decimal"
)

// wireEvent is the JSON shape of one queue message. Price travels as a
// JSON number; departureDate as RFC 3339 with nanoseconds.
type wireEvent struct {
	FlightID      string      `json:"flightId"`
	Airline       string      `json:"airline"`
	Origin        string      `json:"origin"`
	Destination   string      `json:"destination"`
	Price         json.Number `json:"price"`
	Currency      string      `json:"currency"`
	DepartureDate time.Time   `json:"departureDate"`
}

// Encode serialises ev into its queue payload.
func Encode(ev *models.PriceEvent) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	return json.Marshal(wireEvent{
		FlightID:      ev.FlightID,
		Airline:       ev.Airline,
		Origin:        ev.Origin,
		Destination:   ev.Destination,
		Price:         json.Number(ev.Price.String()),
		Currency:      ev.Currency,
		DepartureDate: ev.DepartureDate,
	})
}

// Decode parses a queue payload. Any failure is a *MalformedEventError.
func Decode(payload []byte) (*models.PriceEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, malformed(payload, err)
	}

	price, err := decimal.NewFromString(w.Price.String())
	if err != nil {
		return nil, malformed(payload, fmt.Errorf("price: %w", err))
	}

	switch {
	case price.IsNegative():
		return nil, malformed(payload, fmt.Errorf("negative price %s", price))
	case w.Destination == "":
		return nil, malformed(payload, errors.New("missing destination"))
	case w.Currency == "":
		return nil, malformed(payload, errors.New("missing currency"))
	}

	return &models.PriceEvent{
		FlightID:      w.FlightID,
		Airline:       w.Airline,
		Origin:        w.Origin,
		Destination:   w.Destination,
		Price:         price,
		Currency:      w.Currency,
		DepartureDate: w.DepartureDate,
	}, nil
}

func malformed(payload []byte, err error) error {
	return &MalformedEventError{Payload: append([]byte(nil), payload...), Err: err}
}
