// Package queue carries price events between the upstream price fetcher
// and the matching engine.
//
// A TryConsume that returns an event has already removed it from the
// queue: there is no separate acknowledge step, so an event whose
// processing fails afterwards is not redelivered.
package queue

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/pricealert/internal/common"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
)

// DefaultQueueName is the queue the price fetcher publishes to.
const DefaultQueueName = "FlightPricesQueue"

type Publisher interface {
	// Publish enqueues one event. Transport failures are returned, never
	// dropped.
	Publish(ctx context.Context, ev *models.PriceEvent) error
}

type Consumer interface {
	// TryConsume removes and returns the next event, or nil when the queue
	// is currently empty. It never blocks past ctx cancellation.
	TryConsume(ctx context.Context) (*models.PriceEvent, error)
}

type Transport interface {
	Publisher
	Consumer

	// QueueDepth is an approximate number of pending events, for
	// monitoring only.
	QueueDepth(ctx context.Context, queueName string) (int64, error)
	Close() error
}

// MalformedEventError is returned by TryConsume for a payload that was
// removed from the queue but could not be decoded.
type MalformedEventError struct {
	Payload []byte
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("%v: %v", common.ErrMalformedEvent, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

func (e *MalformedEventError) Is(target error) bool { return target == common.ErrMalformedEvent }

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrTransientTransport, err)
}
