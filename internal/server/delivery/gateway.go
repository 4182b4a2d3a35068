// Package delivery hands formatted alerts to the device push mechanism.
package delivery

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/pricealert/internal/common"
	"github.com/dmitrijs2005/pricealert/internal/logging"
)

// Gateway delivers one fully formatted alert.
type Gateway interface {
	SendAlert(ctx context.Context, message string) error
}

// LogGateway stands in for the push transport by logging each alert.
type LogGateway struct {
	logger logging.Logger
}

func NewLogGateway(logger logging.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) SendAlert(ctx context.Context, message string) error {
	if message == "" {
		return common.ErrorValidation
	}
	g.logger.Info(ctx, "Push alert sent: "+message)
	return nil
}

// RetryingGateway retries a delegate with exponential backoff. Validation
// errors are not retried.
type RetryingGateway struct {
	delegate     Gateway
	buildBackoff func() backoff.BackOff
}

// DefaultMaxElapsed bounds the retries of one alert when no limit is set.
const DefaultMaxElapsed = 5 * time.Second

func NewRetryingGateway(delegate Gateway, factory func() backoff.BackOff) *RetryingGateway {
	if factory == nil {
		factory = ExponentialBackOff(DefaultMaxElapsed)
	}
	return &RetryingGateway{delegate: delegate, buildBackoff: factory}
}

// ExponentialBackOff returns a factory bounded by maxElapsed in total. A
// non-positive maxElapsed means DefaultMaxElapsed; the library would read
// zero as "retry forever".
func ExponentialBackOff(maxElapsed time.Duration) func() backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = DefaultMaxElapsed
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxElapsedTime = maxElapsed
		return b
	}
}

func (g *RetryingGateway) SendAlert(ctx context.Context, message string) error {
	b := backoff.WithContext(g.buildBackoff(), ctx)
	return backoff.Retry(func() error {
		err := g.delegate.SendAlert(ctx, message)
		if errors.Is(err, common.ErrorValidation) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

var (
	_ Gateway = (*LogGateway)(nil)
	_ Gateway = (*RetryingGateway)(nil)
)
