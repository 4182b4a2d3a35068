// Package deadletter keeps queue payloads the matching engine could not
// decode, so they can be inspected after they left the queue.
package deadletter

import (
	"context"

	"github.com/dmitrijs2005/pricealert/internal/logging"
)

type Sink interface {
	Put(ctx context.Context, payload []byte, reason string) error
}

// LogSink writes the payload to the log and keeps nothing else.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Put(ctx context.Context, payload []byte, reason string) error {
	s.logger.Warn(ctx, "dead letter", "reason", reason, "payload", string(payload))
	return nil
}
