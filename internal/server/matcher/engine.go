package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/pricealert/internal/logging"
	"github.com/dmitrijs2005/pricealert/internal/server/deadletter"
	"github.com/dmitrijs2005/pricealert/internal/server/delivery"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
	"github.com/dmitrijs2005/pricealert/internal/server/queue"
)

const DefaultPollInterval = 100 * time.Millisecond

var ErrAlreadyStarted = errors.New("engine already started")

// UserLister is the part of the preference store the engine reads.
type UserLister interface {
	List(ctx context.Context) ([]*models.User, error)
}

type Option func(*Engine)

func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

func WithDeadLetter(s deadletter.Sink) Option {
	return func(e *Engine) { e.deadLetter = s }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStateObserver registers fn to be called on every state change.
func WithStateObserver(fn func(State)) Option {
	return func(e *Engine) { e.observer = fn }
}

// Engine drains the queue one event at a time and delivers an alert for
// every (user, preference) pair the event satisfies.
type Engine struct {
	consumer     queue.Consumer
	users        UserLister
	gateway      delivery.Gateway
	deadLetter   deadletter.Sink
	metrics      *Metrics
	logger       logging.Logger
	observer     func(State)
	pollInterval time.Duration

	stateMu sync.Mutex
	state   atomic.Int32
	started atomic.Bool
}

func NewEngine(consumer queue.Consumer, users UserLister, gateway delivery.Gateway, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		consumer:     consumer,
		users:        users,
		gateway:      gateway,
		logger:       logger.With("module", "matcher"),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deadLetter == nil {
		e.deadLetter = deadletter.NewLogSink(e.logger)
	}
	return e
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// setState only moves forward; repeated or backward transitions are
// ignored so the observer sees each state at most once.
func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if s <= State(e.state.Load()) {
		return
	}
	e.state.Store(int32(s))
	if e.observer != nil {
		e.observer(s)
	}
}

// Run consumes until ctx is cancelled. An event already taken off the
// queue is fully processed before Run returns. Run may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	e.setState(Running)
	e.logger.Info(ctx, "matching engine started", "poll_interval", e.pollInterval.String())
	defer func() {
		e.setState(Stopped)
		e.logger.Info(context.WithoutCancel(ctx), "matching engine stopped")
	}()
	stop := context.AfterFunc(ctx, func() { e.setState(Stopping) })
	defer stop()

	for {
		if ctx.Err() != nil {
			e.setState(Stopping)
			return nil
		}

		ev, err := e.consumer.TryConsume(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			var me *queue.MalformedEventError
			if errors.As(err, &me) {
				e.handleMalformed(ctx, me)
				continue
			}
			e.metrics.consumeFailed()
			e.logger.Error(ctx, "consume failed", "error", err)
			e.wait(ctx)
		case ev == nil:
			e.wait(ctx)
		default:
			if ctx.Err() != nil {
				e.setState(Stopping)
			}
			// the event is already off the queue, so finish it even if
			// cancellation arrives meanwhile
			_, _ = e.ProcessEvent(context.WithoutCancel(ctx), ev)
		}
	}
}

func (e *Engine) wait(ctx context.Context) {
	t := time.NewTimer(e.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) handleMalformed(ctx context.Context, me *queue.MalformedEventError) {
	e.metrics.eventMalformed()
	e.logger.Warn(ctx, "skipping malformed event", "error", me.Err)
	if err := e.deadLetter.Put(context.WithoutCancel(ctx), me.Payload, me.Err.Error()); err != nil {
		e.logger.Error(ctx, "dead letter failed", "error", err)
	}
}

// ProcessEvent matches ev against the current user population and hands
// every match to the gateway. It returns the number of alerts delivered.
// Only a store failure is returned; gateway failures are logged per pair.
func (e *Engine) ProcessEvent(ctx context.Context, ev *models.PriceEvent) (int, error) {
	start := time.Now()
	log := e.logger.With("flight_id", ev.FlightID, "destination", ev.Destination)

	users, err := e.users.List(ctx)
	if err != nil {
		err = fmt.Errorf("load users: %w", err)
		e.metrics.eventProcessed(time.Since(start), err)
		log.Error(ctx, "event processing failed", "error", err)
		return 0, err
	}

	sent := 0
	for _, u := range users {
		for _, pref := range u.AlertPreferences {
			if !Match(pref, ev) {
				continue
			}
			err := e.gateway.SendAlert(ctx, FormatAlert(u, ev))
			e.metrics.alert(err)
			if err != nil {
				log.Error(ctx, "alert delivery failed",
					"user_id", u.ID, "preference_id", pref.PreferenceID, "error", err)
				continue
			}
			sent++
		}
	}

	e.metrics.eventProcessed(time.Since(start), nil)
	log.Debug(ctx, "event processed", "alerts", sent, "users", len(users))
	return sent, nil
}
