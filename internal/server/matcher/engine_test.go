package matcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pricealert/internal/logging"
	"github.com/dmitrijs2005/pricealert/internal/server/models"
	"github.com/dmitrijs2005/pricealert/internal/server/queue"
	"github.com/dmitrijs2005/pricealert/internal/server/repositories/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGateway struct {
	mu   sync.Mutex
	msgs []string
	fail func(msg string) error
}

func (g *recordingGateway) SendAlert(_ context.Context, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		if err := g.fail(msg); err != nil {
			return err
		}
	}
	g.msgs = append(g.msgs, msg)
	return nil
}

func (g *recordingGateway) sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.msgs...)
}

func (g *recordingGateway) countFor(name string) int {
	n := 0
	for _, m := range g.sent() {
		if strings.HasPrefix(m, "Hi "+name+",") {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *recordingSink) Put(_ context.Context, payload []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type failingLister struct{ err error }

func (f failingLister) List(context.Context) ([]*models.User, error) { return nil, f.err }

func seedScenario(t *testing.T) *users.MemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := users.NewMemoryRepository()

	u1, err := repo.Create(ctx, &models.User{Name: "U1", Email: "u1@example.com"})
	require.NoError(t, err)
	for _, p := range []models.AlertPreference{
		pref("Paris", "1000", "USD"), pref("Rome", "700", "USD"), pref("Zurich", "1300", "USD"),
	} {
		_, err := repo.AddPreference(ctx, u1.ID, p)
		require.NoError(t, err)
	}

	u2, err := repo.Create(ctx, &models.User{Name: "U2", Email: "u2@example.com"})
	require.NoError(t, err)
	for _, p := range []models.AlertPreference{
		pref("London", "500", "USD"), pref("Zurich", "1200", "USD"),
	} {
		_, err := repo.AddPreference(ctx, u2.ID, p)
		require.NoError(t, err)
	}
	return repo
}

func publishScenario(t *testing.T, q queue.Publisher) {
	t.Helper()
	for _, ev := range []*models.PriceEvent{
		event("Zurich", "1500", "USD"),
		event("London", "400", "USD"),
		event("Paris", "600", "USD"),
		event("Rome", "600", "USD"),
		event("Zurich", "1200", "USD"),
	} {
		require.NoError(t, q.Publish(context.Background(), ev))
	}
}

func startEngine(t *testing.T, e *Engine) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- e.Run(ctx) }()
	return cancelFn, ch
}

func stopEngine(t *testing.T, cancel func(), done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngine_EndToEndScenario(t *testing.T) {
	q := queue.NewMemoryTransport("")
	repo := seedScenario(t)
	gw := &recordingGateway{}
	e := NewEngine(q, repo, gw, logging.Nop{}, WithPollInterval(5*time.Millisecond))

	publishScenario(t, q)
	cancel, done := startEngine(t, e)

	require.Eventually(t, func() bool { return len(gw.sent()) == 5 }, 2*time.Second, 5*time.Millisecond)
	stopEngine(t, cancel, done)

	assert.Equal(t, 3, gw.countFor("U1"))
	assert.Equal(t, 2, gw.countFor("U2"))
	for _, m := range gw.sent() {
		assert.NotContains(t, m, "1500")
	}
	assert.Contains(t, gw.sent(),
		"Hi U2, the flight 'Swiss' from Tel Aviv to London is now available for 400 USD.")

	depth, err := q.QueueDepth(context.Background(), queue.DefaultQueueName)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Equal(t, Stopped, e.State())
}

func TestEngine_ProcessEvent_NoDeduplication(t *testing.T) {
	ctx := context.Background()
	repo := users.NewMemoryRepository()
	u, err := repo.Create(ctx, &models.User{Name: "Dup", Email: "d@example.com"})
	require.NoError(t, err)
	p1 := pref("Rome", "700", "USD")
	p2 := pref("Rome", "800", "USD")
	p2.PreferenceID = "second"
	_, err = repo.AddPreference(ctx, u.ID, p1)
	require.NoError(t, err)
	_, err = repo.AddPreference(ctx, u.ID, p2)
	require.NoError(t, err)

	gw := &recordingGateway{}
	e := NewEngine(queue.NewMemoryTransport(""), repo, gw, logging.Nop{})

	for i := 0; i < 2; i++ {
		n, err := e.ProcessEvent(ctx, event("Rome", "600", "USD"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	assert.Len(t, gw.sent(), 4)
}

func TestEngine_GatewayFailureIsIsolated(t *testing.T) {
	repo := seedScenario(t)
	gw := &recordingGateway{fail: func(msg string) error {
		if strings.HasPrefix(msg, "Hi U1,") {
			return errors.New("device unreachable")
		}
		return nil
	}}
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	e := NewEngine(queue.NewMemoryTransport(""), repo, gw, logging.Nop{}, WithMetrics(m))

	n, err := e.ProcessEvent(context.Background(), event("Zurich", "1200", "USD"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, gw.countFor("U2"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("sent")))
}

func TestEngine_StoreFailureDoesNotStopLoop(t *testing.T) {
	q := queue.NewMemoryTransport("")
	boom := errors.New("store down")
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	e := NewEngine(q, failingLister{err: boom}, &recordingGateway{}, logging.Nop{},
		WithPollInterval(time.Millisecond), WithMetrics(m))

	_, err = e.ProcessEvent(context.Background(), event("Rome", "1", "USD"))
	assert.ErrorIs(t, err, boom)

	publishScenario(t, q)
	cancel, done := startEngine(t, e)
	require.Eventually(t, func() bool {
		depth, _ := q.QueueDepth(context.Background(), queue.DefaultQueueName)
		return depth == 0
	}, 2*time.Second, 5*time.Millisecond)
	stopEngine(t, cancel, done)

	assert.Equal(t, 6.0, testutil.ToFloat64(m.events.WithLabelValues("failed")))
}

func TestEngine_MalformedGoesToDeadLetter(t *testing.T) {
	q := queue.NewMemoryTransport("")
	require.NoError(t, q.PublishRaw(context.Background(), []byte("not json")))
	require.NoError(t, q.Publish(context.Background(), event("London", "400", "USD")))

	sink := &recordingSink{}
	gw := &recordingGateway{}
	e := NewEngine(q, seedScenario(t), gw, logging.Nop{},
		WithPollInterval(time.Millisecond), WithDeadLetter(sink))

	cancel, done := startEngine(t, e)
	require.Eventually(t, func() bool { return len(gw.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stopEngine(t, cancel, done)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, []byte("not json"), sink.payloads[0])
}

func TestEngine_StateTransitions(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	e := NewEngine(queue.NewMemoryTransport(""), users.NewMemoryRepository(), &recordingGateway{}, logging.Nop{},
		WithPollInterval(time.Millisecond),
		WithStateObserver(func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))
	assert.Equal(t, Idle, e.State())

	cancel, done := startEngine(t, e)
	require.Eventually(t, func() bool { return e.State() == Running }, time.Second, time.Millisecond)
	stopEngine(t, cancel, done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Running, Stopping, Stopped}, states)

	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyStarted)
}

func TestEngine_NoConsumptionAfterStop(t *testing.T) {
	q := queue.NewMemoryTransport("")
	gw := &recordingGateway{}
	e := NewEngine(q, seedScenario(t), gw, logging.Nop{}, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))

	publishScenario(t, q)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, gw.sent())
	depth, err := q.QueueDepth(context.Background(), queue.DefaultQueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(5), depth)
}

func TestEngine_InHandEventFinishesAfterCancel(t *testing.T) {
	q := queue.NewMemoryTransport("")
	require.NoError(t, q.Publish(context.Background(), event("London", "400", "USD")))
	require.NoError(t, q.Publish(context.Background(), event("Paris", "600", "USD")))

	ctx, cancel := context.WithCancel(context.Background())
	gw := &recordingGateway{fail: func(string) error {
		cancel()
		return nil
	}}
	e := NewEngine(q, seedScenario(t), gw, logging.Nop{}, WithPollInterval(time.Millisecond))

	require.NoError(t, e.Run(ctx))

	assert.Len(t, gw.sent(), 1)
	depth, err := q.QueueDepth(context.Background(), queue.DefaultQueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestNewMetrics_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	second.consumeFailed()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.consumeErrors))
}

// cancellingConsumer cancels the run context as it hands out its event, the
// way a shutdown signal can land while TryConsume is in flight.
type cancellingConsumer struct {
	inner  queue.Consumer
	cancel context.CancelFunc
}

func (c *cancellingConsumer) TryConsume(ctx context.Context) (*models.PriceEvent, error) {
	ev, err := c.inner.TryConsume(ctx)
	if ev != nil {
		c.cancel()
	}
	return ev, err
}

func TestEngine_StoppingWhileEventInHand(t *testing.T) {
	q := queue.NewMemoryTransport("")
	require.NoError(t, q.Publish(context.Background(), event("London", "400", "USD")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		e    *Engine
		seen []State
	)
	gw := &recordingGateway{fail: func(string) error {
		seen = append(seen, e.State())
		return nil
	}}
	var states []State
	e = NewEngine(&cancellingConsumer{inner: q, cancel: cancel}, seedScenario(t), gw, logging.Nop{},
		WithPollInterval(time.Millisecond),
		WithStateObserver(func(s State) { states = append(states, s) }))

	require.NoError(t, e.Run(ctx))

	assert.Equal(t, []State{Stopping}, seen)
	assert.Len(t, gw.sent(), 1)
	assert.Equal(t, []State{Running, Stopping, Stopped}, states)
}
