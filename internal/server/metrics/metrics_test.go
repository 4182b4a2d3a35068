package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/pricealert/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	depth := int64(3)
	err := RegisterQueueDepth(reg, "FlightPricesQueue", func(ctx context.Context, q string) (int64, error) {
		return depth, nil
	}, logging.Nop{})
	require.NoError(t, err)

	expected := `
# HELP pricealert_queue_depth Approximate number of pending price events.
# TYPE pricealert_queue_depth gauge
pricealert_queue_depth{queue="FlightPricesQueue"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pricealert_queue_depth"))
}

func TestRegisterQueueDepth_Failure(t *testing.T) {
	reg := prometheus.NewRegistry()
	err := RegisterQueueDepth(reg, "q", func(ctx context.Context, q string) (int64, error) {
		return 0, errors.New("broker down")
	}, logging.Nop{})
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "pricealert_queue_depth")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expected := `
# HELP pricealert_queue_depth Approximate number of pending price events.
# TYPE pricealert_queue_depth gauge
pricealert_queue_depth{queue="q"} -1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pricealert_queue_depth"))
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := NewServer(":0", reg, logging.Nop{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "test_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", prometheus.NewRegistry(), logging.Nop{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
