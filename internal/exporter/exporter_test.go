package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylandreimerink/perfevent"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	log.SetOutput(io.Discard)

	return log
}

func startServer(t *testing.T, read ReadFunc, counters []Counter) *Server {
	t.Helper()

	s, err := NewServer(testLog(), "127.0.0.1:0", NewCollector(testLog(), read, counters))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	t.Cleanup(func() {
		cancel()
		s.Stop()
	})

	// Give server a moment to start serving.
	time.Sleep(50 * time.Millisecond)

	return s
}

func scrape(t *testing.T, s *Server, path string) string {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://%s%s", s.Addr(), path))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector(t *testing.T) {
	read := func() (perfevent.CountingGroupResult, error) {
		return perfevent.CountingGroupResult{
			TimeEnabled: 2_000_000_000,
			TimeRunning: 1_000_000_000,
			Members: map[uint64]perfevent.CountingResult{
				10: {EventCount: 300, TimeEnabled: 2_000_000_000, TimeRunning: 1_000_000_000},
				11: {EventCount: 50, TimeEnabled: 2_000_000_000, TimeRunning: 1_000_000_000, Lost: 2},
			},
		}, nil
	}

	s := startServer(t, read, []Counter{
		{Name: "cpu-cycles", ID: 10},
		{Name: "instructions", ID: 11},
		{Name: "cache-misses", ID: 12},
	})

	body := scrape(t, s, "/metrics")
	assert.Contains(t, body, `perfevent_event_count_total{event="cpu-cycles"} 300`)
	assert.Contains(t, body, `perfevent_event_scaled_total{event="cpu-cycles"} 600`)
	assert.Contains(t, body, `perfevent_event_lost_total{event="instructions"} 2`)
	assert.Contains(t, body, `perfevent_time_enabled_seconds_total 2`)
	assert.Contains(t, body, `perfevent_time_running_seconds_total 1`)
	assert.Contains(t, body, `perfevent_read_errors_total 0`)
	assert.NotContains(t, body, `cache-misses`)
}

func TestCollectorReadError(t *testing.T) {
	read := func() (perfevent.CountingGroupResult, error) {
		return perfevent.CountingGroupResult{}, errors.New("bad file descriptor")
	}

	s := startServer(t, read, []Counter{{Name: "cpu-cycles", ID: 10}})

	body := scrape(t, s, "/metrics")
	assert.Contains(t, body, `perfevent_read_errors_total 1`)
	assert.NotContains(t, body, `perfevent_event_count_total`)
}

func TestServerHealthz(t *testing.T) {
	s := startServer(t, func() (perfevent.CountingGroupResult, error) {
		return perfevent.CountingGroupResult{}, nil
	}, nil)

	assert.True(t, s.running.Load())
	assert.Equal(t, "ok", scrape(t, s, "/healthz"))
}
