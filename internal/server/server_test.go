package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed_notifier/internal/scheduler"
)

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

type stubTask struct {
	state scheduler.State
	last  *scheduler.Outcome
}

func (t stubTask) State() scheduler.State { return t.state }
func (t stubTask) LastOutcome() *scheduler.Outcome { return t.last }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHealth_OK(t *testing.T) {
	finished := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := New(":0", stubPinger{}, map[string]TaskStatus{
		"ingest": stubTask{state: scheduler.StateScheduled, last: &scheduler.Outcome{FinishedAt: finished}},
		"notify": stubTask{state: scheduler.StateRunning},
	}, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, scheduler.StateScheduled, body.Tasks["ingest"].State)
	require.NotNil(t, body.Tasks["ingest"].LastSucceeded)
	assert.True(t, *body.Tasks["ingest"].LastSucceeded)
	assert.Nil(t, body.Tasks["notify"].LastSucceeded)
}

func TestHealth_DatabaseDown(t *testing.T) {
	srv := New(":0", stubPinger{err: errors.New("connection refused")}, nil, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestHealth_ReportsLastError(t *testing.T) {
	srv := New(":0", stubPinger{}, map[string]TaskStatus{
		"notify": stubTask{state: scheduler.StateScheduled, last: &scheduler.Outcome{Err: errors.New("boom")}},
	}, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "boom", body.Tasks["notify"].LastError)
	assert.False(t, *body.Tasks["notify"].LastSucceeded)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := New(":0", stubPinger{}, nil, testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := New("127.0.0.1:0", stubPinger{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
