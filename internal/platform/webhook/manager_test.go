package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantnex/quantnex/internal/platform/db"
	"github.com/quantnex/quantnex/internal/platform/websocket"
)

type receiver struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	statuses []int
	calls    atomic.Int32
}

// newReceiver answers with statuses in order, then 200.
func newReceiver(t *testing.T, statuses ...int) (*receiver, *httptest.Server) {
	t.Helper()
	r := &receiver{statuses: statuses}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		n := int(r.calls.Add(1))
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return r, srv
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(NewStore(), zerolog.Nop(), WithRetryDelays(time.Millisecond, time.Millisecond), WithWorkers(1))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func alertEvent(eventType string) websocket.Event {
	return websocket.Event{
		Type:      eventType,
		Topic:     websocket.TopicAlerts,
		PatientID: "P-1",
		Data:      json.RawMessage(`{"id":1,"type":"critical"}`),
	}
}

func TestManager_RegisterValidates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, &RegisterRequest{URL: "ftp://hooks.test", Events: []string{"alert.*"}})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = m.Register(ctx, &RegisterRequest{URL: "https://hooks.test", Events: []string{"Alert Raised"}})
	assert.ErrorIs(t, err, ErrInvalidEvents)

	ep, err := m.Register(ctx, &RegisterRequest{URL: "https://hooks.test", Events: []string{"alert.*"}})
	require.NoError(t, err)
	assert.Len(t, ep.Secret, 64, "generated secret is 32 random bytes in hex")
	assert.Equal(t, StatusActive, ep.Status)
}

func TestManager_DeliversSignedEvent(t *testing.T) {
	rcv, srv := newReceiver(t)
	m := newTestManager(t)
	ctx := context.Background()

	ep, err := m.Register(ctx, &RegisterRequest{URL: srv.URL, Events: []string{"alert.raised"}, Secret: "0123456789abcdef"})
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, alertEvent("alert.raised")))
	require.NoError(t, m.Publish(ctx, alertEvent("alert.acknowledged")))

	waitFor(t, func() bool { return len(m.store.Deliveries(ep.ID)) == 1 })
	assert.Equal(t, int32(1), rcv.calls.Load(), "unsubscribed event type is not sent")

	rcv.mu.Lock()
	body, h := rcv.bodies[0], rcv.headers[0]
	rcv.mu.Unlock()
	assert.True(t, Verify(body, "0123456789abcdef", h.Get(HeaderSignature)))
	assert.Equal(t, "alert.raised", h.Get(HeaderEvent))

	var ev Event
	require.NoError(t, json.Unmarshal(body, &ev))
	assert.Equal(t, "P-1", ev.PatientID)
	assert.Equal(t, h.Get(HeaderDelivery), ev.ID)
	assert.JSONEq(t, `{"id":1,"type":"critical"}`, string(ev.Data))

	d := m.store.Deliveries(ep.ID)[0]
	assert.Equal(t, DeliverySucceeded, d.Status)
	assert.Equal(t, http.StatusOK, d.StatusCode)
	assert.Equal(t, "ok", d.ResponseBody)
}

func TestManager_RetriesServerErrors(t *testing.T) {
	rcv, srv := newReceiver(t, http.StatusBadGateway, http.StatusServiceUnavailable)
	m := newTestManager(t)
	ctx := context.Background()

	ep, err := m.Register(ctx, &RegisterRequest{URL: srv.URL, Events: []string{"*"}})
	require.NoError(t, err)
	require.NoError(t, m.Publish(ctx, alertEvent("alert.raised")))

	waitFor(t, func() bool { return len(m.store.Deliveries(ep.ID)) == 3 })
	log := m.store.Deliveries(ep.ID)
	assert.Equal(t, DeliverySucceeded, log[0].Status)
	assert.Equal(t, 3, log[0].Attempt)
	assert.Equal(t, DeliveryFailed, log[2].Status)
	assert.Equal(t, int32(3), rcv.calls.Load())
}

func TestManager_ClientErrorsAreNotRetried(t *testing.T) {
	rcv, srv := newReceiver(t, http.StatusBadRequest)
	m := newTestManager(t)
	ctx := context.Background()

	ep, err := m.Register(ctx, &RegisterRequest{URL: srv.URL, Events: []string{"alert.*"}})
	require.NoError(t, err)
	require.NoError(t, m.Publish(ctx, alertEvent("alert.raised")))

	waitFor(t, func() bool { return len(m.store.Deliveries(ep.ID)) == 1 })
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, int32(1), rcv.calls.Load())

	d := m.store.Deliveries(ep.ID)[0]
	assert.Equal(t, DeliveryFailed, d.Status)
	assert.Contains(t, d.Error, "400")
}

func TestManager_PausedEndpointsAreSkipped(t *testing.T) {
	rcv, srv := newReceiver(t)
	m := newTestManager(t)
	ctx := context.Background()

	ep, err := m.Register(ctx, &RegisterRequest{URL: srv.URL, Events: []string{"alert.*"}})
	require.NoError(t, err)
	_, err = m.Pause(ctx, ep.ID)
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, alertEvent("alert.raised")))
	require.NoError(t, m.Close(context.Background()))
	assert.Zero(t, rcv.calls.Load())
}

func TestManager_TenantIsolation(t *testing.T) {
	m := newTestManager(t)
	acme := context.WithValue(context.Background(), db.TenantIDKey, "acme")
	other := context.WithValue(context.Background(), db.TenantIDKey, "other")

	ep, err := m.Register(acme, &RegisterRequest{URL: "https://hooks.test", Events: []string{"alert.*"}})
	require.NoError(t, err)

	assert.Len(t, m.List(acme), 1)
	assert.Empty(t, m.List(other))
	_, err = m.Get(other, ep.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(other, ep.ID), ErrNotFound)
}

func TestManager_TestAndRetry(t *testing.T) {
	_, srv := newReceiver(t, http.StatusInternalServerError)
	m := newTestManager(t)
	ctx := context.Background()

	ep, err := m.Register(ctx, &RegisterRequest{URL: srv.URL, Events: []string{"alert.*"}})
	require.NoError(t, err)

	d, err := m.Test(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, EventTest, d.EventType)
	assert.Equal(t, DeliveryFailed, d.Status)

	again, err := m.Retry(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliverySucceeded, again.Status)
	assert.Equal(t, 2, again.Attempt)
	assert.Equal(t, d.EventID, again.EventID)

	_, err = m.Retry(ctx, again.ID)
	assert.ErrorIs(t, err, ErrDelivered)
	_, err = m.Retry(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_QueueFullAndClosed(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	m := NewManager(NewStore(), zerolog.Nop(), WithWorkers(1), WithQueueSize(1), WithRetryDelays())
	ctx := context.Background()
	_, err := m.Register(ctx, &RegisterRequest{URL: srv.URL, Events: []string{"*"}})
	require.NoError(t, err)

	var full error
	for i := 0; i < 5 && full == nil; i++ {
		full = m.Publish(ctx, alertEvent("alert.raised"))
	}
	assert.ErrorIs(t, full, ErrQueueFull)

	closeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(m.Close(closeCtx), context.DeadlineExceeded))
	assert.ErrorIs(t, m.Publish(ctx, alertEvent("alert.raised")), ErrClosed)
	assert.NoError(t, m.Close(ctx), "second close is a no-op")
}
