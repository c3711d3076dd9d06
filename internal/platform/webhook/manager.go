package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/db"
	"github.com/quantnex/quantnex/internal/platform/jobs"
	"github.com/quantnex/quantnex/internal/platform/metrics"
	"github.com/quantnex/quantnex/internal/platform/websocket"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
	responseLimit    = 1024
)

var (
	ErrDelivered     = errors.New("delivery already succeeded")
	ErrInvalidURL    = errors.New("webhook url must use http or https")
	ErrInvalidEvents = errors.New("invalid event pattern")

	eventPattern = regexp.MustCompile(`^(\*|[a-z]+\.(\*|[a-z_]+))$`)
)

// RegisterRequest is the body of an endpoint registration.
type RegisterRequest struct {
	URL         string   `json:"url" validate:"required,http_url"`
	Events      []string `json:"events" validate:"required,min=1,dive,required"`
	Secret      string   `json:"secret" validate:"omitempty,min=16"`
	Description string   `json:"description" validate:"max=200"`
}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithRetryDelays sets the waits between attempts. An event is attempted
// len(delays)+1 times at most.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(m *Manager) { m.retryDelays = delays }
}

func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

type task struct {
	endpointID int64
	event      Event
}

// Manager registers endpoints and fans events out to them on a bounded
// queue served by a fixed set of workers.
type Manager struct {
	store       *Store
	client      *http.Client
	retryDelays []time.Duration
	workers     int
	queueSize   int
	logger      zerolog.Logger

	queue  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewManager(store *Store, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		client:      &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 30 * time.Second, 5 * time.Minute},
		workers:     defaultWorkers,
		queueSize:   defaultQueueSize,
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	m.queue = make(chan task, m.queueSize)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Register validates and stores an endpoint for the caller's tenant. When
// no secret is supplied one is generated; the returned endpoint carries it.
func (m *Manager) Register(ctx context.Context, req *RegisterRequest) (*Endpoint, error) {
	if !httpURL(req.URL) {
		return nil, ErrInvalidURL
	}
	for _, e := range req.Events {
		if !eventPattern.MatchString(e) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEvents, e)
		}
	}
	secret := req.Secret
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	ep := &Endpoint{
		URL:         req.URL,
		Secret:      secret,
		Events:      append([]string(nil), req.Events...),
		Description: req.Description,
		TenantID:    db.TenantFromContext(ctx),
		Status:      StatusActive,
		CreatedBy:   auth.ActorFromContext(ctx),
	}
	m.store.CreateEndpoint(ep)
	m.logger.Info().Int64("endpoint_id", ep.ID).Str("url", ep.URL).Strs("events", ep.Events).Msg("webhook registered")
	return ep, nil
}

func (m *Manager) List(ctx context.Context) []*Endpoint {
	return m.store.Endpoints(db.TenantFromContext(ctx))
}

// Get returns the endpoint when it belongs to the caller's tenant.
func (m *Manager) Get(ctx context.Context, id int64) (*Endpoint, error) {
	ep, err := m.store.Endpoint(id)
	if err != nil {
		return nil, err
	}
	if ep.TenantID != db.TenantFromContext(ctx) {
		return nil, ErrNotFound
	}
	return ep, nil
}

func (m *Manager) Delete(ctx context.Context, id int64) error {
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	return m.store.DeleteEndpoint(id)
}

func (m *Manager) Pause(ctx context.Context, id int64) (*Endpoint, error) {
	return m.setStatus(ctx, id, StatusPaused)
}

func (m *Manager) Resume(ctx context.Context, id int64) (*Endpoint, error) {
	return m.setStatus(ctx, id, StatusActive)
}

func (m *Manager) setStatus(ctx context.Context, id int64, status string) (*Endpoint, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.store.SetStatus(id, status)
}

func (m *Manager) Deliveries(ctx context.Context, id int64) ([]*Delivery, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.store.Deliveries(id), nil
}

// Publish queues e for every active endpoint of the caller's tenant that
// subscribes to its type. It never blocks; a full queue drops the event for
// that endpoint and is reported in the returned error.
func (m *Manager) Publish(ctx context.Context, e websocket.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	ev := Event{
		ID:        uuid.NewString(),
		Type:      e.Type,
		PatientID: e.PatientID,
		TenantID:  db.TenantFromContext(ctx),
		Data:      e.Data,
		Timestamp: e.Timestamp,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var errs []error
	for _, ep := range m.store.Endpoints(ev.TenantID) {
		if ep.Status != StatusActive || !ep.Subscribes(ev.Type) {
			continue
		}
		select {
		case m.queue <- task{endpointID: ep.ID, event: ev}:
		default:
			metrics.RecordWebhookDelivery(ev.Type, "dropped")
			errs = append(errs, fmt.Errorf("endpoint %d: %w", ep.ID, ErrQueueFull))
		}
	}
	return errors.Join(errs...)
}

// Test sends a synthetic event to the endpoint once and returns the result.
func (m *Manager) Test(ctx context.Context, id int64) (*Delivery, error) {
	ep, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ev := Event{
		ID:        uuid.NewString(),
		Type:      EventTest,
		TenantID:  ep.TenantID,
		Data:      json.RawMessage(`{"test":true}`),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return m.attempt(ctx, ep, ev, payload, 1), nil
}

// Retry re-sends the payload of a failed delivery once.
func (m *Manager) Retry(ctx context.Context, deliveryID int64) (*Delivery, error) {
	d, err := m.store.Delivery(deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := m.Get(ctx, d.EndpointID)
	if err != nil {
		return nil, err
	}
	if d.Status == DeliverySucceeded {
		return nil, ErrDelivered
	}
	var ev Event
	if err := json.Unmarshal(d.payload, &ev); err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	return m.attempt(ctx, ep, ev, d.payload, d.Attempt+1), nil
}

// Close stops accepting events and waits for queued deliveries. When ctx
// expires first, pending retries are abandoned.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for t := range m.queue {
		if m.ctx.Err() != nil {
			continue
		}
		m.deliver(t)
	}
}

func (m *Manager) deliver(t task) {
	payload, err := json.Marshal(t.event)
	if err != nil {
		m.logger.Error().Err(err).Str("event_id", t.event.ID).Msg("encode webhook event")
		return
	}
	for n := 1; ; n++ {
		ep, err := m.store.Endpoint(t.endpointID)
		if err != nil || ep.Status != StatusActive {
			return
		}
		d := m.attempt(m.ctx, ep, t.event, payload, n)
		if d.Status == DeliverySucceeded || !retryable(d) || n > len(m.retryDelays) {
			return
		}
		if err := jobs.Sleep(m.ctx, m.retryDelays[n-1]); err != nil {
			return
		}
	}
}

// attempt performs one signed POST and records it.
func (m *Manager) attempt(ctx context.Context, ep *Endpoint, ev Event, payload []byte, n int) *Delivery {
	d := &Delivery{
		EndpointID: ep.ID,
		EventID:    ev.ID,
		EventType:  ev.Type,
		Attempt:    n,
		Status:     DeliveryFailed,
		payload:    payload,
	}
	defer func() {
		m.store.RecordDelivery(d)
		metrics.RecordWebhookDelivery(ev.Type, d.Status)
		var log *zerolog.Event
		if d.Status == DeliverySucceeded {
			log = m.logger.Info()
		} else {
			log = m.logger.Warn().Str("error", d.Error)
		}
		log.Int64("endpoint_id", ep.ID).
			Str("event_id", ev.ID).
			Str("type", ev.Type).
			Int("attempt", n).
			Int("status_code", d.StatusCode).
			Int64("duration_ms", d.DurationMS).
			Msg("webhook delivery")
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, "sha256="+Sign(payload, ep.Secret))
	req.Header.Set(HeaderEvent, ev.Type)
	req.Header.Set(HeaderDelivery, ev.ID)
	req.Header.Set(HeaderTimestamp, ev.Timestamp.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := m.client.Do(req)
	d.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	d.ResponseBody = string(body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Status = DeliverySucceeded
	} else {
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return d
}

func retryable(d *Delivery) bool {
	switch {
	case d.StatusCode == 0:
		return true
	case d.StatusCode == http.StatusRequestTimeout, d.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return d.StatusCode >= 500
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
