// Package webhook delivers alert events to registered HTTP endpoints. Every
// delivery is signed with HMAC-SHA256 over the request body, retried on
// transport errors and 5xx/429 responses, and recorded in a delivery log.
package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/quantnex/quantnex/internal/platform/memstore"
)

// Endpoint statuses.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Delivery outcomes.
const (
	DeliverySucceeded = "success"
	DeliveryFailed    = "failed"
)

// Signature headers sent with every delivery.
const (
	HeaderSignature = "X-QuantNex-Signature"
	HeaderEvent     = "X-QuantNex-Event"
	HeaderDelivery  = "X-QuantNex-Delivery"
	HeaderTimestamp = "X-QuantNex-Timestamp"
)

// EventTest is the synthetic event sent by the test action.
const EventTest = "webhook.test"

var (
	ErrNotFound  = errors.New("webhook not found")
	ErrClosed    = errors.New("webhook dispatcher closed")
	ErrQueueFull = errors.New("webhook queue full")
)

// Endpoint is a registered delivery target. Events holds subscription
// patterns: an exact type ("alert.raised"), a prefix wildcard ("alert.*")
// or "*".
type Endpoint struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Secret      string    `json:"-"`
	Events      []string  `json:"events"`
	Description string    `json:"description,omitempty"`
	TenantID    string    `json:"tenantId,omitempty"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e *Endpoint) Key() int64 { return e.ID }

func (e *Endpoint) Stamp(id int64, now time.Time) {
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
}

func (e *Endpoint) Touch(now time.Time) { e.UpdatedAt = now }

// Subscribes reports whether the endpoint wants events of eventType.
func (e *Endpoint) Subscribes(eventType string) bool {
	for _, p := range e.Events {
		if eventMatches(p, eventType) {
			return true
		}
	}
	return false
}

func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// Event is the JSON body posted to endpoints.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	PatientID string          `json:"patientId,omitempty"`
	TenantID  string          `json:"tenantId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Delivery records one attempt to deliver an event to an endpoint.
type Delivery struct {
	ID           int64     `json:"id"`
	EndpointID   int64     `json:"endpointId"`
	EventID      string    `json:"eventId"`
	EventType    string    `json:"eventType"`
	Attempt      int       `json:"attempt"`
	Status       string    `json:"status"`
	StatusCode   int       `json:"statusCode,omitempty"`
	ResponseBody string    `json:"responseBody,omitempty"`
	Error        string    `json:"error,omitempty"`
	DurationMS   int64     `json:"durationMs"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"-"`

	payload []byte
}

func (d *Delivery) Key() int64 { return d.ID }

func (d *Delivery) Stamp(id int64, now time.Time) {
	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
}

func (d *Delivery) Touch(now time.Time) { d.UpdatedAt = now }

// Store keeps endpoints and the delivery log in memory. Registrations do not
// survive a restart.
type Store struct {
	endpoints  *memstore.Table[Endpoint, *Endpoint]
	deliveries *memstore.Table[Delivery, *Delivery]
}

func NewStore() *Store {
	return &Store{
		endpoints:  memstore.NewTable[Endpoint, *Endpoint](),
		deliveries: memstore.NewTable[Delivery, *Delivery](),
	}
}

func (s *Store) CreateEndpoint(ep *Endpoint) {
	s.endpoints.Insert(ep)
}

func (s *Store) Endpoint(id int64) (*Endpoint, error) {
	ep, ok := s.endpoints.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return ep, nil
}

// Endpoints returns the endpoints of a tenant in registration order.
func (s *Store) Endpoints(tenantID string) []*Endpoint {
	return s.endpoints.Filter(func(ep *Endpoint) bool { return ep.TenantID == tenantID })
}

func (s *Store) SetStatus(id int64, status string) (*Endpoint, error) {
	ep, ok := s.endpoints.Modify(id, func(ep *Endpoint) bool {
		if ep.Status == status {
			return false
		}
		ep.Status = status
		return true
	})
	if !ok {
		return nil, ErrNotFound
	}
	return ep, nil
}

// DeleteEndpoint removes the endpoint and its delivery log.
func (s *Store) DeleteEndpoint(id int64) error {
	if !s.endpoints.Delete(id) {
		return ErrNotFound
	}
	for _, d := range s.deliveries.Filter(func(d *Delivery) bool { return d.EndpointID == id }) {
		s.deliveries.Delete(d.ID)
	}
	return nil
}

func (s *Store) RecordDelivery(d *Delivery) {
	s.deliveries.Insert(d)
}

func (s *Store) Delivery(id int64) (*Delivery, error) {
	d, ok := s.deliveries.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// Deliveries returns the log of an endpoint, newest first.
func (s *Store) Deliveries(endpointID int64) []*Delivery {
	return memstore.Reverse(s.deliveries.Filter(func(d *Delivery) bool { return d.EndpointID == endpointID }))
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value ("sha256=<hex>" or bare hex).
func Verify(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
