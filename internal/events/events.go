// Package events defines the envelope and payloads the engine emits after a
// commit, and the Publisher contract the transport implements.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	EventOrderSettled        = "OrderSettled"
	EventOrderCancelled      = "OrderCancelled"
	EventOrderPaid           = "OrderPaid"
	EventOrdersExpired       = "OrdersExpired"
	EventBidPlaced           = "BidPlaced"
	EventAuctionSold         = "AuctionSold"
	EventReservationsExpired = "ReservationsExpired"

	// consumed from the payment collaborator
	EventPaymentAuthorized = "PaymentAuthorized"
	EventPaymentFailed     = "PaymentFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order, auction or sweep id
	Payload       json.RawMessage `json:"payload"`
}

// New wraps payload in a version 1 envelope.
func New(eventType, producer, correlationID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Decode unmarshals an envelope payload.
func Decode[T any](env Envelope) (T, error) {
	var t T
	err := json.Unmarshal(env.Payload, &t)
	return t, err
}

// Publisher hands committed facts to the outside world. Publishing is
// best-effort: an error is logged by the caller, never rolled back.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *Recorder) Publish(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envs...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.EventType
	}
	return out
}

// Emit builds and publishes one event after a commit. Failures are logged
// and otherwise ignored; the committed state is already authoritative.
func Emit(ctx context.Context, pub Publisher, log *zap.Logger, eventType, producer, correlationID string, at time.Time, payload any) {
	if pub == nil {
		return
	}
	env, err := New(eventType, producer, correlationID, at, payload)
	if err == nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			env.TraceID = sc.TraceID().String()
		}
		err = pub.Publish(ctx, env)
	}
	if err != nil && log != nil {
		log.Warn("publish event failed", zap.String("event_type", eventType),
			zap.String("correlation_id", correlationID), zap.Error(err))
	}
}
