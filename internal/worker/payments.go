// Package worker runs the engine's background duties: the periodic sweep of
// expired holds and unpaid orders, and the consumer for payment outcomes.
package worker

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/events"
	kafkax "github.com/ariefcatur/go-storefront-engine/internal/kafka"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
)

type Orders interface {
	MarkPaid(ctx context.Context, orderID, paymentRef string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID, userID, reason string) (domain.Order, error)
}

type Dedup interface {
	FirstSeen(ctx context.Context, service, eventID string) (bool, error)
	Forget(ctx context.Context, service, eventID string) error
}

// PaymentHandler applies payment outcomes to orders. It is installed as a
// kafka.Handler; a nil return commits the offset.
type PaymentHandler struct {
	Orders  Orders
	Dedup   Dedup
	Service string
	Log     *zap.Logger
}

func (h *PaymentHandler) Handle(ctx context.Context, m kafka.Message) error {
	log := logx.OrNop(h.Log)

	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		log.Warn("dropping undecodable message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != events.EventPaymentAuthorized && env.EventType != events.EventPaymentFailed {
		return nil
	}

	if h.Dedup != nil {
		first, err := h.Dedup.FirstSeen(ctx, h.Service, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}

	err = h.apply(ctx, env)
	if domain.IsDomain(err) {
		// redelivery cannot change the outcome
		log.Info("payment event rejected", zap.String("event_id", env.EventID),
			zap.String("event_type", env.EventType), zap.Error(err))
		return nil
	}
	if err != nil && h.Dedup != nil {
		if ferr := h.Dedup.Forget(ctx, h.Service, env.EventID); ferr != nil {
			log.Warn("forget dedup mark failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
	}
	return err
}

var errPayload = errors.New("invalid payment payload")

func (h *PaymentHandler) apply(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.EventPaymentAuthorized:
		p, err := events.Decode[events.PaymentAuthorizedPayload](env)
		if err != nil || p.OrderID == "" {
			return errors.Join(domain.ErrValidationFailed, errPayload, err)
		}
		_, err = h.Orders.MarkPaid(ctx, p.OrderID, p.PaymentRef)
		return err
	default:
		p, err := events.Decode[events.PaymentFailedPayload](env)
		if err != nil || p.OrderID == "" {
			return errors.Join(domain.ErrValidationFailed, errPayload, err)
		}
		reason := p.Reason
		if reason == "" {
			reason = "payment failed"
		}
		_, err = h.Orders.CancelOrder(ctx, p.OrderID, "", reason)
		return err
	}
}
