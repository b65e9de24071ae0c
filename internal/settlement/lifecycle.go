package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/events"
	"github.com/ariefcatur/go-storefront-engine/internal/ledger"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
	"github.com/ariefcatur/go-storefront-engine/internal/telemetry"
)

const defaultExpireBatch = 500

// GetOrder loads an order with its items. A non-empty userID must own it.
func (s *Service) GetOrder(ctx context.Context, id, userID string) (o domain.Order, err error) {
	err = s.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		o, err = tx.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	if userID != "" && o.UserID != userID {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return o, nil
}

// CancelOrder cancels a Pending or Paid order and gives its units back.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID, reason string) (domain.Order, error) {
	return s.close(ctx, orderID, userID, domain.OrderCancelled, reason)
}

// close moves an order into a stock-restoring status and restores its
// units in the same transaction.
func (s *Service) close(ctx context.Context, orderID, userID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "settlement.Close")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("to", string(to)))

	now := s.clock.Now()
	var o domain.Order
	err := s.store.InTx(ctx, store.TxOptions{Isolation: store.Serializable}, func(tx store.Tx) error {
		cur, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if userID != "" && cur.UserID != userID {
			return fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
		}
		if o, err = tx.TransitionOrder(ctx, orderID, domain.Predecessors(to), to, ""); err != nil {
			return err
		}
		return ledger.Restore(ctx, tx, o.Items, now)
	})
	s.metrics.Order(ctx, string(to), err)
	if err != nil {
		telemetry.Fail(span, err)
		logx.Rejection(s.log, "order close rejected", err, zap.String("order_id", orderID), zap.String("to", string(to)))
		return domain.Order{}, err
	}

	s.invalidate(ctx, flashSaleIDs(o.Items))
	s.log.Info("order closed", zap.String("order_id", o.ID), zap.String("status", string(o.Status)), zap.String("reason", reason))
	events.Emit(ctx, s.pub, s.log, events.EventOrderCancelled, s.cfg.Producer, o.ID, now, events.OrderCancelledPayload{
		OrderID: o.ID, Status: string(o.Status), Reason: reason,
	})
	return o, nil
}

// MarkPaid records a successful payment. Repeating it for an order that is
// already Paid returns the order unchanged.
func (s *Service) MarkPaid(ctx context.Context, orderID, paymentRef string) (domain.Order, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "settlement.MarkPaid")
	defer span.End()

	now := s.clock.Now()
	var (
		o       domain.Order
		already bool
	)
	err := s.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		cur, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status == domain.OrderPaid {
			o, already = cur, true
			return nil
		}
		o, err = tx.TransitionOrder(ctx, orderID, []domain.OrderStatus{domain.OrderPending}, domain.OrderPaid, paymentRef)
		return err
	})
	if err != nil {
		telemetry.Fail(span, err)
		logx.Rejection(s.log, "mark paid rejected", err, zap.String("order_id", orderID))
		return domain.Order{}, err
	}
	if already {
		return o, nil
	}
	s.metrics.Order(ctx, string(domain.OrderPaid), nil)
	s.log.Info("order paid", zap.String("order_id", o.ID), zap.String("payment_ref", paymentRef))
	events.Emit(ctx, s.pub, s.log, events.EventOrderPaid, s.cfg.Producer, o.ID, now, events.OrderPaidPayload{
		OrderID: o.ID, PaymentRef: paymentRef,
	})
	return o, nil
}

// ExpireUnpaidOrders expires Pending orders past their payment deadline,
// each in its own transaction, and returns the ids it expired. An order
// that changed status since it was listed is skipped.
func (s *Service) ExpireUnpaidOrders(ctx context.Context, limit int) ([]string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "settlement.ExpireUnpaidOrders")
	defer span.End()

	if limit <= 0 {
		limit = defaultExpireBatch
	}
	now := s.clock.Now()
	var due []string
	err := s.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		var err error
		due, err = tx.ExpiredUnpaidOrderIDs(ctx, now, limit)
		return err
	})
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	var (
		expired []string
		touched []string
	)
	for _, id := range due {
		var o domain.Order
		err := s.store.InTx(ctx, store.TxOptions{Isolation: store.Serializable}, func(tx store.Tx) error {
			var err error
			if o, err = tx.TransitionOrder(ctx, id, []domain.OrderStatus{domain.OrderPending}, domain.OrderExpired, ""); err != nil {
				return err
			}
			return ledger.Restore(ctx, tx, o.Items, now)
		})
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			telemetry.Fail(span, err)
			s.log.Error("expire order failed", zap.String("order_id", id), zap.Error(err))
			return expired, err
		}
		expired = append(expired, id)
		touched = append(touched, flashSaleIDs(o.Items)...)
	}

	s.metrics.Swept(ctx, "orders", int64(len(expired)))
	if len(expired) == 0 {
		return nil, nil
	}
	s.invalidate(ctx, touched)
	s.log.Info("expired unpaid orders", zap.Int("count", len(expired)))
	events.Emit(ctx, s.pub, s.log, events.EventOrdersExpired, s.cfg.Producer, expired[0], now,
		events.OrdersExpiredPayload{OrderIDs: expired})
	return expired, nil
}

// UpdateStatus moves an order along the status graph. Entering Cancelled
// or Expired restores stock; Paid goes through MarkPaid.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	switch {
	case to.RestoresStock():
		return s.close(ctx, orderID, "", to, reason)
	case to == domain.OrderPaid:
		return s.MarkPaid(ctx, orderID, "")
	}

	from := domain.Predecessors(to)
	if len(from) == 0 {
		return domain.Order{}, fmt.Errorf("%w: no transition into %s", domain.ErrValidationFailed, to)
	}
	var o domain.Order
	err := s.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		var err error
		o, err = tx.TransitionOrder(ctx, orderID, from, to, "")
		return err
	})
	s.metrics.Order(ctx, string(to), err)
	if err != nil {
		logx.Rejection(s.log, "status update rejected", err, zap.String("order_id", orderID), zap.String("to", string(to)))
		return domain.Order{}, err
	}
	s.log.Info("order status updated", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
	return o, nil
}

func flashSaleIDs(items []domain.OrderItem) []string {
	var ids []string
	for _, it := range items {
		if it.FlashSaleID != "" {
			ids = append(ids, it.FlashSaleID)
		}
	}
	return ids
}
