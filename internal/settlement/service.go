// Package settlement turns a cart into an order in one transaction and owns
// the order lifecycle afterwards: payment, cancellation with stock
// restoration and expiry of unpaid orders.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/events"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
	"github.com/ariefcatur/go-storefront-engine/internal/telemetry"
)

const DefaultPaymentDeadline = 24 * time.Hour

// Idempotency remembers which order an idempotency key produced.
type Idempotency interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, orderID string) error
}

// StockInvalidator drops cached flash sale availability.
type StockInvalidator interface {
	Invalidate(ctx context.Context, flashSaleIDs ...string)
}

type Config struct {
	PaymentDeadline time.Duration
	Producer        string
}

type Service struct {
	store   store.Store
	clock   clock.Clock
	cfg     Config
	pub     events.Publisher
	log     *zap.Logger
	metrics *telemetry.Metrics
	idem    Idempotency
	stock   StockInvalidator
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.pub = p } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithIdempotency(i Idempotency) Option { return func(s *Service) { s.idem = i } }
func WithStockInvalidator(si StockInvalidator) Option { return func(s *Service) { s.stock = si } }

func NewService(st store.Store, c clock.Clock, cfg Config, opts ...Option) *Service {
	if cfg.PaymentDeadline <= 0 {
		cfg.PaymentDeadline = DefaultPaymentDeadline
	}
	s := &Service{store: st, clock: c, cfg: cfg, pub: events.Nop{}}
	for _, o := range opts {
		o(s)
	}
	s.log = logx.OrNop(s.log)
	return s
}

func (s *Service) invalidate(ctx context.Context, ids []string) {
	if s.stock != nil && len(ids) > 0 {
		s.stock.Invalidate(ctx, ids...)
	}
}

func (s *Service) remember(ctx context.Context, key, orderID string) {
	if s.idem == nil || key == "" {
		return
	}
	if err := s.idem.Remember(ctx, key, orderID); err != nil {
		s.log.Warn("remember idempotency key failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) lookup(ctx context.Context, key string) (string, bool) {
	if s.idem == nil || key == "" {
		return "", false
	}
	id, ok, err := s.idem.Lookup(ctx, key)
	if err != nil {
		s.log.Warn("idempotency lookup failed", zap.Error(err))
		return "", false
	}
	return id, ok
}

var errReplay = errors.New("settlement: replay")

func isReplay(err error) bool { return errors.Is(err, errReplay) }

func wrapStep(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", step, err)
}
