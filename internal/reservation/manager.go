// Package reservation issues and retires time-bound holds on flash sale and
// auction stock. Holds never touch the sold counter; availability is always
// derived as limit - sold - live holds.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/events"
	"github.com/ariefcatur/go-storefront-engine/internal/ledger"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
	"github.com/ariefcatur/go-storefront-engine/internal/telemetry"
)

const (
	DefaultFlashSaleHold = 15 * time.Minute
	DefaultAuctionHold   = 24 * time.Hour
)

// StockCache is an optional read-through cache for derived availability.
type StockCache interface {
	Get(ctx context.Context, flashSaleID string) (int, bool, error)
	Set(ctx context.Context, flashSaleID string, available int) error
	Invalidate(ctx context.Context, flashSaleIDs ...string) error
}

type Config struct {
	FlashSaleHold time.Duration
	AuctionHold   time.Duration
	Producer      string // envelope producer name
}

type Manager struct {
	store   store.Store
	clock   clock.Clock
	cfg     Config
	cache   StockCache
	pub     events.Publisher
	log     *zap.Logger
	metrics *telemetry.Metrics
}

type Option func(*Manager)

func WithCache(c StockCache) Option { return func(m *Manager) { m.cache = c } }
func WithPublisher(p events.Publisher) Option { return func(m *Manager) { m.pub = p } }
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }
func WithMetrics(mt *telemetry.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func NewManager(s store.Store, c clock.Clock, cfg Config, opts ...Option) *Manager {
	if cfg.FlashSaleHold <= 0 {
		cfg.FlashSaleHold = DefaultFlashSaleHold
	}
	if cfg.AuctionHold <= 0 {
		cfg.AuctionHold = DefaultAuctionHold
	}
	m := &Manager{store: s, clock: c, cfg: cfg, pub: events.Nop{}}
	for _, o := range opts {
		o(m)
	}
	m.log = logx.OrNop(m.log)
	return m
}

// ReserveFlashSale holds qty units of a flash sale for userID. A user holding
// an active reservation on the same sale gets that row updated in place:
// quantity replaced and expiry reset.
func (m *Manager) ReserveFlashSale(ctx context.Context, userID, flashSaleID string, qty int) (domain.Reservation, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reservation.ReserveFlashSale")
	defer span.End()
	span.SetAttributes(attribute.String("flash_sale_id", flashSaleID), attribute.Int("qty", qty))

	if userID == "" || flashSaleID == "" {
		return domain.Reservation{}, fmt.Errorf("%w: user and flash sale are required", domain.ErrValidationFailed)
	}
	if qty <= 0 {
		return domain.Reservation{}, fmt.Errorf("%w: quantity must be positive", domain.ErrValidationFailed)
	}

	now := m.clock.Now()
	var res domain.Reservation
	err := m.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		// The row lock serializes holds and settlements on one sale, so the
		// availability read below cannot go stale before the upsert.
		fs, err := tx.LockFlashSale(ctx, flashSaleID)
		if err != nil {
			return err
		}
		if err := CheckFlashSaleOpen(fs, now); err != nil {
			return err
		}
		if err := CheckUserCap(ctx, tx, fs, userID, qty); err != nil {
			return err
		}
		held, err := tx.HeldQuantity(ctx, fs.ID, now, userID)
		if err != nil {
			return err
		}
		if avail := ledger.Available(fs, held); qty > avail {
			return fmt.Errorf("%w: only %d items available", domain.ErrInsufficientStock, avail)
		}
		res, err = tx.UpsertFlashSaleReservation(ctx, domain.Reservation{
			ID:          uuid.NewString(),
			UserID:      userID,
			Type:        domain.ReservationFlashSale,
			FlashSaleID: fs.ID,
			ProductID:   fs.ProductID,
			Quantity:    qty,
			Status:      domain.ReservationActive,
			ExpiresAt:   now.Add(m.cfg.FlashSaleHold),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		return err
	})
	m.metrics.Reservation(ctx, string(domain.ReservationFlashSale), err)
	if err != nil {
		m.fail(span, "reserve flash sale rejected", err, zap.String("user_id", userID), zap.String("flash_sale_id", flashSaleID))
		return domain.Reservation{}, err
	}
	m.invalidate(ctx, flashSaleID)
	m.log.Info("flash sale reserved", zap.String("reservation_id", res.ID),
		zap.String("user_id", userID), zap.String("flash_sale_id", flashSaleID), zap.Int("qty", qty))
	return res, nil
}

// CheckFlashSaleOpen fails with ErrNotActive unless fs is active and now is
// inside its window.
func CheckFlashSaleOpen(fs domain.FlashSale, now time.Time) error {
	if fs.Status != domain.FlashSaleActive || !fs.InWindow(now) {
		return fmt.Errorf("%w: flash sale %s is not running", domain.ErrNotActive, fs.ID)
	}
	return nil
}

// CheckUserCap fails with ErrValidationFailed when qty more units would take
// userID past the sale's per-user cap, counting units already bought on
// live orders.
func CheckUserCap(ctx context.Context, tx store.Tx, fs domain.FlashSale, userID string, qty int) error {
	if fs.MaxOrderQuantity == nil {
		return nil
	}
	limit := *fs.MaxOrderQuantity
	if qty > limit {
		return fmt.Errorf("%w: at most %d per user", domain.ErrValidationFailed, limit)
	}
	bought, err := tx.PurchasedQuantity(ctx, userID, fs.ID)
	if err != nil {
		return err
	}
	if bought+qty > limit {
		return fmt.Errorf("%w: at most %d per user, %d already bought", domain.ErrValidationFailed, limit, bought)
	}
	return nil
}

// ReserveAuctionWin holds the auctioned unit for the current highest
// bidder. Calling it again while the hold is live returns the same row.
func (m *Manager) ReserveAuctionWin(ctx context.Context, userID, auctionID string) (domain.Reservation, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reservation.ReserveAuctionWin")
	defer span.End()
	span.SetAttributes(attribute.String("auction_id", auctionID))

	if userID == "" || auctionID == "" {
		return domain.Reservation{}, fmt.Errorf("%w: user and auction are required", domain.ErrValidationFailed)
	}

	now := m.clock.Now()
	var res domain.Reservation
	err := m.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		top, err := tx.HighestBid(ctx, auctionID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && top.UserID != userID) {
			return fmt.Errorf("%w: user %s does not hold the highest bid", domain.ErrNotWinner, userID)
		}
		if err != nil {
			return err
		}

		existing, err := tx.ActiveReservation(ctx, userID, domain.ReservationAuction, auctionID)
		switch {
		case err == nil && existing.Live(now):
			res = existing
			return nil
		case err == nil:
			// past expiry but not swept yet
			if _, err := tx.TransitionReservation(ctx, existing.ID, domain.ReservationExpired, now); err != nil {
				return err
			}
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		// Whatever hold is still active belongs to a bidder who has since
		// been outbid.
		if n, err := tx.CancelAuctionReservations(ctx, a.ID, now); err != nil {
			return err
		} else if n > 0 {
			m.log.Info("outbid auction hold cancelled", zap.String("auction_id", a.ID), zap.Int64("count", n))
		}

		res = domain.Reservation{
			ID:        uuid.NewString(),
			UserID:    userID,
			Type:      domain.ReservationAuction,
			AuctionID: a.ID,
			ProductID: a.ProductID,
			Quantity:  1,
			Status:    domain.ReservationActive,
			ExpiresAt: now.Add(m.cfg.AuctionHold),
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.InsertReservation(ctx, res)
	})
	m.metrics.Reservation(ctx, string(domain.ReservationAuction), err)
	if err != nil {
		m.fail(span, "reserve auction win rejected", err, zap.String("user_id", userID), zap.String("auction_id", auctionID))
		return domain.Reservation{}, err
	}
	return res, nil
}

func (m *Manager) Complete(ctx context.Context, id string) (domain.Reservation, error) {
	return m.transition(ctx, "", id, domain.ReservationCompleted)
}

// Cancel releases a hold. A non-empty userID must own the reservation.
// Held stock was never subtracted from sold, so nothing is restored.
func (m *Manager) Cancel(ctx context.Context, userID, id string) (domain.Reservation, error) {
	return m.transition(ctx, userID, id, domain.ReservationCancelled)
}

func (m *Manager) transition(ctx context.Context, userID, id string, to domain.ReservationStatus) (domain.Reservation, error) {
	now := m.clock.Now()
	var res domain.Reservation
	err := m.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		if userID != "" {
			cur, err := tx.GetReservation(ctx, id)
			if err != nil {
				return err
			}
			if cur.UserID != userID {
				return fmt.Errorf("%w: reservation %s", domain.ErrNotFound, id)
			}
		}
		var err error
		res, err = tx.TransitionReservation(ctx, id, to, now)
		return err
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.FlashSaleID != "" {
		m.invalidate(ctx, res.FlashSaleID)
	}
	m.log.Info("reservation "+string(to), zap.String("reservation_id", id))
	return res, nil
}

// SweepExpired flips every active reservation past its expiry to expired.
// It is a single conditional batch update, safe to run concurrently and as
// often as wanted.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	now := m.clock.Now()
	var expired []domain.Reservation
	err := m.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		var err error
		expired, err = tx.ExpireReservations(ctx, now)
		return err
	})
	if err != nil {
		m.log.Error("sweep reservations failed", zap.Error(err))
		return 0, err
	}
	n := int64(len(expired))
	m.metrics.Swept(ctx, "reservations", n)
	if n > 0 {
		m.invalidate(ctx, heldFlashSales(expired)...)
		m.log.Info("reservations expired", zap.Int64("count", n))
		events.Emit(ctx, m.pub, m.log, events.EventReservationsExpired, m.cfg.Producer, "reservation-sweep", now,
			events.ReservationsExpiredPayload{Count: n})
	}
	return n, nil
}

func heldFlashSales(rs []domain.Reservation) []string {
	seen := map[string]bool{}
	var ids []string
	for _, r := range rs {
		if r.FlashSaleID != "" && !seen[r.FlashSaleID] {
			seen[r.FlashSaleID] = true
			ids = append(ids, r.FlashSaleID)
		}
	}
	return ids
}

// AvailableFlashSaleStock returns max(0, limit - sold - live holds).
func (m *Manager) AvailableFlashSaleStock(ctx context.Context, flashSaleID string) (int, error) {
	if m.cache != nil {
		if n, ok, err := m.cache.Get(ctx, flashSaleID); err == nil && ok {
			return n, nil
		} else if err != nil {
			m.log.Warn("stock cache read failed", zap.String("flash_sale_id", flashSaleID), zap.Error(err))
		}
	}

	now := m.clock.Now()
	var avail int
	err := m.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		var err error
		_, avail, err = ledger.FlashSaleAvailability(ctx, tx, flashSaleID, now, "")
		return err
	})
	if err != nil {
		return 0, err
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, flashSaleID, avail); err != nil {
			m.log.Warn("stock cache write failed", zap.String("flash_sale_id", flashSaleID), zap.Error(err))
		}
	}
	return avail, nil
}

func (m *Manager) ListActive(ctx context.Context, userID string) ([]domain.Reservation, error) {
	now := m.clock.Now()
	var out []domain.Reservation
	err := m.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		var err error
		out, err = tx.ListActiveReservations(ctx, userID, now)
		return err
	})
	return out, err
}

// Invalidate drops cached availability; settlement calls it after commit.
func (m *Manager) Invalidate(ctx context.Context, flashSaleIDs ...string) {
	m.invalidate(ctx, flashSaleIDs...)
}

func (m *Manager) invalidate(ctx context.Context, ids ...string) {
	if m.cache == nil || len(ids) == 0 {
		return
	}
	if err := m.cache.Invalidate(ctx, ids...); err != nil {
		m.log.Warn("stock cache invalidate failed", zap.Strings("flash_sale_ids", ids), zap.Error(err))
	}
}

func (m *Manager) fail(span trace.Span, msg string, err error, fields ...zap.Field) {
	telemetry.Fail(span, err)
	logx.Rejection(m.log, msg, err, fields...)
}
