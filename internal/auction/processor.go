// Package auction arbitrates bids. Each bid runs in one transaction that
// locks the auction row, so accepted bids on an auction form a total order
// and every one is validated against the bid committed just before it.
package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/events"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
	"github.com/ariefcatur/go-storefront-engine/internal/telemetry"
)

type Processor struct {
	store    store.Store
	clock    clock.Clock
	pub      events.Publisher
	log      *zap.Logger
	metrics  *telemetry.Metrics
	producer string
}

type Option func(*Processor)

func WithPublisher(p events.Publisher) Option { return func(pr *Processor) { pr.pub = p } }
func WithLogger(l *zap.Logger) Option { return func(pr *Processor) { pr.log = l } }
func WithMetrics(m *telemetry.Metrics) Option { return func(pr *Processor) { pr.metrics = m } }
func WithProducerName(name string) Option { return func(pr *Processor) { pr.producer = name } }

func NewProcessor(s store.Store, c clock.Clock, opts ...Option) *Processor {
	p := &Processor{store: s, clock: c, pub: events.Nop{}}
	for _, o := range opts {
		o(p)
	}
	p.log = logx.OrNop(p.log)
	return p
}

type BidResult struct {
	Bid       domain.Bid
	Auction   domain.Auction
	WasBuyNow bool
}

// PlaceBid records amount as the new leading bid. A buy-now request whose
// amount reaches maxBid also closes the auction as sold in the same write.
func (p *Processor) PlaceBid(ctx context.Context, auctionID, userID string, amount int64, isBuyNow bool) (BidResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "auction.PlaceBid")
	defer span.End()
	span.SetAttributes(attribute.String("auction_id", auctionID), attribute.Int64("amount", amount))

	if userID == "" || auctionID == "" {
		return BidResult{}, fmt.Errorf("%w: user and auction are required", domain.ErrValidationFailed)
	}
	if amount <= 0 {
		return BidResult{}, fmt.Errorf("%w: bid amount must be positive", domain.ErrValidationFailed)
	}

	now := p.clock.Now()
	var res BidResult
	err := p.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Status != domain.AuctionActive {
			return fmt.Errorf("%w: auction %s is %s", domain.ErrNotActive, a.ID, a.Status)
		}
		if !now.Before(a.EndDate) {
			return fmt.Errorf("%w: auction %s", domain.ErrEnded, a.ID)
		}
		if amount <= a.Highest() {
			return fmt.Errorf("%w: bid must exceed current bid of %d", domain.ErrBidTooLow, a.Highest())
		}
		buyNow := isBuyNow && a.MaxBid != nil && amount >= *a.MaxBid

		bid := domain.Bid{ID: uuid.NewString(), AuctionID: a.ID, UserID: userID, Amount: amount, CreatedAt: now}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}
		// ApplyBid re-checks status, end date and amount in its WHERE clause.
		updated, err := tx.ApplyBid(ctx, a.ID, amount, buyNow, now)
		if err != nil {
			return err
		}
		res = BidResult{Bid: bid, Auction: updated, WasBuyNow: buyNow}
		return nil
	})
	p.metrics.Bid(ctx, isBuyNow, err)
	if err != nil {
		telemetry.Fail(span, err)
		logx.Rejection(p.log, "bid rejected", err, zap.String("auction_id", auctionID),
			zap.String("user_id", userID), zap.Int64("amount", amount))
		return BidResult{}, err
	}

	p.log.Info("bid accepted", zap.String("auction_id", auctionID), zap.String("user_id", userID),
		zap.Int64("amount", amount), zap.Bool("buy_now", res.WasBuyNow))
	events.Emit(ctx, p.pub, p.log, events.EventBidPlaced, p.producer, auctionID, now, events.BidPlacedPayload{
		AuctionID: auctionID, BidID: res.Bid.ID, UserID: userID, Amount: amount,
		BidCount: res.Auction.BidCount, WasBuyNow: res.WasBuyNow,
	})
	if res.WasBuyNow {
		events.Emit(ctx, p.pub, p.log, events.EventAuctionSold, p.producer, auctionID, now, events.AuctionSoldPayload{
			AuctionID: auctionID, ProductID: res.Auction.ProductID, Price: amount, UserID: userID,
		})
	}
	return res, nil
}

// Get returns the auction with its bids, highest first.
func (p *Processor) Get(ctx context.Context, auctionID string) (domain.Auction, []domain.Bid, error) {
	var (
		a    domain.Auction
		bids []domain.Bid
	)
	err := p.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		var err error
		if a, err = tx.GetAuction(ctx, auctionID); err != nil {
			return err
		}
		bids, err = tx.ListBids(ctx, auctionID)
		return err
	})
	return a, bids, err
}

// RefreshStatuses moves auctions between upcoming, active and ended by
// their windows.
func (p *Processor) RefreshStatuses(ctx context.Context) (int64, error) {
	now := p.clock.Now()
	var n int64
	err := p.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		var err error
		n, err = tx.RefreshAuctionStatuses(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	p.metrics.Swept(ctx, "auction_status", n)
	return n, nil
}

func statusAt(start, now time.Time) domain.AuctionStatus {
	if now.Before(start) {
		return domain.AuctionUpcoming
	}
	return domain.AuctionActive
}
