package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
)

type NewAuction struct {
	ProductID string
	MinBid    int64
	MaxBid    *int64
	StartDate time.Time
	EndDate   time.Time
}

func (n NewAuction) validate(now time.Time) error {
	switch {
	case n.ProductID == "":
		return fmt.Errorf("%w: product is required", domain.ErrValidationFailed)
	case n.MinBid <= 0:
		return fmt.Errorf("%w: minimum bid must be positive", domain.ErrValidationFailed)
	case n.MaxBid != nil && *n.MaxBid <= n.MinBid:
		return fmt.Errorf("%w: buy-now price must exceed minimum bid", domain.ErrValidationFailed)
	case !n.EndDate.After(n.StartDate):
		return fmt.Errorf("%w: end date must be after start date", domain.ErrValidationFailed)
	case !n.EndDate.After(now):
		return fmt.Errorf("%w: end date is in the past", domain.ErrValidationFailed)
	}
	return nil
}

// CreateAuction opens an auction on a product that has stock and no other
// upcoming or active auction.
func (p *Processor) CreateAuction(ctx context.Context, in NewAuction) (domain.Auction, error) {
	now := p.clock.Now()
	if err := in.validate(now); err != nil {
		return domain.Auction{}, err
	}

	a := domain.Auction{
		ID:        uuid.NewString(),
		ProductID: in.ProductID,
		MinBid:    in.MinBid,
		MaxBid:    in.MaxBid,
		StartDate: in.StartDate.UTC(),
		EndDate:   in.EndDate.UTC(),
		Status:    statusAt(in.StartDate, now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := p.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		prod, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if prod.Quantity < 1 {
			return fmt.Errorf("%w: only %d items available", domain.ErrInsufficientStock, prod.Quantity)
		}
		open, err := tx.OpenAuctionForProduct(ctx, in.ProductID)
		if err == nil {
			return fmt.Errorf("%w: product %s already has auction %s", domain.ErrConflict, in.ProductID, open.ID)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.InsertAuction(ctx, a)
	})
	if err != nil {
		return domain.Auction{}, err
	}
	p.log.Info("auction created", zap.String("auction_id", a.ID), zap.String("product_id", a.ProductID))
	return a, nil
}

// DeleteAuction removes an auction that never received a bid. Its
// reservations are cancelled; catalog stock is untouched because an
// auction never holds it.
func (p *Processor) DeleteAuction(ctx context.Context, auctionID string) error {
	now := p.clock.Now()
	var cancelled int64
	err := p.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.BidCount > 0 {
			return fmt.Errorf("%w: auction %s has %d bids", domain.ErrConflict, a.ID, a.BidCount)
		}
		if cancelled, err = tx.CancelAuctionReservations(ctx, a.ID, now); err != nil {
			return err
		}
		return tx.DeleteAuction(ctx, a.ID)
	})
	if err != nil {
		return err
	}
	p.log.Info("auction deleted", zap.String("auction_id", auctionID), zap.Int64("count", cancelled))
	return nil
}
