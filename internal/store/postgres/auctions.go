package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

const auctionCols = `id, product_id, min_bid, max_bid, current_bid, bid_count, start_date, end_date,
	status, created_at, updated_at`

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var a domain.Auction
	err := row.Scan(&a.ID, &a.ProductID, &a.MinBid, &a.MaxBid, &a.CurrentBid, &a.BidCount,
		&a.StartDate, &a.EndDate, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *pgTx) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx, `SELECT `+auctionCols+` FROM auctions WHERE id=$1`, id))
	if err != nil {
		return domain.Auction{}, notFound(err, "auction", id)
	}
	return a, nil
}

func (t *pgTx) LockAuction(ctx context.Context, id string) (domain.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx, `SELECT `+auctionCols+` FROM auctions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.Auction{}, notFound(err, "auction", id)
	}
	return a, nil
}

func (t *pgTx) InsertAuction(ctx context.Context, a domain.Auction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO auctions (id, product_id, min_bid, max_bid, current_bid, bid_count, start_date, end_date,
			status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		a.ID, a.ProductID, a.MinBid, a.MaxBid, a.CurrentBid, a.BidCount, a.StartDate, a.EndDate,
		a.Status, a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: product %s already has an open auction", domain.ErrConflict, a.ProductID)
	}
	return err
}

func (t *pgTx) DeleteAuction(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM auctions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: auction %s", domain.ErrNotFound, id)
	}
	return nil
}

func (t *pgTx) OpenAuctionForProduct(ctx context.Context, productID string) (domain.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx, `
		SELECT `+auctionCols+` FROM auctions
		WHERE product_id = $1 AND status IN ('upcoming', 'active')
		ORDER BY start_date LIMIT 1`, productID))
	if err != nil {
		return domain.Auction{}, notFound(err, "open auction for product", productID)
	}
	return a, nil
}

func (t *pgTx) InsertBid(ctx context.Context, b domain.Bid) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bids (id, auction_id, user_id, amount, created_at)
		VALUES ($1,$2,$3,$4,$5)`, b.ID, b.AuctionID, b.UserID, b.Amount, b.CreatedAt)
	return err
}

func (t *pgTx) ApplyBid(ctx context.Context, id string, amount int64, markSold bool, now time.Time) (domain.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx, `
		UPDATE auctions
		SET current_bid = $2,
		    bid_count = bid_count + 1,
		    status = CASE WHEN $3::boolean THEN 'sold' ELSE status END,
		    updated_at = $4
		WHERE id = $1 AND status = 'active' AND end_date > $4
		  AND COALESCE(current_bid, min_bid) < $2
		RETURNING `+auctionCols, id, amount, markSold, now))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, err
	}
	cur, err := t.GetAuction(ctx, id)
	if err != nil {
		return domain.Auction{}, err
	}
	switch {
	case cur.Status != domain.AuctionActive:
		return domain.Auction{}, fmt.Errorf("%w: auction %s is %s", domain.ErrNotActive, id, cur.Status)
	case !now.Before(cur.EndDate):
		return domain.Auction{}, fmt.Errorf("%w: auction %s", domain.ErrEnded, id)
	default:
		return domain.Auction{}, fmt.Errorf("%w: bid must exceed current bid of %d", domain.ErrBidTooLow, cur.Highest())
	}
}

const bidCols = `id, auction_id, user_id, amount, created_at`

func (t *pgTx) HighestBid(ctx context.Context, auctionID string) (domain.Bid, error) {
	var b domain.Bid
	err := t.tx.QueryRow(ctx, `
		SELECT `+bidCols+` FROM bids WHERE auction_id = $1
		ORDER BY amount DESC, created_at DESC LIMIT 1`, auctionID).
		Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &b.CreatedAt)
	if err != nil {
		return domain.Bid{}, notFound(err, "bids for auction", auctionID)
	}
	return b, nil
}

func (t *pgTx) ListBids(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+bidCols+` FROM bids WHERE auction_id = $1
		ORDER BY amount DESC, created_at DESC`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) SellAuction(ctx context.Context, id string, price int64) (domain.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx, `
		UPDATE auctions SET status = 'sold', current_bid = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'ended')
		RETURNING `+auctionCols, id, price))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, err
	}
	cur, err := t.GetAuction(ctx, id)
	if err != nil {
		return domain.Auction{}, err
	}
	return domain.Auction{}, fmt.Errorf("%w: auction %s is %s", domain.ErrConflict, id, cur.Status)
}

func (t *pgTx) RefreshAuctionStatuses(ctx context.Context, now time.Time) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE auctions
		SET status = CASE WHEN end_date <= $1 THEN 'ended' ELSE 'active' END,
		    updated_at = $1
		WHERE (status IN ('upcoming', 'active') AND end_date <= $1)
		   OR (status = 'upcoming' AND start_date <= $1 AND end_date > $1)`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
