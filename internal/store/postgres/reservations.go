package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

const reservationCols = `id, user_id, type, COALESCE(flash_sale_id, ''), COALESCE(auction_id, ''), product_id,
	quantity, status, expires_at, created_at, updated_at`

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(&r.ID, &r.UserID, &r.Type, &r.FlashSaleID, &r.AuctionID, &r.ProductID,
		&r.Quantity, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (t *pgTx) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(ctx, `SELECT `+reservationCols+` FROM stock_reservations WHERE id=$1`, id))
	if err != nil {
		return domain.Reservation{}, notFound(err, "reservation", id)
	}
	return r, nil
}

func (t *pgTx) ActiveReservation(ctx context.Context, userID string, kind domain.ReservationType, targetID string) (domain.Reservation, error) {
	col := "flash_sale_id"
	if kind == domain.ReservationAuction {
		col = "auction_id"
	}
	r, err := scanReservation(t.tx.QueryRow(ctx, `
		SELECT `+reservationCols+` FROM stock_reservations
		WHERE user_id = $1 AND type = $2 AND `+col+` = $3 AND status = 'active'
		FOR UPDATE`, userID, kind, targetID))
	if err != nil {
		return domain.Reservation{}, notFound(err, "active reservation for", targetID)
	}
	return r, nil
}

func (t *pgTx) ListActiveReservations(ctx context.Context, userID string, now time.Time) ([]domain.Reservation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+reservationCols+` FROM stock_reservations
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY created_at`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) UpsertFlashSaleReservation(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	return scanReservation(t.tx.QueryRow(ctx, `
		INSERT INTO stock_reservations (id, user_id, type, flash_sale_id, product_id, quantity, status,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, 'flashsale', $3, $4, $5, 'active', $6, $7, $7)
		ON CONFLICT (user_id, flash_sale_id) WHERE status = 'active' AND type = 'flashsale'
		DO UPDATE SET quantity = EXCLUDED.quantity,
		              expires_at = EXCLUDED.expires_at,
		              updated_at = EXCLUDED.updated_at
		RETURNING `+reservationCols,
		r.ID, r.UserID, r.FlashSaleID, r.ProductID, r.Quantity, r.ExpiresAt, r.CreatedAt))
}

func (t *pgTx) InsertReservation(ctx context.Context, r domain.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_reservations (id, user_id, type, flash_sale_id, auction_id, product_id, quantity,
			status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		r.ID, r.UserID, r.Type, nullable(r.FlashSaleID), nullable(r.AuctionID), r.ProductID, r.Quantity,
		r.Status, r.ExpiresAt, r.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: an active reservation already exists", domain.ErrConflict)
	}
	return err
}

func (t *pgTx) HeldQuantity(ctx context.Context, flashSaleID string, now time.Time, excludeUserID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
		WHERE flash_sale_id = $1 AND status = 'active' AND expires_at > $2 AND user_id <> $3`,
		flashSaleID, now, excludeUserID).Scan(&n)
	return n, err
}

func (t *pgTx) TransitionReservation(ctx context.Context, id string, to domain.ReservationStatus, now time.Time) (domain.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(ctx, `
		UPDATE stock_reservations SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'
		RETURNING `+reservationCols, id, to, now))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, err
	}
	cur, err := t.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	return domain.Reservation{}, fmt.Errorf("%w: reservation %s is %s", domain.ErrConflict, id, cur.Status)
}

func (t *pgTx) CompleteFlashSaleReservation(ctx context.Context, userID, flashSaleID string, now time.Time) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE stock_reservations SET status = 'completed', updated_at = $3
		WHERE user_id = $1 AND flash_sale_id = $2 AND status = 'active'`, userID, flashSaleID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (t *pgTx) CancelAuctionReservations(ctx context.Context, auctionID string, now time.Time) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE stock_reservations SET status = 'cancelled', updated_at = $2
		WHERE auction_id = $1 AND status = 'active'`, auctionID, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *pgTx) ExpireReservations(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE stock_reservations SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at <= $1
		RETURNING `+reservationCols, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
