package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

const orderCols = `id, COALESCE(external_id, ''), user_id, address_id, status, subtotal, shipping_cost, discount,
	total_amount, COALESCE(voucher_id, ''), COALESCE(payment_ref, ''), expires_at, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &o.AddressID, &o.Status, &o.Subtotal, &o.ShippingCost,
		&o.Discount, &o.TotalAmount, &o.VoucherID, &o.PaymentRef, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, external_id, user_id, address_id, status, subtotal, shipping_cost, discount,
			total_amount, voucher_id, payment_ref, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)`,
		o.ID, nullable(o.ExternalID), o.UserID, o.AddressID, o.Status, o.Subtotal, o.ShippingCost, o.Discount,
		o.TotalAmount, nullable(o.VoucherID), nullable(o.PaymentRef), o.ExpiresAt, o.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: order with external id %s exists", domain.ErrConflict, o.ExternalID)
	}
	return err
}

func (t *pgTx) InsertOrderItem(ctx context.Context, it domain.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, product_id, flash_sale_id, auction_id, quantity, price)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		it.ID, it.OrderID, it.ProductID, nullable(it.FlashSaleID), nullable(it.AuctionID), it.Quantity, it.Price)
	return err
}

func (t *pgTx) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, COALESCE(flash_sale_id, ''), COALESCE(auction_id, ''), quantity, price
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.FlashSaleID, &it.AuctionID,
			&it.Quantity, &it.Price); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	if err := t.loadItems(ctx, &o); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (t *pgTx) OrderByExternalID(ctx context.Context, externalID string) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE external_id=$1`, externalID))
	if err != nil {
		return domain.Order{}, notFound(err, "order with external id", externalID)
	}
	if err := t.loadItems(ctx, &o); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (t *pgTx) TransitionOrder(ctx context.Context, id string, from []domain.OrderStatus, to domain.OrderStatus, paymentRef string) (domain.Order, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	o, err := scanOrder(t.tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $2,
		    payment_ref = COALESCE($3, payment_ref),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+orderCols, id, to, nullable(paymentRef), allowed))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, err
		}
		cur, err := t.GetOrder(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", domain.ErrConflict, id, cur.Status)
	}
	if err := t.loadItems(ctx, &o); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (t *pgTx) ExpiredUnpaidOrderIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM orders
		WHERE status = 'Pending' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) PurchasedQuantity(ctx context.Context, userID, flashSaleID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(oi.quantity), 0)
		FROM order_items oi JOIN orders o ON o.id = oi.order_id
		WHERE o.user_id = $1 AND oi.flash_sale_id = $2
		  AND o.status NOT IN ('Cancelled', 'Expired')`, userID, flashSaleID).Scan(&n)
	return n, err
}
