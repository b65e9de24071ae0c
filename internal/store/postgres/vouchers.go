package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

const voucherCols = `id, code, type, value::text, max_discount, min_purchase, start_date, end_date, is_active,
	usage_limit, usage_per_user, flash_sale_only, auction_only, regular_only`

func scanVoucher(row pgx.Row) (domain.Voucher, error) {
	var (
		v     domain.Voucher
		value string
	)
	err := row.Scan(&v.ID, &v.Code, &v.Type, &value, &v.MaxDiscount, &v.MinPurchase, &v.StartDate, &v.EndDate,
		&v.IsActive, &v.UsageLimit, &v.UsagePerUser, &v.FlashSaleOnly, &v.AuctionOnly, &v.RegularOnly)
	if err != nil {
		return domain.Voucher{}, err
	}
	v.Value, err = decimal.NewFromString(value)
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("voucher %s value %q: %w", v.Code, value, err)
	}
	return v, nil
}

func (t *pgTx) GetVoucherByCode(ctx context.Context, code string) (domain.Voucher, error) {
	v, err := scanVoucher(t.tx.QueryRow(ctx, `SELECT `+voucherCols+` FROM vouchers WHERE code=$1`, code))
	if err != nil {
		return domain.Voucher{}, notFound(err, "voucher", code)
	}
	return v, nil
}

func (t *pgTx) InsertVoucher(ctx context.Context, v domain.Voucher) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO vouchers (id, code, type, value, max_discount, min_purchase, start_date, end_date, is_active,
			usage_limit, usage_per_user, flash_sale_only, auction_only, regular_only)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		v.ID, v.Code, v.Type, v.Value.String(), v.MaxDiscount, v.MinPurchase, v.StartDate, v.EndDate, v.IsActive,
		v.UsageLimit, v.UsagePerUser, v.FlashSaleOnly, v.AuctionOnly, v.RegularOnly)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: voucher code %s exists", domain.ErrConflict, v.Code)
	}
	return err
}

func (t *pgTx) CountVoucherUsage(ctx context.Context, voucherID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM voucher_usages WHERE voucher_id=$1`, voucherID).Scan(&n)
	return n, err
}

func (t *pgTx) CountVoucherUsageByUser(ctx context.Context, voucherID, userID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM voucher_usages WHERE voucher_id=$1 AND user_id=$2`, voucherID, userID).Scan(&n)
	return n, err
}

func (t *pgTx) InsertVoucherUsage(ctx context.Context, u domain.VoucherUsage) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO voucher_usages (id, voucher_id, user_id, order_id, discount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, u.ID, u.VoucherID, u.UserID, u.OrderID, u.Discount, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: voucher already applied to order %s", domain.ErrConflict, u.OrderID)
	}
	return err
}
