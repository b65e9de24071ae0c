package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

const productCols = `id, name, price, quantity, weight, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.Weight, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if err != nil {
		return domain.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

func (t *pgTx) DecrementProductQuantity(ctx context.Context, id string, qty int) (domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `
		UPDATE products SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
		RETURNING `+productCols, id, qty))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, err
	}
	cur, err := t.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{}, fmt.Errorf("%w: only %d items available", domain.ErrInsufficientStock, cur.Quantity)
}

func (t *pgTx) IncrementProductQuantity(ctx context.Context, id string, qty int) (domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `
		UPDATE products SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productCols, id, qty))
	if err != nil {
		return domain.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

const flashSaleCols = `id, product_id, price, start_date, end_date, limited_quantity, sold,
	max_order_quantity, status, created_at, updated_at`

func scanFlashSale(row pgx.Row) (domain.FlashSale, error) {
	var fs domain.FlashSale
	err := row.Scan(&fs.ID, &fs.ProductID, &fs.Price, &fs.StartDate, &fs.EndDate, &fs.LimitedQuantity,
		&fs.Sold, &fs.MaxOrderQuantity, &fs.Status, &fs.CreatedAt, &fs.UpdatedAt)
	return fs, err
}

func (t *pgTx) GetFlashSale(ctx context.Context, id string) (domain.FlashSale, error) {
	fs, err := scanFlashSale(t.tx.QueryRow(ctx, `SELECT `+flashSaleCols+` FROM flash_sales WHERE id=$1`, id))
	if err != nil {
		return domain.FlashSale{}, notFound(err, "flash sale", id)
	}
	return fs, nil
}

func (t *pgTx) LockFlashSale(ctx context.Context, id string) (domain.FlashSale, error) {
	fs, err := scanFlashSale(t.tx.QueryRow(ctx, `SELECT `+flashSaleCols+` FROM flash_sales WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.FlashSale{}, notFound(err, "flash sale", id)
	}
	return fs, nil
}

func (t *pgTx) InsertFlashSale(ctx context.Context, fs domain.FlashSale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO flash_sales (id, product_id, price, start_date, end_date, limited_quantity, sold,
			max_order_quantity, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		fs.ID, fs.ProductID, fs.Price, fs.StartDate, fs.EndDate, fs.LimitedQuantity, fs.Sold,
		fs.MaxOrderQuantity, fs.Status, fs.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: flash sale %s exists", domain.ErrConflict, fs.ID)
	}
	return err
}

func (t *pgTx) IncrementFlashSaleSold(ctx context.Context, id string, qty int) (domain.FlashSale, error) {
	fs, err := scanFlashSale(t.tx.QueryRow(ctx, `
		UPDATE flash_sales
		SET sold = sold + $2,
		    status = CASE WHEN sold + $2 >= limited_quantity THEN 'sold-out' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND sold + $2 <= limited_quantity
		RETURNING `+flashSaleCols, id, qty))
	if err == nil {
		return fs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.FlashSale{}, err
	}
	cur, err := t.GetFlashSale(ctx, id)
	if err != nil {
		return domain.FlashSale{}, err
	}
	return domain.FlashSale{}, fmt.Errorf("%w: only %d items available", domain.ErrInsufficientStock, cur.LimitedQuantity-cur.Sold)
}

func (t *pgTx) DecrementFlashSaleSold(ctx context.Context, id string, qty int, now time.Time) (domain.FlashSale, error) {
	fs, err := scanFlashSale(t.tx.QueryRow(ctx, `
		UPDATE flash_sales
		SET sold = sold - $2,
		    status = CASE
		        WHEN status = 'sold-out' AND sold - $2 < limited_quantity
		             AND start_date <= $3 AND end_date > $3 THEN 'active'
		        ELSE status END,
		    updated_at = $3
		WHERE id = $1 AND sold >= $2
		RETURNING `+flashSaleCols, id, qty, now))
	if err == nil {
		return fs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.FlashSale{}, err
	}
	cur, err := t.GetFlashSale(ctx, id)
	if err != nil {
		return domain.FlashSale{}, err
	}
	return domain.FlashSale{}, fmt.Errorf("%w: flash sale %s has only %d sold", domain.ErrInsufficientStock, id, cur.Sold)
}

func (t *pgTx) RefreshFlashSaleStatuses(ctx context.Context, now time.Time) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE flash_sales
		SET status = CASE WHEN end_date <= $1 THEN 'ended' ELSE 'active' END,
		    updated_at = $1
		WHERE (status IN ('upcoming', 'active', 'sold-out') AND end_date <= $1)
		   OR (status = 'upcoming' AND start_date <= $1 AND end_date > $1)`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
