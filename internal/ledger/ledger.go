// Package ledger owns the three stock pools: catalog quantity, flash sale
// sold counters and the auction single-unit slot. Every mutation is a
// conditional write performed by the store, so the check and the change
// cannot be separated by a concurrent caller.
//
// The package-level functions act inside a caller's transaction; the Ledger
// methods wrap one call in a transaction of their own.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
)

func checkQty(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrValidationFailed, qty)
	}
	return nil
}

func DecrementCatalog(ctx context.Context, tx store.Products, productID string, qty int) (domain.Product, error) {
	if err := checkQty(qty); err != nil {
		return domain.Product{}, err
	}
	return tx.DecrementProductQuantity(ctx, productID, qty)
}

func IncrementCatalog(ctx context.Context, tx store.Products, productID string, qty int) (domain.Product, error) {
	if err := checkQty(qty); err != nil {
		return domain.Product{}, err
	}
	return tx.IncrementProductQuantity(ctx, productID, qty)
}

func IncrementFlashSaleSold(ctx context.Context, tx store.FlashSales, flashSaleID string, qty int) (domain.FlashSale, error) {
	if err := checkQty(qty); err != nil {
		return domain.FlashSale{}, err
	}
	return tx.IncrementFlashSaleSold(ctx, flashSaleID, qty)
}

func DecrementFlashSaleSold(ctx context.Context, tx store.FlashSales, flashSaleID string, qty int, now time.Time) (domain.FlashSale, error) {
	if err := checkQty(qty); err != nil {
		return domain.FlashSale{}, err
	}
	return tx.DecrementFlashSaleSold(ctx, flashSaleID, qty, now)
}

// Available is limitedQuantity - sold - held, never negative.
func Available(fs domain.FlashSale, held int) int {
	return max(0, fs.LimitedQuantity-fs.Sold-held)
}

// FlashSaleAvailability loads fs and derives its available stock at now.
// Holds owned by excludeUserID are not subtracted; pass "" to count all.
func FlashSaleAvailability(ctx context.Context, tx store.Tx, flashSaleID string, now time.Time, excludeUserID string) (domain.FlashSale, int, error) {
	fs, err := tx.GetFlashSale(ctx, flashSaleID)
	if err != nil {
		return domain.FlashSale{}, 0, err
	}
	held, err := tx.HeldQuantity(ctx, flashSaleID, now, excludeUserID)
	if err != nil {
		return domain.FlashSale{}, 0, err
	}
	return fs, Available(fs, held), nil
}

// Restore gives the units of a cancelled or expired order back: catalog
// quantity goes up and flash sale sold goes down, reopening a sold-out sale
// that is still inside its window.
func Restore(ctx context.Context, tx store.Tx, items []domain.OrderItem, now time.Time) error {
	for _, it := range items {
		if _, err := IncrementCatalog(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("restore product %s: %w", it.ProductID, err)
		}
		if it.FlashSaleID == "" {
			continue
		}
		if _, err := DecrementFlashSaleSold(ctx, tx, it.FlashSaleID, it.Quantity, now); err != nil {
			return fmt.Errorf("restore flash sale %s: %w", it.FlashSaleID, err)
		}
	}
	return nil
}

type Ledger struct {
	store store.Store
	clock clock.Clock
}

func New(s store.Store, c clock.Clock) *Ledger {
	return &Ledger{store: s, clock: c}
}

func (l *Ledger) DecrementCatalog(ctx context.Context, productID string, qty int) (p domain.Product, err error) {
	err = l.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		p, err = DecrementCatalog(ctx, tx, productID, qty)
		return err
	})
	return p, err
}

func (l *Ledger) IncrementCatalog(ctx context.Context, productID string, qty int) (p domain.Product, err error) {
	err = l.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		p, err = IncrementCatalog(ctx, tx, productID, qty)
		return err
	})
	return p, err
}

func (l *Ledger) IncrementFlashSaleSold(ctx context.Context, flashSaleID string, qty int) (fs domain.FlashSale, err error) {
	err = l.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		fs, err = IncrementFlashSaleSold(ctx, tx, flashSaleID, qty)
		return err
	})
	return fs, err
}

func (l *Ledger) DecrementFlashSaleSold(ctx context.Context, flashSaleID string, qty int) (fs domain.FlashSale, err error) {
	now := l.clock.Now()
	err = l.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		fs, err = DecrementFlashSaleSold(ctx, tx, flashSaleID, qty, now)
		return err
	})
	return fs, err
}
