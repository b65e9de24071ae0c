// Package voucher decides whether a voucher applies to a cart and how much
// it takes off. Evaluate is pure; Validate gathers usage counters inside the
// caller's transaction so settlement re-checks them atomically.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
)

type Usage struct {
	Total  int // all redemptions
	ByUser int // redemptions by the cart's user
}

type Verdict struct {
	Voucher          domain.Voucher
	EligibleSubtotal int64
	Discount         int64
}

var hundred = decimal.NewFromInt(100)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrVoucherInvalid}, args...)...)
}

// civil returns the calendar date of t, read in t's location, as midnight
// UTC. Callers convert both sides to the same location first.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Evaluate checks v against the cart and returns the discount, rounded to
// the nearest whole currency unit.
func Evaluate(v domain.Voucher, cart domain.Cart, shippingCost int64, usage Usage, now time.Time) (Verdict, error) {
	if !v.IsActive {
		return Verdict{}, invalid("voucher is not active")
	}
	loc := now.Location()
	today := civil(now)
	if today.Before(civil(v.StartDate.In(loc))) {
		return Verdict{}, invalid("voucher is not valid yet")
	}
	if today.After(civil(v.EndDate.In(loc))) {
		return Verdict{}, invalid("voucher has expired")
	}
	if v.UsageLimit != nil && usage.Total >= *v.UsageLimit {
		return Verdict{}, invalid("voucher usage limit reached")
	}
	if v.UsagePerUser != nil && usage.ByUser >= *v.UsagePerUser {
		return Verdict{}, invalid("you have reached the usage limit for this voucher")
	}
	subtotal := cart.Subtotal()
	if subtotal < v.MinPurchase {
		return Verdict{}, invalid("minimum purchase of %d required", v.MinPurchase)
	}

	eligible, err := eligibleSubtotal(v, cart)
	if err != nil {
		return Verdict{}, err
	}

	var discount decimal.Decimal
	switch v.Type {
	case domain.VoucherPercentage:
		discount = decimal.NewFromInt(eligible).Mul(v.Value).Div(hundred)
		discount = clampMax(discount, v.MaxDiscount)
	case domain.VoucherFixedAmount:
		discount = decimal.Min(v.Value, decimal.NewFromInt(eligible))
	case domain.VoucherFreeShipping:
		discount = clampMax(decimal.NewFromInt(shippingCost), v.MaxDiscount)
	default:
		return Verdict{}, invalid("unknown voucher type %s", v.Type)
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return Verdict{Voucher: v, EligibleSubtotal: eligible, Discount: discount.Round(0).IntPart()}, nil
}

func clampMax(d decimal.Decimal, limit *int64) decimal.Decimal {
	if limit == nil {
		return d
	}
	return decimal.Min(d, decimal.NewFromInt(*limit))
}

// eligibleSubtotal applies the category rules. A restricted voucher needs
// at least one line of its category. An unrestricted voucher on a mixed cart
// discounts only the regular lines; on a cart with no regular line it
// discounts everything.
func eligibleSubtotal(v domain.Voucher, cart domain.Cart) (int64, error) {
	var restrictTo domain.LineCategory
	switch {
	case v.FlashSaleOnly:
		restrictTo = domain.CategoryFlashSale
	case v.AuctionOnly:
		restrictTo = domain.CategoryAuction
	case v.RegularOnly:
		restrictTo = domain.CategoryRegular
	}

	byCategory := map[domain.LineCategory]int64{}
	present := map[domain.LineCategory]bool{}
	for _, l := range cart.Lines {
		byCategory[l.Category()] += l.Total()
		present[l.Category()] = true
	}

	if restrictTo != "" {
		if !present[restrictTo] {
			return 0, invalid("voucher only applies to %s items", restrictTo)
		}
		return byCategory[restrictTo], nil
	}
	if len(present) > 1 && present[domain.CategoryRegular] {
		return byCategory[domain.CategoryRegular], nil
	}
	return cart.Subtotal(), nil
}

// Validate loads the voucher by code and evaluates it with fresh usage
// counters read through tx.
func Validate(ctx context.Context, tx store.Vouchers, code string, cart domain.Cart, shippingCost int64, now time.Time) (Verdict, error) {
	v, err := tx.GetVoucherByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return Verdict{}, invalid("voucher %s not found", code)
	}
	if err != nil {
		return Verdict{}, err
	}
	var u Usage
	if u.Total, err = tx.CountVoucherUsage(ctx, v.ID); err != nil {
		return Verdict{}, err
	}
	if u.ByUser, err = tx.CountVoucherUsageByUser(ctx, v.ID, cart.UserID); err != nil {
		return Verdict{}, err
	}
	return Evaluate(v, cart, shippingCost, u, now)
}

// Evaluator previews a voucher outside settlement, e.g. for the cart page.
type Evaluator struct {
	store store.Store
	clock clock.Clock
}

func NewEvaluator(s store.Store, c clock.Clock) *Evaluator {
	return &Evaluator{store: s, clock: c}
}

func (e *Evaluator) Validate(ctx context.Context, code string, cart domain.Cart, shippingCost int64) (v Verdict, err error) {
	if err := cart.Validate(); err != nil {
		return Verdict{}, err
	}
	now := e.clock.Now()
	err = e.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		v, err = Validate(ctx, tx, code, cart, shippingCost, now)
		return err
	})
	return v, err
}
