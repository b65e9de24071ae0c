package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/events"
	"github.com/ariefcatur/go-storefront-engine/internal/ledger"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/reservation"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
	"github.com/ariefcatur/go-storefront-engine/internal/telemetry"
	"github.com/ariefcatur/go-storefront-engine/internal/voucher"
)

// AddressInput either names a saved address of the user or carries the
// fields of a new one.
type AddressInput struct {
	ID         string
	Recipient  string
	Phone      string
	Street     string
	ProvinceID string
	CityID     string
	DistrictID string
	PostalCode string
}

func (a AddressInput) validate() error {
	if a.ID != "" {
		return nil
	}
	if a.Recipient == "" || a.Phone == "" || a.Street == "" || a.CityID == "" || a.PostalCode == "" {
		return fmt.Errorf("%w: incomplete shipping address", domain.ErrValidationFailed)
	}
	return nil
}

type Request struct {
	Cart           domain.Cart
	Address        AddressInput
	ShippingCost   int64
	VoucherCode    string
	IdempotencyKey string
}

func (r Request) validate() error {
	if err := r.Cart.Validate(); err != nil {
		return err
	}
	if r.ShippingCost < 0 {
		return fmt.Errorf("%w: negative shipping cost", domain.ErrValidationFailed)
	}
	return r.Address.validate()
}

// settled carries what the transaction produced for post-commit work.
type settled struct {
	order      domain.Order
	flashSales []string
	sold       []domain.Auction
}

// Settle commits the cart as one Pending order. Either every effect lands
// (address, order, items, voucher usage, sold counters, catalog stock,
// auction sale, completed reservations) or none does, and the first failing
// step's error is returned.
//
// A repeated IdempotencyKey returns the order the first call created.
func (s *Service) Settle(ctx context.Context, req Request) (domain.Order, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "settlement.Settle")
	defer span.End()
	span.SetAttributes(attribute.Int("lines", len(req.Cart.Lines)))

	if err := req.validate(); err != nil {
		return domain.Order{}, err
	}
	if id, ok := s.lookup(ctx, req.IdempotencyKey); ok {
		if o, err := s.GetOrder(ctx, id, req.Cart.UserID); err == nil {
			return o, nil
		}
	}

	now := s.clock.Now()
	var out settled
	err := s.store.InTx(ctx, store.TxOptions{Isolation: store.Serializable}, func(tx store.Tx) error {
		var err error
		out, err = s.settleTx(ctx, tx, req, now)
		return err
	})
	if isReplay(err) || (errors.Is(err, domain.ErrConflict) && req.IdempotencyKey != "") {
		o, lerr := s.orderByKey(ctx, req.IdempotencyKey)
		if lerr == nil && o.UserID == req.Cart.UserID {
			s.remember(ctx, req.IdempotencyKey, o.ID)
			return o, nil
		}
	}
	s.metrics.Order(ctx, string(domain.OrderPending), err)
	if err != nil {
		telemetry.Fail(span, err)
		logx.Rejection(s.log, "settlement rejected", err, zap.String("user_id", req.Cart.UserID))
		return domain.Order{}, err
	}

	o := out.order
	s.remember(ctx, req.IdempotencyKey, o.ID)
	s.invalidate(ctx, out.flashSales)
	s.log.Info("order settled", zap.String("order_id", o.ID), zap.String("user_id", o.UserID),
		zap.Int64("total", o.TotalAmount), zap.Int64("discount", o.Discount))

	lines := make([]events.OrderLine, len(o.Items))
	for i, it := range o.Items {
		lines[i] = events.OrderLine{ProductID: it.ProductID, FlashSaleID: it.FlashSaleID, AuctionID: it.AuctionID,
			Qty: it.Quantity, Price: it.Price}
	}
	events.Emit(ctx, s.pub, s.log, events.EventOrderSettled, s.cfg.Producer, o.ID, now, events.OrderSettledPayload{
		OrderID: o.ID, ExternalID: o.ExternalID, UserID: o.UserID, Items: lines,
		Discount: o.Discount, TotalAmount: o.TotalAmount, VoucherCode: req.VoucherCode,
	})
	for _, a := range out.sold {
		events.Emit(ctx, s.pub, s.log, events.EventAuctionSold, s.cfg.Producer, a.ID, now, events.AuctionSoldPayload{
			AuctionID: a.ID, ProductID: a.ProductID, Price: a.Highest(), OrderID: o.ID, UserID: o.UserID,
		})
	}
	return o, nil
}

func (s *Service) orderByKey(ctx context.Context, key string) (o domain.Order, err error) {
	err = s.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		o, err = tx.OrderByExternalID(ctx, key)
		return err
	})
	return o, err
}

func (s *Service) settleTx(ctx context.Context, tx store.Tx, req Request, now time.Time) (settled, error) {
	cart := req.Cart
	if req.IdempotencyKey != "" {
		if _, err := tx.OrderByExternalID(ctx, req.IdempotencyKey); err == nil {
			return settled{}, errReplay
		} else if !errors.Is(err, domain.ErrNotFound) {
			return settled{}, err
		}
	}

	// 1. address
	addr, err := s.resolveAddress(ctx, tx, cart.UserID, req.Address, now)
	if err != nil {
		return settled{}, wrapStep("address", err)
	}

	if err := checkCatalogPrices(ctx, tx, cart); err != nil {
		return settled{}, err
	}

	// 2. voucher
	var verdict voucher.Verdict
	if req.VoucherCode != "" {
		if verdict, err = voucher.Validate(ctx, tx, req.VoucherCode, cart, req.ShippingCost, now); err != nil {
			return settled{}, err
		}
	}

	// 3. order and voucher usage
	subtotal := cart.Subtotal()
	o := domain.Order{
		ID:           uuid.NewString(),
		ExternalID:   req.IdempotencyKey,
		UserID:       cart.UserID,
		AddressID:    addr.ID,
		Status:       domain.OrderPending,
		Subtotal:     subtotal,
		ShippingCost: req.ShippingCost,
		Discount:     verdict.Discount,
		TotalAmount:  max(0, subtotal+req.ShippingCost-verdict.Discount),
		VoucherID:    verdict.Voucher.ID,
		ExpiresAt:    now.Add(s.cfg.PaymentDeadline),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.InsertOrder(ctx, o); err != nil {
		return settled{}, wrapStep("create order", err)
	}
	if o.VoucherID != "" {
		if err := tx.InsertVoucherUsage(ctx, domain.VoucherUsage{
			ID: uuid.NewString(), VoucherID: o.VoucherID, UserID: o.UserID, OrderID: o.ID,
			Discount: o.Discount, CreatedAt: now,
		}); err != nil {
			return settled{}, wrapStep("record voucher usage", err)
		}
	}

	// 4. items and stock
	var out settled
	for _, l := range cart.Lines {
		// The sale is checked before the item is written so the per-user
		// cap counts only earlier orders and earlier lines.
		if l.FlashSaleID != "" {
			if err := s.takeFlashSale(ctx, tx, cart.UserID, l, now); err != nil {
				return settled{}, err
			}
			out.flashSales = append(out.flashSales, l.FlashSaleID)
		}
		it := domain.OrderItem{
			ID: uuid.NewString(), OrderID: o.ID, ProductID: l.ProductID,
			FlashSaleID: l.FlashSaleID, AuctionID: l.AuctionID, Quantity: l.Quantity, Price: l.UnitPrice,
		}
		if err := tx.InsertOrderItem(ctx, it); err != nil {
			return settled{}, wrapStep("create order item", err)
		}
		if _, err := ledger.DecrementCatalog(ctx, tx, l.ProductID, l.Quantity); err != nil {
			return settled{}, err
		}
		o.Items = append(o.Items, it)
	}

	// 5. auction
	if out.sold, err = s.sellAuctions(ctx, tx, cart, now); err != nil {
		return settled{}, err
	}

	// 6. reservations, best-effort
	for _, id := range out.flashSales {
		if _, err := tx.CompleteFlashSaleReservation(ctx, cart.UserID, id, now); err != nil {
			s.log.Warn("complete flash sale reservation failed", zap.String("flash_sale_id", id), zap.Error(err))
		}
	}
	for _, a := range out.sold {
		s.completeAuctionReservation(ctx, tx, cart.UserID, a.ID, now)
	}

	out.order = o
	return out, nil
}

func (s *Service) resolveAddress(ctx context.Context, tx store.Tx, userID string, in AddressInput, now time.Time) (domain.Address, error) {
	if in.ID != "" {
		a, err := tx.GetAddress(ctx, in.ID)
		if err != nil {
			return domain.Address{}, err
		}
		if a.UserID != userID {
			return domain.Address{}, fmt.Errorf("%w: address %s", domain.ErrNotFound, in.ID)
		}
		return a, nil
	}
	a := domain.Address{
		ID: uuid.NewString(), UserID: userID, Recipient: in.Recipient, Phone: in.Phone, Street: in.Street,
		ProvinceID: in.ProvinceID, CityID: in.CityID, DistrictID: in.DistrictID, PostalCode: in.PostalCode,
		CreatedAt: now,
	}
	return a, tx.InsertAddress(ctx, a)
}

// checkCatalogPrices rejects a regular line whose price differs from the
// product's current price. Flash sale and auction lines are priced by their
// sale and checked where those are taken.
func checkCatalogPrices(ctx context.Context, tx store.Tx, cart domain.Cart) error {
	for _, l := range cart.Lines {
		if l.Category() != domain.CategoryRegular {
			continue
		}
		p, err := tx.GetProduct(ctx, l.ProductID)
		if err != nil {
			return err
		}
		if l.UnitPrice != p.Price {
			return fmt.Errorf("%w: product %s price is %d", domain.ErrValidationFailed, p.ID, p.Price)
		}
	}
	return nil
}

// takeFlashSale re-validates a flash sale line under the sale's row lock
// and moves its units into sold. Holds of other users still count against
// availability; the buyer's own hold is what this purchase consumes.
func (s *Service) takeFlashSale(ctx context.Context, tx store.Tx, userID string, l domain.CartLine, now time.Time) error {
	fs, err := tx.LockFlashSale(ctx, l.FlashSaleID)
	if err != nil {
		return err
	}
	if fs.ProductID != l.ProductID {
		return fmt.Errorf("%w: flash sale %s is not for product %s", domain.ErrValidationFailed, fs.ID, l.ProductID)
	}
	if l.UnitPrice != fs.Price {
		return fmt.Errorf("%w: flash sale price changed to %d", domain.ErrValidationFailed, fs.Price)
	}
	if err := reservation.CheckFlashSaleOpen(fs, now); err != nil {
		return err
	}
	if err := reservation.CheckUserCap(ctx, tx, fs, userID, l.Quantity); err != nil {
		return err
	}
	held, err := tx.HeldQuantity(ctx, fs.ID, now, userID)
	if err != nil {
		return err
	}
	if avail := ledger.Available(fs, held); l.Quantity > avail {
		return fmt.Errorf("%w: only %d items available", domain.ErrInsufficientStock, avail)
	}
	_, err = ledger.IncrementFlashSaleSold(ctx, tx, fs.ID, l.Quantity)
	return err
}

// sellAuctions closes the auctions this cart buys. A line naming an auction
// must be the winner's single unit at the winning price. A single-unit
// regular cart also closes an active auction running on that product.
func (s *Service) sellAuctions(ctx context.Context, tx store.Tx, cart domain.Cart, now time.Time) ([]domain.Auction, error) {
	var sold []domain.Auction
	for _, l := range cart.Lines {
		if l.AuctionID == "" {
			continue
		}
		a, err := s.sellWon(ctx, tx, cart.UserID, l)
		if err != nil {
			return nil, err
		}
		if a.ID != "" {
			sold = append(sold, a)
		}
	}
	if len(sold) > 0 || !cart.SingleUnit() || cart.Lines[0].Category() != domain.CategoryRegular {
		return sold, nil
	}

	l := cart.Lines[0]
	a, err := tx.OpenAuctionForProduct(ctx, l.ProductID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AuctionActive || !now.Before(a.EndDate) {
		return nil, nil
	}
	if _, err := tx.LockAuction(ctx, a.ID); err != nil {
		return nil, err
	}
	a, err = tx.SellAuction(ctx, a.ID, l.UnitPrice) // catalog price, checked in settleTx
	if err != nil {
		return nil, wrapStep("sell auction", err)
	}
	return []domain.Auction{a}, nil
}

// sellWon returns the zero Auction when the auction was already closed by
// a buy-now bid of the same user.
func (s *Service) sellWon(ctx context.Context, tx store.Tx, userID string, l domain.CartLine) (domain.Auction, error) {
	if l.Quantity != 1 {
		return domain.Auction{}, fmt.Errorf("%w: auction lines are a single unit", domain.ErrValidationFailed)
	}
	a, err := tx.LockAuction(ctx, l.AuctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	if a.ProductID != l.ProductID {
		return domain.Auction{}, fmt.Errorf("%w: auction %s is not for product %s", domain.ErrValidationFailed, a.ID, l.ProductID)
	}
	top, err := tx.HighestBid(ctx, a.ID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && top.UserID != userID) {
		return domain.Auction{}, fmt.Errorf("%w: user %s does not hold the highest bid", domain.ErrNotWinner, userID)
	}
	if err != nil {
		return domain.Auction{}, err
	}
	if l.UnitPrice != top.Amount {
		return domain.Auction{}, fmt.Errorf("%w: winning price is %d", domain.ErrValidationFailed, top.Amount)
	}
	switch a.Status {
	case domain.AuctionSold:
		return domain.Auction{}, nil
	case domain.AuctionActive, domain.AuctionEnded:
	default:
		return domain.Auction{}, fmt.Errorf("%w: auction %s is %s", domain.ErrNotActive, a.ID, a.Status)
	}
	a, err = tx.SellAuction(ctx, a.ID, top.Amount)
	return a, wrapStep("sell auction", err)
}

func (s *Service) completeAuctionReservation(ctx context.Context, tx store.Tx, userID, auctionID string, now time.Time) {
	r, err := tx.ActiveReservation(ctx, userID, domain.ReservationAuction, auctionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("load auction reservation failed", zap.String("auction_id", auctionID), zap.Error(err))
		}
		return
	}
	if _, err := tx.TransitionReservation(ctx, r.ID, domain.ReservationCompleted, now); err != nil {
		s.log.Warn("complete auction reservation failed", zap.String("reservation_id", r.ID), zap.Error(err))
	}
}
