package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/events"
	"github.com/ariefcatur/go-storefront-engine/internal/redisx"
	"github.com/ariefcatur/go-storefront-engine/internal/store/memstore"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store *memstore.Store
	clock *clock.Fake
	pub   *events.Recorder
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := memstore.New()
	s.PutProduct(domain.Product{ID: "p1", Price: 2000, Quantity: 50})
	s.PutProduct(domain.Product{ID: "p2", Price: 5000, Quantity: 10})
	s.PutFlashSale(domain.FlashSale{
		ID: "fs1", ProductID: "p1", Price: 1000, LimitedQuantity: 10, Sold: 0,
		Status: domain.FlashSaleActive, StartDate: t0.Add(-time.Hour), EndDate: t0.Add(time.Hour),
	})
	c := clock.NewFake(t0)
	pub := &events.Recorder{}
	opts = append([]Option{WithPublisher(pub)}, opts...)
	return &fixture{store: s, clock: c, pub: pub, svc: NewService(s, c, Config{}, opts...)}
}

var newAddr = AddressInput{Recipient: "Ana", Phone: "0812", Street: "Jl. Merdeka 1", CityID: "c1", PostalCode: "10110"}

func flashCart(user string, qty int) domain.Cart {
	return domain.Cart{UserID: user, Lines: []domain.CartLine{
		{ProductID: "p1", FlashSaleID: "fs1", Quantity: qty, UnitPrice: 1000},
	}}
}

func TestSettle_CommitsEveryEffect(t *testing.T) {
	f := newFixture(t)
	f.store.PutVoucher(domain.Voucher{
		ID: "v1", Code: "TENOFF", Type: domain.VoucherPercentage, Value: decimal.NewFromInt(10),
		StartDate: t0.AddDate(0, 0, -1), EndDate: t0.AddDate(0, 0, 1), IsActive: true,
	})
	f.store.PutReservation(domain.Reservation{
		ID: "r1", UserID: "u1", Type: domain.ReservationFlashSale, FlashSaleID: "fs1", ProductID: "p1",
		Quantity: 2, Status: domain.ReservationActive, ExpiresAt: t0.Add(10 * time.Minute),
	})

	cart := flashCart("u1", 2)
	cart.Lines = append(cart.Lines, domain.CartLine{ProductID: "p2", Quantity: 1, UnitPrice: 5000})
	o, err := f.svc.Settle(context.Background(), Request{
		Cart: cart, Address: newAddr, ShippingCost: 900, VoucherCode: "TENOFF",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Equal(t, int64(7000), o.Subtotal)
	// unrestricted voucher on a mixed cart discounts the regular lines only
	assert.Equal(t, int64(500), o.Discount)
	assert.Equal(t, int64(7400), o.TotalAmount)
	assert.Equal(t, t0.Add(DefaultPaymentDeadline), o.ExpiresAt)
	assert.Len(t, o.Items, 2)

	assert.Equal(t, 2, f.store.FlashSale("fs1").Sold)
	assert.Equal(t, 48, f.store.Product("p1").Quantity)
	assert.Equal(t, 9, f.store.Product("p2").Quantity)
	assert.Len(t, f.store.VoucherUsages(), 1)
	assert.Len(t, f.store.Addresses(), 1)
	assert.Equal(t, domain.ReservationCompleted, f.store.Reservations()[0].Status)
	assert.Equal(t, []string{events.EventOrderSettled}, f.pub.Types())
}

func TestSettle_FailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.store.PutVoucher(domain.Voucher{
		ID: "v1", Code: "FLAT", Type: domain.VoucherFixedAmount, Value: decimal.NewFromInt(500),
		StartDate: t0.AddDate(0, 0, -1), EndDate: t0.AddDate(0, 0, 1), IsActive: true,
	})
	boom := errors.New("disk on fire")
	f.store.FailOn("IncrementFlashSaleSold", boom)

	_, err := f.svc.Settle(context.Background(), Request{
		Cart: flashCart("u1", 3), Address: newAddr, VoucherCode: "FLAT",
	})
	require.ErrorIs(t, err, boom)

	assert.Empty(t, f.store.Orders())
	assert.Empty(t, f.store.OrderItems())
	assert.Empty(t, f.store.VoucherUsages())
	assert.Empty(t, f.store.Addresses())
	assert.Equal(t, 0, f.store.FlashSale("fs1").Sold)
	assert.Equal(t, 50, f.store.Product("p1").Quantity)
	assert.Empty(t, f.pub.Events())
}

func TestSettle_InvalidVoucherAborts(t *testing.T) {
	f := newFixture(t)
	f.store.PutVoucher(domain.Voucher{
		ID: "v1", Code: "OLD", Type: domain.VoucherPercentage, Value: decimal.NewFromInt(10),
		StartDate: t0.AddDate(0, 0, -10), EndDate: t0.AddDate(0, 0, -2), IsActive: true,
	})

	_, err := f.svc.Settle(context.Background(), Request{Cart: flashCart("u1", 1), Address: newAddr, VoucherCode: "OLD"})

	require.ErrorIs(t, err, domain.ErrVoucherInvalid)
	assert.Contains(t, err.Error(), "voucher has expired")
	assert.Empty(t, f.store.Orders())
	assert.Equal(t, 0, f.store.FlashSale("fs1").Sold)
}

func TestSettle_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		cart  domain.Cart
		want  error
	}{
		{
			name: "price drifted",
			cart: domain.Cart{UserID: "u1", Lines: []domain.CartLine{{ProductID: "p1", FlashSaleID: "fs1", Quantity: 1, UnitPrice: 900}}},
			want: domain.ErrValidationFailed,
		},
		{
			name: "over per-user cap",
			setup: func(f *fixture) {
				fs := f.store.FlashSale("fs1")
				fs.MaxOrderQuantity = ptr(2)
				f.store.PutFlashSale(fs)
			},
			cart: flashCart("u1", 3),
			want: domain.ErrValidationFailed,
		},
		{
			name: "window closed",
			setup: func(f *fixture) {
				f.clock.Advance(2 * time.Hour)
			},
			cart: flashCart("u1", 1),
			want: domain.ErrNotActive,
		},
		{
			name: "held by others",
			setup: func(f *fixture) {
				f.store.PutReservation(domain.Reservation{
					ID: "r2", UserID: "u2", Type: domain.ReservationFlashSale, FlashSaleID: "fs1", ProductID: "p1",
					Quantity: 8, Status: domain.ReservationActive, ExpiresAt: t0.Add(10 * time.Minute),
				})
			},
			cart: flashCart("u1", 3),
			want: domain.ErrInsufficientStock,
		},
		{
			name: "catalog exhausted",
			cart: domain.Cart{UserID: "u1", Lines: []domain.CartLine{{ProductID: "p2", Quantity: 11, UnitPrice: 5000}}},
			want: domain.ErrInsufficientStock,
		},
		{
			name: "regular price tampered",
			cart: domain.Cart{UserID: "u1", Lines: []domain.CartLine{{ProductID: "p2", Quantity: 1, UnitPrice: 1}}},
			want: domain.ErrValidationFailed,
		},
		{
			name: "unknown product",
			cart: domain.Cart{UserID: "u1", Lines: []domain.CartLine{{ProductID: "nope", Quantity: 1, UnitPrice: 1}}},
			want: domain.ErrNotFound,
		},
		{
			name: "empty cart",
			cart: domain.Cart{UserID: "u1"},
			want: domain.ErrValidationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.svc.Settle(context.Background(), Request{Cart: tt.cart, Address: newAddr})
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.store.Orders())
		})
	}
}

func TestSettle_OwnHoldDoesNotBlockPurchase(t *testing.T) {
	f := newFixture(t)
	f.store.PutReservation(domain.Reservation{
		ID: "r1", UserID: "u1", Type: domain.ReservationFlashSale, FlashSaleID: "fs1", ProductID: "p1",
		Quantity: 10, Status: domain.ReservationActive, ExpiresAt: t0.Add(10 * time.Minute),
	})

	_, err := f.svc.Settle(context.Background(), Request{Cart: flashCart("u1", 10), Address: newAddr})
	require.NoError(t, err)

	fs := f.store.FlashSale("fs1")
	assert.Equal(t, 10, fs.Sold)
	assert.Equal(t, domain.FlashSaleSoldOut, fs.Status)
}

func TestSettle_NoOversellUnderContention(t *testing.T) {
	f := newFixture(t)
	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Settle(context.Background(), Request{Cart: flashCart(fmt.Sprintf("u%d", i), 1), Address: newAddr})
			if err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientStock)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, 10, f.store.FlashSale("fs1").Sold)
	assert.Equal(t, 40, f.store.Product("p1").Quantity)
}

func TestSettle_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Cart: flashCart("u1", 2), Address: newAddr, IdempotencyKey: "ck-1"}

	first, err := f.svc.Settle(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Settle(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, 2, f.store.FlashSale("fs1").Sold)
	assert.Len(t, f.pub.Events(), 1)
}

func TestSettle_ReplayThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, WithIdempotency(redisx.NewIdempotency(rdb)))
	ctx := context.Background()
	req := Request{Cart: flashCart("u1", 1), Address: newAddr, IdempotencyKey: "ck-2"}

	first, err := f.svc.Settle(ctx, req)
	require.NoError(t, err)
	assert.True(t, mr.Exists(fmt.Sprintf(redisx.KeyIdemOrderSettle, "ck-2")))

	second, err := f.svc.Settle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.store.Orders(), 1)
}

func TestSettle_SavedAddressMustBelongToUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Settle(ctx, Request{Cart: flashCart("u1", 1), Address: newAddr})
	require.NoError(t, err)

	_, err = f.svc.Settle(ctx, Request{Cart: flashCart("u2", 1), Address: AddressInput{ID: o.AddressID}})
	require.ErrorIs(t, err, domain.ErrNotFound)

	again, err := f.svc.Settle(ctx, Request{Cart: flashCart("u1", 1), Address: AddressInput{ID: o.AddressID}})
	require.NoError(t, err)
	assert.Equal(t, o.AddressID, again.AddressID)
	assert.Len(t, f.store.Addresses(), 1)
}

func TestSettle_BestEffortReservationCompletion(t *testing.T) {
	f := newFixture(t)
	f.store.PutReservation(domain.Reservation{
		ID: "r1", UserID: "u1", Type: domain.ReservationFlashSale, FlashSaleID: "fs1", ProductID: "p1",
		Quantity: 1, Status: domain.ReservationActive, ExpiresAt: t0.Add(10 * time.Minute),
	})
	f.store.FailOn("CompleteFlashSaleReservation", errors.New("flaky"))

	o, err := f.svc.Settle(context.Background(), Request{Cart: flashCart("u1", 1), Address: newAddr})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Equal(t, domain.ReservationActive, f.store.Reservations()[0].Status)
}

func seedAuction(f *fixture, status domain.AuctionStatus) {
	f.store.PutProduct(domain.Product{ID: "p3", Price: 90000, Quantity: 1})
	f.store.PutAuction(domain.Auction{
		ID: "a1", ProductID: "p3", MinBid: 10000, CurrentBid: ptr(int64(15000)), BidCount: 2,
		StartDate: t0.Add(-2 * time.Hour), EndDate: t0.Add(-time.Minute), Status: status,
	})
	f.store.PutBid(domain.Bid{ID: "b1", AuctionID: "a1", UserID: "u2", Amount: 12000, CreatedAt: t0.Add(-time.Hour)})
	f.store.PutBid(domain.Bid{ID: "b2", AuctionID: "a1", UserID: "u1", Amount: 15000, CreatedAt: t0.Add(-30 * time.Minute)})
}

func auctionCart(user string, price int64) domain.Cart {
	return domain.Cart{UserID: user, Lines: []domain.CartLine{{ProductID: "p3", AuctionID: "a1", Quantity: 1, UnitPrice: price}}}
}

func TestSettle_AuctionWinnerCheckout(t *testing.T) {
	f := newFixture(t)
	seedAuction(f, domain.AuctionEnded)
	f.store.PutReservation(domain.Reservation{
		ID: "r1", UserID: "u1", Type: domain.ReservationAuction, AuctionID: "a1", ProductID: "p3",
		Quantity: 1, Status: domain.ReservationActive, ExpiresAt: t0.Add(time.Hour),
	})

	o, err := f.svc.Settle(context.Background(), Request{Cart: auctionCart("u1", 15000), Address: newAddr})
	require.NoError(t, err)

	assert.Equal(t, int64(15000), o.TotalAmount)
	assert.Equal(t, domain.AuctionSold, f.store.Auction("a1").Status)
	assert.Equal(t, 0, f.store.Product("p3").Quantity)
	assert.Equal(t, domain.ReservationCompleted, f.store.Reservations()[0].Status)
	assert.Equal(t, []string{events.EventOrderSettled, events.EventAuctionSold}, f.pub.Types())
}

func TestSettle_AuctionRejections(t *testing.T) {
	f := newFixture(t)
	seedAuction(f, domain.AuctionEnded)
	ctx := context.Background()

	_, err := f.svc.Settle(ctx, Request{Cart: auctionCart("u2", 12000), Address: newAddr})
	require.ErrorIs(t, err, domain.ErrNotWinner)

	_, err = f.svc.Settle(ctx, Request{Cart: auctionCart("u1", 100), Address: newAddr})
	require.ErrorIs(t, err, domain.ErrValidationFailed)

	assert.Equal(t, domain.AuctionEnded, f.store.Auction("a1").Status)
	assert.Empty(t, f.store.Orders())
}

func TestSettle_BuyNowAlreadySold(t *testing.T) {
	f := newFixture(t)
	seedAuction(f, domain.AuctionSold)

	_, err := f.svc.Settle(context.Background(), Request{Cart: auctionCart("u1", 15000), Address: newAddr})
	require.NoError(t, err)

	assert.Equal(t, domain.AuctionSold, f.store.Auction("a1").Status)
	assert.Equal(t, []string{events.EventOrderSettled}, f.pub.Types())
}

func TestSettle_RegularPurchaseClosesRunningAuction(t *testing.T) {
	f := newFixture(t)
	f.store.PutAuction(domain.Auction{
		ID: "a2", ProductID: "p2", MinBid: 1000, StartDate: t0.Add(-time.Hour), EndDate: t0.Add(time.Hour),
		Status: domain.AuctionActive,
	})

	_, err := f.svc.Settle(context.Background(), Request{
		Cart:    domain.Cart{UserID: "u1", Lines: []domain.CartLine{{ProductID: "p2", Quantity: 1, UnitPrice: 5000}}},
		Address: newAddr,
	})
	require.NoError(t, err)

	a := f.store.Auction("a2")
	assert.Equal(t, domain.AuctionSold, a.Status)
	assert.Equal(t, int64(5000), a.Highest())
}

func TestSettle_TamperedPriceLeavesAuctionRunning(t *testing.T) {
	f := newFixture(t)
	f.store.PutAuction(domain.Auction{
		ID: "a2", ProductID: "p2", MinBid: 1000, CurrentBid: ptr(int64(60000)), BidCount: 1,
		StartDate: t0.Add(-time.Hour), EndDate: t0.Add(time.Hour), Status: domain.AuctionActive,
	})
	f.store.PutBid(domain.Bid{ID: "b1", AuctionID: "a2", UserID: "u2", Amount: 60000, CreatedAt: t0.Add(-time.Minute)})

	_, err := f.svc.Settle(context.Background(), Request{
		Cart:    domain.Cart{UserID: "u1", Lines: []domain.CartLine{{ProductID: "p2", Quantity: 1, UnitPrice: 1}}},
		Address: newAddr,
	})
	require.ErrorIs(t, err, domain.ErrValidationFailed)

	a := f.store.Auction("a2")
	assert.Equal(t, domain.AuctionActive, a.Status)
	assert.Equal(t, int64(60000), a.Highest())
	assert.Equal(t, 10, f.store.Product("p2").Quantity)
	assert.Empty(t, f.store.Orders())
}

func TestSettle_PerUserCapSpansOrders(t *testing.T) {
	f := newFixture(t)
	fs := f.store.FlashSale("fs1")
	fs.MaxOrderQuantity = ptr(2)
	f.store.PutFlashSale(fs)
	ctx := context.Background()

	first := settleOne(t, f, 2)

	_, err := f.svc.Settle(ctx, Request{Cart: flashCart("u1", 1), Address: newAddr})
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Equal(t, 2, f.store.FlashSale("fs1").Sold)

	_, err = f.svc.Settle(ctx, Request{Cart: flashCart("u2", 2), Address: newAddr})
	require.NoError(t, err)

	// a cancelled order no longer counts against the cap
	_, err = f.svc.CancelOrder(ctx, first.ID, "u1", "")
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, Request{Cart: flashCart("u1", 2), Address: newAddr})
	require.NoError(t, err)
	assert.Equal(t, 4, f.store.FlashSale("fs1").Sold)
}

func settleOne(t *testing.T, f *fixture, qty int) domain.Order {
	t.Helper()
	o, err := f.svc.Settle(context.Background(), Request{Cart: flashCart("u1", qty), Address: newAddr})
	require.NoError(t, err)
	return o
}

func TestCancelOrder_RestoresAndReopensSoldOut(t *testing.T) {
	f := newFixture(t)
	o := settleOne(t, f, 10)
	require.Equal(t, domain.FlashSaleSoldOut, f.store.FlashSale("fs1").Status)

	got, err := f.svc.CancelOrder(context.Background(), o.ID, "u1", "changed my mind")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderCancelled, got.Status)
	fs := f.store.FlashSale("fs1")
	assert.Equal(t, 0, fs.Sold)
	assert.Equal(t, domain.FlashSaleActive, fs.Status)
	assert.Equal(t, 50, f.store.Product("p1").Quantity)
	assert.Equal(t, events.EventOrderCancelled, f.pub.Types()[1])

	_, err = f.svc.CancelOrder(context.Background(), o.ID, "u1", "")
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 50, f.store.Product("p1").Quantity)
}

func TestCancelOrder_OtherUserSeesNotFound(t *testing.T) {
	f := newFixture(t)
	o := settleOne(t, f, 1)

	_, err := f.svc.CancelOrder(context.Background(), o.ID, "u9", "")

	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, f.store.FlashSale("fs1").Sold)
}

func TestMarkPaid_Idempotent(t *testing.T) {
	f := newFixture(t)
	o := settleOne(t, f, 1)
	ctx := context.Background()

	paid, err := f.svc.MarkPaid(ctx, o.ID, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, paid.Status)
	assert.Equal(t, "pay-1", paid.PaymentRef)

	again, err := f.svc.MarkPaid(ctx, o.ID, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, again.Status)
	assert.Equal(t, []string{events.EventOrderSettled, events.EventOrderPaid}, f.pub.Types())
}

func TestExpireUnpaidOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := settleOne(t, f, 3)
	paid := settleOne(t, f, 2)
	_, err := f.svc.MarkPaid(ctx, paid.ID, "pay-2")
	require.NoError(t, err)

	ids, err := f.svc.ExpireUnpaidOrders(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	f.clock.Advance(DefaultPaymentDeadline + time.Second)
	ids, err = f.svc.ExpireUnpaidOrders(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)

	got, err := f.svc.GetOrder(ctx, stale.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderExpired, got.Status)
	assert.Equal(t, 2, f.store.FlashSale("fs1").Sold)
	assert.Equal(t, 48, f.store.Product("p1").Quantity)

	ids, err = f.svc.ExpireUnpaidOrders(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpdateStatus_FollowsGraph(t *testing.T) {
	f := newFixture(t)
	o := settleOne(t, f, 1)
	ctx := context.Background()

	_, err := f.svc.UpdateStatus(ctx, o.ID, domain.OrderShipped, "")
	require.ErrorIs(t, err, domain.ErrConflict)

	for _, to := range []domain.OrderStatus{domain.OrderPaid, domain.OrderProcessing, domain.OrderShipped, domain.OrderDelivered} {
		got, err := f.svc.UpdateStatus(ctx, o.ID, to, "")
		require.NoError(t, err, to)
		assert.Equal(t, to, got.Status)
	}

	_, err = f.svc.UpdateStatus(ctx, o.ID, domain.OrderCancelled, "")
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, f.store.FlashSale("fs1").Sold)
}

func TestGetOrder_Ownership(t *testing.T) {
	f := newFixture(t)
	o := settleOne(t, f, 1)

	_, err := f.svc.GetOrder(context.Background(), o.ID, "u2")
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.svc.GetOrder(context.Background(), o.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
}
