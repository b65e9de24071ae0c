package postgres

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
)

// These tests run the conditional SQL against a real server. Point
// POSTGRES_DSN at a disposable database to enable them.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := Connect(ctx, dsn, 32)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return New(pool)
}

func seedProduct(t *testing.T, s *Store, price int64, qty int) string {
	t.Helper()
	id := "p-" + uuid.NewString()
	_, err := s.DB.Exec(context.Background(),
		`INSERT INTO products (id, name, price, quantity) VALUES ($1, $1, $2, $3)`, id, price, qty)
	require.NoError(t, err)
	return id
}

func seedFlashSale(t *testing.T, s *Store, productID string, limit int, now time.Time) string {
	t.Helper()
	fs := domain.FlashSale{
		ID: "fs-" + uuid.NewString(), ProductID: productID, Price: 1000, LimitedQuantity: limit,
		Status: domain.FlashSaleActive, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.InTx(context.Background(), store.TxOptions{}, func(tx store.Tx) error {
		return tx.InsertFlashSale(context.Background(), fs)
	}))
	return fs.ID
}

func TestIntegration_IncrementFlashSaleSoldGuard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	fsID := seedFlashSale(t, s, seedProduct(t, s, 2000, 50), 3, now)

	increment := func(qty int) (domain.FlashSale, error) {
		var fs domain.FlashSale
		err := s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
			var err error
			fs, err = tx.IncrementFlashSaleSold(ctx, fsID, qty)
			return err
		})
		return fs, err
	}

	fs, err := increment(2)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.Sold)

	_, err = increment(2)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	fs, err = increment(1)
	require.NoError(t, err)
	assert.Equal(t, 3, fs.Sold)
	assert.Equal(t, domain.FlashSaleSoldOut, fs.Status)
}

func TestIntegration_ConcurrentIncrementsNeverOversell(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	fsID := seedFlashSale(t, s, seedProduct(t, s, 2000, 50), 5, now)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
				_, err := tx.IncrementFlashSaleSold(ctx, fsID, 1)
				return err
			})
			if err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	var fs domain.FlashSale
	require.NoError(t, s.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		var err error
		fs, err = tx.GetFlashSale(ctx, fsID)
		return err
	}))
	assert.Equal(t, 5, fs.Sold)
}

func TestIntegration_UpsertFlashSaleReservationInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	productID := seedProduct(t, s, 2000, 50)
	fsID := seedFlashSale(t, s, productID, 10, now)

	hold := func(qty int, at time.Time) domain.Reservation {
		var r domain.Reservation
		require.NoError(t, s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
			var err error
			r, err = tx.UpsertFlashSaleReservation(ctx, domain.Reservation{
				ID: uuid.NewString(), UserID: "u1", Type: domain.ReservationFlashSale, FlashSaleID: fsID,
				ProductID: productID, Quantity: qty, Status: domain.ReservationActive,
				ExpiresAt: at.Add(15 * time.Minute), CreatedAt: at, UpdatedAt: at,
			})
			return err
		}))
		return r
	}

	first := hold(2, now)
	second := hold(4, now.Add(time.Minute))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 4, second.Quantity)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	var held int
	require.NoError(t, s.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		var err error
		held, err = tx.HeldQuantity(ctx, fsID, now, "")
		return err
	}))
	assert.Equal(t, 4, held)
}

func TestIntegration_ApplyBidGuard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a := domain.Auction{
		ID: "a-" + uuid.NewString(), ProductID: seedProduct(t, s, 90000, 1), MinBid: 100,
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), Status: domain.AuctionActive,
		CreatedAt: now,
	}
	require.NoError(t, s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		return tx.InsertAuction(ctx, a)
	}))

	apply := func(amount int64, at time.Time) (domain.Auction, error) {
		var got domain.Auction
		err := s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
			var err error
			got, err = tx.ApplyBid(ctx, a.ID, amount, false, at)
			return err
		})
		return got, err
	}

	_, err := apply(100, now)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	got, err := apply(150, now)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Highest())
	assert.Equal(t, 1, got.BidCount)

	_, err = apply(150, now)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	_, err = apply(500, now.Add(2*time.Hour))
	require.ErrorIs(t, err, domain.ErrEnded)
}

func TestIntegration_OneActiveAuctionHold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	productID := seedProduct(t, s, 90000, 1)
	a := domain.Auction{
		ID: "a-" + uuid.NewString(), ProductID: productID, MinBid: 100,
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), Status: domain.AuctionActive,
		CreatedAt: now,
	}
	require.NoError(t, s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		return tx.InsertAuction(ctx, a)
	}))
	insert := func(user string) error {
		return s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
			return tx.InsertReservation(ctx, domain.Reservation{
				ID: uuid.NewString(), UserID: user, Type: domain.ReservationAuction, AuctionID: a.ID,
				ProductID: productID, Quantity: 1, Status: domain.ReservationActive,
				ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
			})
		})
	}

	require.NoError(t, insert("u1"))
	require.ErrorIs(t, insert("u2"), domain.ErrConflict)

	var n int64
	require.NoError(t, s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		var err error
		n, err = tx.CancelAuctionReservations(ctx, a.ID, now)
		return err
	}))
	assert.Equal(t, int64(1), n)
	require.NoError(t, insert("u2"))
}

func TestIntegration_PurchasedQuantitySkipsClosedOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	productID := seedProduct(t, s, 2000, 50)
	fsID := seedFlashSale(t, s, productID, 10, now)
	user := "u-" + uuid.NewString()

	addr := domain.Address{ID: uuid.NewString(), UserID: user, Recipient: "Ana", Phone: "0812",
		Street: "Jl. Merdeka 1", CityID: "c1", PostalCode: "10110", CreatedAt: now}
	order := func(status domain.OrderStatus, qty int) {
		o := domain.Order{ID: uuid.NewString(), UserID: user, AddressID: addr.ID, Status: status,
			Subtotal: 1000, TotalAmount: 1000, ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now}
		require.NoError(t, s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			return tx.InsertOrderItem(ctx, domain.OrderItem{ID: uuid.NewString(), OrderID: o.ID,
				ProductID: productID, FlashSaleID: fsID, Quantity: qty, Price: 1000})
		}))
	}
	require.NoError(t, s.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		return tx.InsertAddress(ctx, addr)
	}))

	order(domain.OrderPending, 2)
	order(domain.OrderPaid, 1)
	order(domain.OrderCancelled, 5)

	var n int
	require.NoError(t, s.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		var err error
		n, err = tx.PurchasedQuantity(ctx, user, fsID)
		return err
	}))
	assert.Equal(t, 3, n)
}
