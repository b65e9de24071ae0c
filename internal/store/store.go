// Package store declares the persistence contract shared by the ledger,
// reservation, auction, voucher and settlement components. Every mutation
// of a contended field is a conditional write: the predicate and the write
// are a single statement, so two callers racing on the same row cannot both
// succeed.
package store

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

type Isolation int

const (
	ReadCommitted Isolation = iota
	Serializable
)

type TxOptions struct {
	Isolation Isolation
	ReadOnly  bool
}

// Store runs fn inside one database transaction. A nil return commits, any
// error rolls back every write fn made and is returned unchanged.
type Store interface {
	InTx(ctx context.Context, opts TxOptions, fn func(tx Tx) error) error
}

type Tx interface {
	Products
	FlashSales
	Auctions
	Reservations
	Vouchers
	Orders
	Addresses
}

type Products interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	// DecrementProductQuantity fails with ErrInsufficientStock unless quantity >= qty.
	DecrementProductQuantity(ctx context.Context, id string, qty int) (domain.Product, error)
	IncrementProductQuantity(ctx context.Context, id string, qty int) (domain.Product, error)
}

type FlashSales interface {
	GetFlashSale(ctx context.Context, id string) (domain.FlashSale, error)
	// LockFlashSale reads the row and holds a write lock on it until the
	// transaction ends.
	LockFlashSale(ctx context.Context, id string) (domain.FlashSale, error)
	InsertFlashSale(ctx context.Context, fs domain.FlashSale) error
	// IncrementFlashSaleSold fails with ErrInsufficientStock unless
	// sold+qty <= limitedQuantity; reaching the limit flips status to sold-out.
	IncrementFlashSaleSold(ctx context.Context, id string, qty int) (domain.FlashSale, error)
	// DecrementFlashSaleSold fails with ErrInsufficientStock unless sold >= qty.
	// A sold-out sale that regains headroom inside its window is reactivated.
	DecrementFlashSaleSold(ctx context.Context, id string, qty int, now time.Time) (domain.FlashSale, error)
	RefreshFlashSaleStatuses(ctx context.Context, now time.Time) (int64, error)
}

type Auctions interface {
	GetAuction(ctx context.Context, id string) (domain.Auction, error)
	LockAuction(ctx context.Context, id string) (domain.Auction, error)
	InsertAuction(ctx context.Context, a domain.Auction) error
	DeleteAuction(ctx context.Context, id string) error
	// OpenAuctionForProduct returns the upcoming or active auction for a product.
	OpenAuctionForProduct(ctx context.Context, productID string) (domain.Auction, error)
	InsertBid(ctx context.Context, b domain.Bid) error
	// ApplyBid sets currentBid=amount and bumps bidCount only if the auction is
	// active, not past its end at now, and amount beats the current highest.
	// markSold additionally moves the auction to sold in the same write.
	ApplyBid(ctx context.Context, id string, amount int64, markSold bool, now time.Time) (domain.Auction, error)
	HighestBid(ctx context.Context, auctionID string) (domain.Bid, error)
	ListBids(ctx context.Context, auctionID string) ([]domain.Bid, error)
	// SellAuction moves an active or ended auction to sold at price.
	SellAuction(ctx context.Context, id string, price int64) (domain.Auction, error)
	RefreshAuctionStatuses(ctx context.Context, now time.Time) (int64, error)
}

type Reservations interface {
	GetReservation(ctx context.Context, id string) (domain.Reservation, error)
	// ActiveReservation returns the user's active row for a flash sale or auction.
	ActiveReservation(ctx context.Context, userID string, kind domain.ReservationType, targetID string) (domain.Reservation, error)
	ListActiveReservations(ctx context.Context, userID string, now time.Time) ([]domain.Reservation, error)
	// UpsertFlashSaleReservation inserts r or, when the user already holds an
	// active row for the same sale, replaces its quantity and expiry in place.
	UpsertFlashSaleReservation(ctx context.Context, r domain.Reservation) (domain.Reservation, error)
	InsertReservation(ctx context.Context, r domain.Reservation) error
	// HeldQuantity sums live holds on a flash sale, skipping excludeUserID.
	HeldQuantity(ctx context.Context, flashSaleID string, now time.Time, excludeUserID string) (int, error)
	// TransitionReservation moves an active row to a terminal status. It fails
	// with ErrConflict when the row is no longer active.
	TransitionReservation(ctx context.Context, id string, to domain.ReservationStatus, now time.Time) (domain.Reservation, error)
	CompleteFlashSaleReservation(ctx context.Context, userID, flashSaleID string, now time.Time) (bool, error)
	CancelAuctionReservations(ctx context.Context, auctionID string, now time.Time) (int64, error)
	// ExpireReservations flips every active row past its expiry and returns
	// the rows it flipped; it is one conditional batch update.
	ExpireReservations(ctx context.Context, now time.Time) ([]domain.Reservation, error)
}

type Vouchers interface {
	GetVoucherByCode(ctx context.Context, code string) (domain.Voucher, error)
	InsertVoucher(ctx context.Context, v domain.Voucher) error
	CountVoucherUsage(ctx context.Context, voucherID string) (int, error)
	CountVoucherUsageByUser(ctx context.Context, voucherID, userID string) (int, error)
	InsertVoucherUsage(ctx context.Context, u domain.VoucherUsage) error
}

type Orders interface {
	InsertOrder(ctx context.Context, o domain.Order) error
	InsertOrderItem(ctx context.Context, it domain.OrderItem) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	OrderByExternalID(ctx context.Context, externalID string) (domain.Order, error)
	// TransitionOrder moves the order from one of from to to. It fails with
	// ErrConflict when the order is in none of them.
	TransitionOrder(ctx context.Context, id string, from []domain.OrderStatus, to domain.OrderStatus, paymentRef string) (domain.Order, error)
	ExpiredUnpaidOrderIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	// PurchasedQuantity sums the units userID bought from a flash sale on
	// orders that are neither cancelled nor expired.
	PurchasedQuantity(ctx context.Context, userID, flashSaleID string) (int, error)
}

type Addresses interface {
	GetAddress(ctx context.Context, id string) (domain.Address, error)
	InsertAddress(ctx context.Context, a domain.Address) error
}
