package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are whole currency units.

type Product struct {
	ID        string
	Name      string
	Price     int64
	Quantity  int
	Weight    int // grams
	CreatedAt time.Time
	UpdatedAt time.Time
}

type FlashSale struct {
	ID               string
	ProductID        string
	Price            int64
	StartDate        time.Time
	EndDate          time.Time
	LimitedQuantity  int
	Sold             int
	MaxOrderQuantity *int // per-user cap, nil = unlimited
	Status           FlashSaleStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// InWindow reports whether now falls inside [StartDate, EndDate).
func (f FlashSale) InWindow(now time.Time) bool {
	return !now.Before(f.StartDate) && now.Before(f.EndDate)
}

type Auction struct {
	ID         string
	ProductID  string
	MinBid     int64
	MaxBid     *int64 // buy-now price
	CurrentBid *int64
	BidCount   int
	StartDate  time.Time
	EndDate    time.Time
	Status     AuctionStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Highest is the amount a new bid has to beat.
func (a Auction) Highest() int64 {
	if a.CurrentBid != nil {
		return *a.CurrentBid
	}
	return a.MinBid
}

type Bid struct {
	ID        string
	AuctionID string
	UserID    string
	Amount    int64
	CreatedAt time.Time
}

type Reservation struct {
	ID          string
	UserID      string
	Type        ReservationType
	FlashSaleID string
	AuctionID   string
	ProductID   string
	Quantity    int
	Status      ReservationStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Live reports whether the reservation still holds stock at now.
func (r Reservation) Live(now time.Time) bool {
	return r.Status == ReservationActive && now.Before(r.ExpiresAt)
}

type Address struct {
	ID         string
	UserID     string
	Recipient  string
	Phone      string
	Street     string
	ProvinceID string
	CityID     string
	DistrictID string
	PostalCode string
	CreatedAt  time.Time
}

type Order struct {
	ID           string
	ExternalID   string
	UserID       string
	AddressID    string
	Status       OrderStatus
	Subtotal     int64
	ShippingCost int64
	Discount     int64
	TotalAmount  int64
	VoucherID    string
	PaymentRef   string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Items        []OrderItem
}

// OrderItem freezes the unit price at order time.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	FlashSaleID string
	AuctionID   string
	Quantity    int
	Price       int64
}

type Voucher struct {
	ID            string
	Code          string
	Type          VoucherType
	Value         decimal.Decimal // percent for PERCENTAGE, amount for FIXED_AMOUNT
	MaxDiscount   *int64
	MinPurchase   int64
	StartDate     time.Time
	EndDate       time.Time
	IsActive      bool
	UsageLimit    *int
	UsagePerUser  *int
	FlashSaleOnly bool
	AuctionOnly   bool
	RegularOnly   bool
}

type VoucherUsage struct {
	ID        string
	VoucherID string
	UserID    string
	OrderID   string
	Discount  int64
	CreatedAt time.Time
}
