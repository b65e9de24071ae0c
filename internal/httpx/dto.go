package httpx

import (
	"time"

	"github.com/ariefcatur/go-storefront-engine/internal/auction"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/settlement"
)

type lineReq struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	FlashSaleID string `json:"flash_sale_id,omitempty"`
	AuctionID   string `json:"auction_id,omitempty"`
}

func toCart(userID string, lines []lineReq) domain.Cart {
	c := domain.Cart{UserID: userID, Lines: make([]domain.CartLine, len(lines))}
	for i, l := range lines {
		c.Lines[i] = domain.CartLine{
			ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice,
			FlashSaleID: l.FlashSaleID, AuctionID: l.AuctionID,
		}
	}
	return c
}

type addressReq struct {
	ID         string `json:"id,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street,omitempty"`
	ProvinceID string `json:"province_id,omitempty"`
	CityID     string `json:"city_id,omitempty"`
	DistrictID string `json:"district_id,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

func (a addressReq) input() settlement.AddressInput {
	return settlement.AddressInput{
		ID: a.ID, Recipient: a.Recipient, Phone: a.Phone, Street: a.Street,
		ProvinceID: a.ProvinceID, CityID: a.CityID, DistrictID: a.DistrictID, PostalCode: a.PostalCode,
	}
}

type settleReq struct {
	Items        []lineReq  `json:"items"`
	Address      addressReq `json:"address"`
	ShippingCost int64      `json:"shipping_cost"`
	VoucherCode  string     `json:"voucher_code,omitempty"`
}

type voucherPreviewReq struct {
	Code         string    `json:"code"`
	Items        []lineReq `json:"items"`
	ShippingCost int64     `json:"shipping_cost"`
}

type voucherPreviewResp struct {
	Code             string `json:"code"`
	Type             string `json:"type"`
	EligibleSubtotal int64  `json:"eligible_subtotal"`
	Discount         int64  `json:"discount"`
}

type reservationResp struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	FlashSaleID string    `json:"flash_sale_id,omitempty"`
	AuctionID   string    `json:"auction_id,omitempty"`
	ProductID   string    `json:"product_id"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toReservation(r domain.Reservation) reservationResp {
	return reservationResp{
		ID: r.ID, Type: string(r.Type), FlashSaleID: r.FlashSaleID, AuctionID: r.AuctionID,
		ProductID: r.ProductID, Quantity: r.Quantity, Status: string(r.Status), ExpiresAt: r.ExpiresAt,
	}
}

type flashSaleResp struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	Price            int64     `json:"price"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	LimitedQuantity  int       `json:"limited_quantity"`
	Sold             int       `json:"sold"`
	MaxOrderQuantity *int      `json:"max_order_quantity,omitempty"`
	Status           string    `json:"status"`
	Available        *int      `json:"available,omitempty"`
}

func toFlashSale(fs domain.FlashSale) flashSaleResp {
	return flashSaleResp{
		ID: fs.ID, ProductID: fs.ProductID, Price: fs.Price, StartDate: fs.StartDate, EndDate: fs.EndDate,
		LimitedQuantity: fs.LimitedQuantity, Sold: fs.Sold, MaxOrderQuantity: fs.MaxOrderQuantity,
		Status: string(fs.Status),
	}
}

type newFlashSaleReq struct {
	ProductID        string    `json:"product_id"`
	Price            int64     `json:"price"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	LimitedQuantity  int       `json:"limited_quantity"`
	MaxOrderQuantity *int      `json:"max_order_quantity,omitempty"`
}

type bidResp struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type auctionResp struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	MinBid     int64     `json:"min_bid"`
	MaxBid     *int64    `json:"max_bid,omitempty"`
	CurrentBid *int64    `json:"current_bid,omitempty"`
	BidCount   int       `json:"bid_count"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Status     string    `json:"status"`
	Bids       []bidResp `json:"bids,omitempty"`
}

func toAuction(a domain.Auction, bids []domain.Bid) auctionResp {
	out := auctionResp{
		ID: a.ID, ProductID: a.ProductID, MinBid: a.MinBid, MaxBid: a.MaxBid, CurrentBid: a.CurrentBid,
		BidCount: a.BidCount, StartDate: a.StartDate, EndDate: a.EndDate, Status: string(a.Status),
	}
	for _, b := range bids {
		out.Bids = append(out.Bids, bidResp{ID: b.ID, UserID: b.UserID, Amount: b.Amount, CreatedAt: b.CreatedAt})
	}
	return out
}

type newAuctionReq struct {
	ProductID string    `json:"product_id"`
	MinBid    int64     `json:"min_bid"`
	MaxBid    *int64    `json:"max_bid,omitempty"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

func (n newAuctionReq) input() auction.NewAuction {
	return auction.NewAuction{ProductID: n.ProductID, MinBid: n.MinBid, MaxBid: n.MaxBid, StartDate: n.StartDate, EndDate: n.EndDate}
}

type bidReq struct {
	Amount int64 `json:"amount"`
	BuyNow bool  `json:"buy_now"`
}

type placeBidResp struct {
	Bid       bidResp     `json:"bid"`
	Auction   auctionResp `json:"auction"`
	WasBuyNow bool        `json:"was_buy_now"`
}

type orderItemResp struct {
	ProductID   string `json:"product_id"`
	FlashSaleID string `json:"flash_sale_id,omitempty"`
	AuctionID   string `json:"auction_id,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

type orderResp struct {
	ID           string          `json:"id"`
	ExternalID   string          `json:"external_id,omitempty"`
	UserID       string          `json:"user_id"`
	AddressID    string          `json:"address_id"`
	Status       string          `json:"status"`
	Subtotal     int64           `json:"subtotal"`
	ShippingCost int64           `json:"shipping_cost"`
	Discount     int64           `json:"discount"`
	TotalAmount  int64           `json:"total_amount"`
	PaymentRef   string          `json:"payment_ref,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
	CreatedAt    time.Time       `json:"created_at"`
	Items        []orderItemResp `json:"items"`
}

func toOrder(o domain.Order) orderResp {
	out := orderResp{
		ID: o.ID, ExternalID: o.ExternalID, UserID: o.UserID, AddressID: o.AddressID, Status: string(o.Status),
		Subtotal: o.Subtotal, ShippingCost: o.ShippingCost, Discount: o.Discount, TotalAmount: o.TotalAmount,
		PaymentRef: o.PaymentRef, ExpiresAt: o.ExpiresAt, CreatedAt: o.CreatedAt,
		Items: make([]orderItemResp, len(o.Items)),
	}
	for i, it := range o.Items {
		out.Items[i] = orderItemResp{
			ProductID: it.ProductID, FlashSaleID: it.FlashSaleID, AuctionID: it.AuctionID,
			Quantity: it.Quantity, Price: it.Price,
		}
	}
	return out
}

type statusReq struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type cancelReq struct {
	Reason string `json:"reason,omitempty"`
}

type sweepResp struct {
	ReservationsExpired int64    `json:"reservations_expired"`
	OrdersExpired       []string `json:"orders_expired"`
}
