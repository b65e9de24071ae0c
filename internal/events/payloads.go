package events

type OrderLine struct {
	ProductID   string `json:"product_id"`
	FlashSaleID string `json:"flash_sale_id,omitempty"`
	AuctionID   string `json:"auction_id,omitempty"`
	Qty         int    `json:"qty"`
	Price       int64  `json:"price"`
}

type OrderSettledPayload struct {
	OrderID     string      `json:"order_id"`
	ExternalID  string      `json:"external_id,omitempty"`
	UserID      string      `json:"user_id"`
	Items       []OrderLine `json:"items"`
	Discount    int64       `json:"discount"`
	TotalAmount int64       `json:"total_amount"`
	VoucherCode string      `json:"voucher_code,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // Cancelled or Expired
	Reason  string `json:"reason,omitempty"`
}

type OrderPaidPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

type OrdersExpiredPayload struct {
	OrderIDs []string `json:"order_ids"`
}

type BidPlacedPayload struct {
	AuctionID string `json:"auction_id"`
	BidID     string `json:"bid_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	BidCount  int    `json:"bid_count"`
	WasBuyNow bool   `json:"was_buy_now"`
}

type AuctionSoldPayload struct {
	AuctionID string `json:"auction_id"`
	ProductID string `json:"product_id"`
	Price     int64  `json:"price"`
	OrderID   string `json:"order_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type ReservationsExpiredPayload struct {
	Count int64 `json:"count"`
}

type PaymentAuthorizedPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
	Amount     int64  `json:"amount"`
}

type PaymentFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
