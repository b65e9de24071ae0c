package domain

type FlashSaleStatus string

const (
	FlashSaleUpcoming FlashSaleStatus = "upcoming"
	FlashSaleActive   FlashSaleStatus = "active"
	FlashSaleEnded    FlashSaleStatus = "ended"
	FlashSaleSoldOut  FlashSaleStatus = "sold-out"
)

type AuctionStatus string

const (
	AuctionUpcoming AuctionStatus = "upcoming"
	AuctionActive   AuctionStatus = "active"
	AuctionEnded    AuctionStatus = "ended"
	AuctionSold     AuctionStatus = "sold"
)

type ReservationType string

const (
	ReservationFlashSale ReservationType = "flashsale"
	ReservationAuction   ReservationType = "auction"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Every reservation state other than active is terminal.
func (s ReservationStatus) Terminal() bool { return s != ReservationActive }

type OrderStatus string

const (
	OrderPending    OrderStatus = "Pending"
	OrderPaid       OrderStatus = "Paid"
	OrderProcessing OrderStatus = "Processing"
	OrderShipped    OrderStatus = "Shipped"
	OrderDelivered  OrderStatus = "Delivered"
	OrderCancelled  OrderStatus = "Cancelled"
	OrderExpired    OrderStatus = "Expired"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPending:    {OrderPaid: true, OrderCancelled: true, OrderExpired: true},
	OrderPaid:       {OrderProcessing: true, OrderCancelled: true},
	OrderProcessing: {OrderShipped: true},
	OrderShipped:    {OrderDelivered: true},
	OrderDelivered:  {},
	OrderCancelled:  {},
	OrderExpired:    {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Predecessors lists the statuses an order may move to "to" from.
func Predecessors(to OrderStatus) []OrderStatus {
	var out []OrderStatus
	for _, from := range orderStatuses {
		if validNext[from][to] {
			out = append(out, from)
		}
	}
	return out
}

var orderStatuses = []OrderStatus{
	OrderPending, OrderPaid, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderExpired,
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range orderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// RestoresStock reports whether entering s gives the order's units back to the ledger.
func (s OrderStatus) RestoresStock() bool {
	return s == OrderCancelled || s == OrderExpired
}

type VoucherType string

const (
	VoucherPercentage   VoucherType = "PERCENTAGE"
	VoucherFixedAmount  VoucherType = "FIXED_AMOUNT"
	VoucherFreeShipping VoucherType = "FREE_SHIPPING"
)
