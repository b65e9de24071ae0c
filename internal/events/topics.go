package events

const (
	TopicOrderSettled        = "storefront.order.settled"
	TopicOrderCancelled      = "storefront.order.cancelled"
	TopicOrderPaid           = "storefront.order.paid"
	TopicOrdersExpired       = "storefront.order.expired"
	TopicBidPlaced           = "storefront.auction.bid"
	TopicAuctionSold         = "storefront.auction.sold"
	TopicReservationsExpired = "storefront.reservation.expired"

	TopicPaymentAuthorized = "order.payment.authorized"
	TopicPaymentFailed     = "order.payment.failed"
)

var topicByType = map[string]string{
	EventOrderSettled:        TopicOrderSettled,
	EventOrderCancelled:      TopicOrderCancelled,
	EventOrderPaid:           TopicOrderPaid,
	EventOrdersExpired:       TopicOrdersExpired,
	EventBidPlaced:           TopicBidPlaced,
	EventAuctionSold:         TopicAuctionSold,
	EventReservationsExpired: TopicReservationsExpired,
	EventPaymentAuthorized:   TopicPaymentAuthorized,
	EventPaymentFailed:       TopicPaymentFailed,
}

// TopicFor routes an event type to its topic; unknown types return "".
func TopicFor(eventType string) string { return topicByType[eventType] }

// Partition key = correlation id, so every event of one order or auction
// keeps its order.
func PartitionKey(env Envelope) []byte { return []byte(env.CorrelationID) }
