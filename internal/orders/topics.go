package orders

const (
	TopicOrderCreated      = "storefront.order.created"
	TopicPaymentAuthorized = "storefront.payment.authorized"
	TopicPaymentFailed     = "storefront.payment.failed"
	TopicOrderRefunded     = "storefront.order.refunded"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
