package orders

const (
	TopicOrderCreated    = "checkout.order.created"
	TopicOrderPaid       = "checkout.order.paid"
	TopicOrderCancelled  = "checkout.order.cancelled"
	TopicLockExpired     = "checkout.lock.expired"
	TopicRefundRequested = "checkout.refund.requested"
	TopicPaymentCaptured = "payment.captured"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
