package orders

const (
	TopicOrderPlaced     = "order.placed"
	TopicStockReserved   = "order.stock.reserved"
	TopicStockRejected   = "order.stock.rejected"
	TopicPaymentCaptured = "order.payment.captured"
	TopicPaymentFailed   = "order.payment.failed"
	TopicPaymentRefund   = "order.payment.refund"
	TopicOrderFulfilled  = "order.fulfilled"
	TopicOrderCancelled  = "order.cancelled"
)

var topicByEvent = map[string]string{
	EventOrderPlaced:            TopicOrderPlaced,
	EventStockReserved:          TopicStockReserved,
	EventStockRejected:          TopicStockRejected,
	EventPaymentCaptured:        TopicPaymentCaptured,
	EventPaymentFailed:          TopicPaymentFailed,
	EventPaymentRefundRequested: TopicPaymentRefund,
	EventOrderFulfilled:         TopicOrderFulfilled,
	EventOrderCancelled:         TopicOrderCancelled,
}

func TopicFor(eventType string) string { return topicByEvent[eventType] }
