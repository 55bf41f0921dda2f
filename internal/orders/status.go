package orders

type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	// COD: tagihan ditarik kurir, bukan gateway
	PaymentPendingCollection PaymentStatus = "pending_collection"
	PaymentFailed            PaymentStatus = "failed"
	// Uang ter-capture tapi stok sudah tidak ter-reserve -> rekonsiliasi manual
	PaymentNeedsReview PaymentStatus = "needs_review"
	PaymentRefunded    PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodPrepaid PaymentMethod = "prepaid"
	MethodCOD     PaymentMethod = "cod"
)

type RefundReason string

const (
	RefundCancellation        RefundReason = "cancellation"
	RefundPartialCancellation RefundReason = "partial_cancellation"
	RefundRefusedDelivery     RefundReason = "refused_delivery"
)

type RefundStatus string

const (
	RefundRequested RefundStatus = "requested"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:         {StatusAwaitingPayment: true, StatusProcessing: true, StatusCancelled: true},
	StatusAwaitingPayment: {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:      {StatusShipped: true, StatusCancelled: true},
	StatusShipped:         {StatusDelivered: true},
	StatusDelivered:       {},
	StatusCancelled:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
