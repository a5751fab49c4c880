package zefood

// OrderStatus is the lifecycle state of an order as reported by the backend.
// The zero value is not a valid status; unknown strings coming off the wire
// are carried through untouched so a newer backend does not break the client.
type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusConfirmed      OrderStatus = "CONFIRMED"
	StatusPreparing      OrderStatus = "PREPARING"
	StatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	StatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

// Terminal reports whether the order has reached a final state and no longer
// needs a live tracking subscription.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// PaymentStatus is the settlement state of an order's payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Settled reports whether the payment reached a final outcome.
func (s PaymentStatus) Settled() bool {
	return s == PaymentPaid || s == PaymentFailed
}
