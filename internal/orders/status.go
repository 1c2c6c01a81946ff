package orders

import "errors"

// ErrInvalidTransition reports a status write the transition table forbids,
// typically because a concurrent webhook delivery settled the order between
// the caller's read and its write.
var ErrInvalidTransition = errors.New("status transition not allowed")

// Status is the order lifecycle state. The source systems this storefront
// replaced used "completed" and "paid" (and "cancelled" vs "failed")
// interchangeably; here the order status is one canonical set and payment
// settlement lives in PaymentStatus.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing" // payment approved, fulfillment pending
	StatusCompleted  Status = "completed"  // fulfilled; never set by the reconciler
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusRefunded: true},
	StatusCompleted:  {StatusRefunded: true},
	StatusFailed:     {},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transition may leave s.
func Terminal(s Status) bool {
	return len(validNext[s]) == 0
}
