package enums

// CancelStep names the compensating actions run when an order is cancelled.
// An order parked in the cancelling state records the first step that failed.
type CancelStep string

const (
	CancelStepReleaseStock   CancelStep = "release_stock"
	CancelStepRevertPayment  CancelStep = "revert_payment"
	CancelStepCancelDelivery CancelStep = "cancel_delivery"
)
