package enums

// PaymentAction identifies the gateway operation recorded in a payment log row.
type PaymentAction string

const (
	PaymentActionInitiate PaymentAction = "initiate"
	PaymentActionPreauth  PaymentAction = "preauth"
	PaymentActionCapture  PaymentAction = "capture"
	PaymentActionRefund   PaymentAction = "refund"
	PaymentActionVoid     PaymentAction = "void"
	PaymentActionCallback PaymentAction = "callback"
)

// PaymentLogStatus is the outcome recorded for a single payment action.
type PaymentLogStatus string

const (
	PaymentLogStatusPending   PaymentLogStatus = "pending"
	PaymentLogStatusSuccess   PaymentLogStatus = "success"
	PaymentLogStatusFailed    PaymentLogStatus = "failed"
	PaymentLogStatusCancelled PaymentLogStatus = "cancelled"
)
