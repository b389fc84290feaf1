package enums

// PaymentMethod is how the buyer pays for an order.
type PaymentMethod string

const (
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
	PaymentMethodCash        PaymentMethod = "cash"
)

// RequiresGateway reports whether the method is settled through the payment gateway.
func (m PaymentMethod) RequiresGateway() bool {
	return m == PaymentMethodCard || m == PaymentMethodMobileMoney
}
