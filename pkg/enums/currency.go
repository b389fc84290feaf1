package enums

// Currency is the ISO 4217 currency code carried on money rows.
type Currency string

// CurrencyXOF is the West African CFA franc. XOF has no minor unit, so all
// amounts in the system are whole francs.
const CurrencyXOF Currency = "XOF"
