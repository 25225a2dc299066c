package templates

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ToJSON encodes a value to string
func ToJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// FormatPrice formats an amount with 2 decimal places and the ruble sign
func FormatPrice(price decimal.Decimal) string {
	return price.StringFixed(2) + " ₽"
}
