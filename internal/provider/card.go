package provider

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Card данные карты для создания payment intent
type Card struct {
	Number   string
	ExpMonth string
	ExpYear  string
	CVC      string
}

// ParseExpiry разбирает срок действия MM/YY или MM/YYYY и возвращает месяц и год из двух цифр
func ParseExpiry(expiry string) (month, year string, err error) {
	m, y, ok := strings.Cut(strings.TrimSpace(expiry), "/")
	if !ok || len(m) != 2 || (len(y) != 2 && len(y) != 4) || !digits(m) || !digits(y) {
		return "", "", fmt.Errorf("expiry must be MM/YY or MM/YYYY")
	}
	if m < "01" || m > "12" {
		return "", "", fmt.Errorf("expiry month must be 01-12")
	}
	return m, y[len(y)-2:], nil
}

// MinorUnits переводит сумму в минимальные единицы валюты (центы)
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
