// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// IsValidSettlementID проверяет формат идентификатора расчёта провайдера.
// Допустимы идентификаторы платёжного интента (pi_...) и сессии
// оплаты (cs_...); хвост состоит из латинских букв и цифр.
func IsValidSettlementID(id string) bool {
	var rest string
	switch {
	case strings.HasPrefix(id, "pi_"):
		rest = id[len("pi_"):]
	case strings.HasPrefix(id, "cs_"):
		rest = id[len("cs_"):]
	default:
		return false
	}

	if rest == "" {
		return false
	}

	for _, ch := range rest {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '_':
			// Stripe использует подчёркивания в тестовых идентификаторах.
		default:
			return false
		}
	}

	return true
}
