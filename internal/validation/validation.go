// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"strings"
)

// Error описывает ошибку валидации входных данных.
type Error string

func (e Error) Error() string {
	return string(e)
}

// Errorf создаёт ошибку валидации с форматированием.
func Errorf(format string, args ...any) Error {
	return Error(fmt.Sprintf(format, args...))
}

// LineInput описывает одну запрошенную позицию заказа.
type LineInput struct {
	ProductID int64
	Quantity  int32
}

// ValidateLines проверяет список позиций заказа: непустой, количество
// не меньше единицы, товары не повторяются.
func ValidateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return Error("order must contain at least one line")
	}

	seen := make(map[int64]struct{}, len(lines))
	for i, l := range lines {
		if l.ProductID <= 0 {
			return Errorf("line %d: invalid product id %d", i+1, l.ProductID)
		}
		if l.Quantity < 1 {
			return Errorf("line %d: quantity must be at least 1, got %d", i+1, l.Quantity)
		}
		if _, ok := seen[l.ProductID]; ok {
			return Errorf("line %d: duplicate product id %d", i+1, l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}

	return nil
}

// ValidateCredentials проверяет логин и пароль при регистрации.
func ValidateCredentials(login, password string) error {
	if strings.TrimSpace(login) == "" {
		return Error("login must not be empty")
	}
	if len(password) < 6 {
		return Error("password must be at least 6 characters")
	}
	return nil
}

// ValidateProduct проверяет атрибуты товара каталога.
func ValidateProduct(name string, priceCents int64, stock int32) error {
	if strings.TrimSpace(name) == "" {
		return Error("product name must not be empty")
	}
	if priceCents < 0 {
		return Errorf("product price must not be negative, got %d", priceCents)
	}
	if stock < 0 {
		return Errorf("product stock must not be negative, got %d", stock)
	}
	return nil
}

// ValidateCustomer проверяет атрибуты покупателя.
func ValidateCustomer(name, email string) error {
	if strings.TrimSpace(name) == "" {
		return Error("customer name must not be empty")
	}
	if !strings.Contains(email, "@") {
		return Errorf("invalid customer email %q", email)
	}
	return nil
}
