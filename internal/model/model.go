// Package model содержит доменные сущности магазина спортивных товаров.
package model

import "time"

// UserRole описывает роль сотрудника в системе.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleVendedor UserRole = "vendedor"
)

// IsValid сообщает, является ли значение известной ролью.
func (r UserRole) IsValid() bool {
	return r == RoleAdmin || r == RoleVendedor
}

// User представляет сотрудника магазина, оформляющего заказы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         UserRole
	CreatedAt    time.Time
}

// Customer представляет покупателя. Неактивный покупатель не может оформлять новые заказы.
type Customer struct {
	ID        int64
	Name      string
	Email     string
	Active    bool
	CreatedAt time.Time
}

// Product представляет товар каталога. Цена хранится в центах.
type Product struct {
	ID         int64
	Name       string
	PriceCents int64
	Stock      int32
	Active     bool
	CreatedAt  time.Time
}

// Price возвращает цену товара в денежных единицах.
func (p Product) Price() float64 {
	return float64(p.PriceCents) / 100
}

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsValid сообщает, является ли значение известным статусом заказа.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal сообщает, что заказ в этом статусе больше не изменяется.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition проверяет допустимость перехода заказа из статуса from в статус to.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderStatusPending:
		return to == OrderStatusConfirmed || to == OrderStatusCancelled
	case OrderStatusConfirmed:
		return to == OrderStatusShipped || to == OrderStatusCancelled
	case OrderStatusShipped:
		return to == OrderStatusDelivered
	}
	return false
}

// OrderLine описывает одну позицию заказа. Цена фиксируется на момент оформления.
type OrderLine struct {
	ID             int64
	OrderID        int64
	ProductID      int64
	ProductName    string
	Quantity       int32
	UnitPriceCents int64
	SubtotalCents  int64
}

// Subtotal возвращает стоимость позиции в денежных единицах.
func (l OrderLine) Subtotal() float64 {
	return float64(l.SubtotalCents) / 100
}

// Order описывает заказ покупателя вместе с позициями.
type Order struct {
	ID         int64
	Number     string
	CustomerID int64
	UserID     int64
	Status     OrderStatus
	TotalCents int64
	Notes      string
	CreatedAt  time.Time
	Lines      []OrderLine
}

// Total возвращает сумму заказа в денежных единицах.
func (o Order) Total() float64 {
	return float64(o.TotalCents) / 100
}

// OrderStats содержит агрегированную статистику по заказам.
type OrderStats struct {
	TotalOrders     int64
	RevenueCents    int64
	OrdersByStatus  map[string]int64
	TopProductID    int64
	TopProductName  string
	TopProductUnits int64
}
