package model

import "strings"

// OrderStatus описывает стадию жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:   {OrderStatusPreparing: true, OrderStatusCancelled: true},
	OrderStatusPreparing: {OrderStatusReady: true, OrderStatusCancelled: true},
	OrderStatusReady:     {},
	OrderStatusCancelled: {},
}

// CanTransition сообщает, допустим ли переход заказа из статуса from в to.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// ParseStatus разбирает статус из строки без учёта регистра.
// Значение "completed" принимается как синоним READY.
func ParseStatus(s string) (OrderStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return OrderStatusPending, true
	case "PREPARING":
		return OrderStatusPreparing, true
	case "READY", "COMPLETED":
		return OrderStatusReady, true
	case "CANCELLED":
		return OrderStatusCancelled, true
	}
	return "", false
}
