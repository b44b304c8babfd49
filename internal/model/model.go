// Package model содержит доменные сущности ядра заказов кафе.
package model

import "time"

// MenuCategory описывает категорию позиции меню.
type MenuCategory string

const (
	CategoryBeverages MenuCategory = "BEVERAGES"
	CategorySnacks    MenuCategory = "SNACKS"
	CategoryDesserts  MenuCategory = "DESSERTS"
)

// MenuItem представляет позицию меню. Со стороны ядра заказов она доступна
// только для чтения, каталогом управляет внешняя административная часть.
type MenuItem struct {
	ID           int64
	Name         string
	PriceCents   int64
	Category     MenuCategory
	RewardPoints int64
	Available    bool
}

// Account представляет аккаунт клиента: кошелёк и бонусный счёт.
// Оба баланса не могут уходить в минус и изменяются только расчётом заказа.
type Account struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Phone        string
	WalletCents  int64
	RewardPoints int64
	IsStaff      bool
	CreatedAt    time.Time
}

// OrderLine описывает строку заказа. Цена фиксируется в момент оформления
// и не пересчитывается при изменении каталога.
type OrderLine struct {
	MenuItemID     int64
	Name           string // актуальное имя позиции, подставляется при чтении
	Quantity       int64
	UnitPriceCents int64
}

// Order описывает заказ. После создания меняется только статус.
type Order struct {
	ID             int64
	AccountID      int64
	Lines          []OrderLine
	SubtotalCents  int64
	PointsRedeemed int64
	PointsEarned   int64
	TotalCents     int64
	Status         OrderStatus
	CreatedAt      time.Time
}

// Balance содержит снимок кошелька и бонусного счёта пользователя.
type Balance struct {
	Wallet float64 `json:"wallet"`
	Points int64   `json:"points"`
}
