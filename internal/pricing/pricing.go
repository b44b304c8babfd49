// Package pricing реализует чистый расчёт стоимости корзины.
// Функция Price не выполняет ввод-вывод и детерминирована: одинаковые
// аргументы всегда дают одинаковый результат.
package pricing

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCart возвращается для пустой корзины, неположительного количества,
// позиции, отсутствующей либо недоступной в каталоге, или корзины, сумма
// которой не помещается в int64.
var (
	ErrInvalidCart = errors.New("invalid cart")
	// ErrInvalidRedemption возвращается для отрицательного числа баллов
	// или превышения лимита списания за один заказ.
	ErrInvalidRedemption = errors.New("invalid redemption")
)

// CartLine описывает строку корзины клиента.
type CartLine struct {
	MenuItemID int64
	Quantity   int64
}

// CatalogItem — снимок позиции каталога на момент расчёта.
type CatalogItem struct {
	Name         string
	PriceCents   int64
	RewardPoints int64
	Available    bool
}

// Config задаёт параметры программы лояльности.
type Config struct {
	PointValueCents int64 // скидка за один балл, в центах
	EarnRatePercent int64 // процент от итога, начисляемый баллами
	MaxRedeemPoints int64 // максимум баллов к списанию за один заказ, 0 — без лимита
}

// PricedLine — строка заказа с зафиксированной ценой.
type PricedLine struct {
	MenuItemID     int64
	Name           string
	Quantity       int64
	UnitPriceCents int64
}

// Quote — результат расчёта корзины.
type Quote struct {
	Lines          []PricedLine
	SubtotalCents  int64
	DiscountCents  int64
	TotalCents     int64
	PointsRedeemed int64
	PointsEarned   int64
}

// Price рассчитывает корзину по снимку каталога.
// Все суммы в центах; баллы начисляются как целая часть процента от итога.
func Price(lines []CartLine, redeemPoints int64, catalog map[int64]CatalogItem, cfg Config) (*Quote, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}
	if redeemPoints < 0 {
		return nil, fmt.Errorf("%w: redeem count must not be negative", ErrInvalidRedemption)
	}
	if cfg.MaxRedeemPoints > 0 && redeemPoints > cfg.MaxRedeemPoints {
		return nil, fmt.Errorf("%w: redeem count exceeds limit of %d points", ErrInvalidRedemption, cfg.MaxRedeemPoints)
	}

	priced := make([]PricedLine, 0, len(lines))
	var subtotal int64
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for item %d", ErrInvalidCart, l.MenuItemID)
		}
		item, ok := catalog[l.MenuItemID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown item %d", ErrInvalidCart, l.MenuItemID)
		}
		if !item.Available {
			return nil, fmt.Errorf("%w: item %d is unavailable", ErrInvalidCart, l.MenuItemID)
		}

		// qty*price и накопленный subtotal должны помещаться в int64
		if item.PriceCents > 0 && l.Quantity > math.MaxInt64/item.PriceCents {
			return nil, fmt.Errorf("%w: quantity for item %d is too large", ErrInvalidCart, l.MenuItemID)
		}
		lineTotal := l.Quantity * item.PriceCents
		if subtotal > math.MaxInt64-lineTotal {
			return nil, fmt.Errorf("%w: cart total is too large", ErrInvalidCart)
		}
		subtotal += lineTotal
		priced = append(priced, PricedLine{
			MenuItemID:     l.MenuItemID,
			Name:           item.Name,
			Quantity:       l.Quantity,
			UnitPriceCents: item.PriceCents,
		})
	}

	if cfg.PointValueCents > 0 && redeemPoints > math.MaxInt64/cfg.PointValueCents {
		return nil, fmt.Errorf("%w: redeem count is too large", ErrInvalidRedemption)
	}
	discount := redeemPoints * cfg.PointValueCents
	total := subtotal - discount
	if total < 0 {
		total = 0
	}

	// целочисленное деление даёт floor(total * rate)
	earned := total * cfg.EarnRatePercent / (100 * 100)

	return &Quote{
		Lines:          priced,
		SubtotalCents:  subtotal,
		DiscountCents:  discount,
		TotalCents:     total,
		PointsRedeemed: redeemPoints,
		PointsEarned:   earned,
	}, nil
}
