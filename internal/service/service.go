// Package service реализует бизнес-логику ядра заказов кафе.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"github.com/mmeshcher/cafe-order-system/internal/model"
	"github.com/mmeshcher/cafe-order-system/internal/pricing"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownStatus возвращается, если запрошенный статус не входит в перечисление.
	ErrUnknownStatus = errors.New("unknown order status")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateAccount(ctx context.Context, login string, passwordHash []byte, phone string) (int64, error)
	GetAccountByLogin(ctx context.Context, login string) (*model.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)
	ListMenuItems(ctx context.Context) ([]model.MenuItem, error)
	GetMenuItems(ctx context.Context, ids []int64) (map[int64]model.MenuItem, error)
	SettleOrder(ctx context.Context, order *model.Order) (*model.Order, *model.Account, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, target model.OrderStatus) (*model.Order, error)
	GetOrdersByAccount(ctx context.Context, accountID int64) ([]model.Order, error)
	GetAllOrders(ctx context.Context) ([]model.Order, error)
}

// Notifier рассылает уведомления о смене статуса заказа.
// Ошибки доставки обрабатываются внутри и не возвращаются.
type Notifier interface {
	NotifyStatusChange(ctx context.Context, accountID, orderID int64, status model.OrderStatus)
}

// Service содержит бизнес-логику ядра заказов.
type Service struct {
	repo     Repository
	notifier Notifier
	loyalty  pricing.Config
}

// NewService создаёт сервис с указанным репозиторием, рассыльщиком
// уведомлений и параметрами программы лояльности.
func NewService(repo Repository, notifier Notifier, loyalty pricing.Config) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		loyalty:  loyalty,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterAccount регистрирует новый аккаунт клиента.
func (s *Service) RegisterAccount(ctx context.Context, login, password, phone string) (int64, error) {
	hashed := hashPassword(login, password)
	return s.repo.CreateAccount(ctx, login, hashed, phone)
}

// AuthenticateAccount проверяет логин и пароль и возвращает аккаунт.
func (s *Service) AuthenticateAccount(ctx context.Context, login, password string) (*model.Account, error) {
	a, err := s.repo.GetAccountByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if !hmac.Equal(hashed, a.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return a, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetAccountByID возвращает аккаунт по идентификатору.
func (s *Service) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	return s.repo.GetAccountByID(ctx, id)
}

// GetMenu возвращает доступные позиции меню.
func (s *Service) GetMenu(ctx context.Context) ([]model.MenuItem, error) {
	return s.repo.ListMenuItems(ctx)
}

// CreateOrder рассчитывает корзину по снимку каталога и атомарно проводит
// расчёт: заказ сохраняется в статусе PENDING, кошелёк и бонусный счёт
// аккаунта обновляются одной транзакцией. Возвращает сохранённый заказ и
// аккаунт с обновлёнными балансами.
func (s *Service) CreateOrder(ctx context.Context, accountID int64, lines []pricing.CartLine, redeemPoints int64) (*model.Order, *model.Account, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.MenuItemID)
	}

	snapshot, err := s.repo.GetMenuItems(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	catalog := make(map[int64]pricing.CatalogItem, len(snapshot))
	for id, item := range snapshot {
		catalog[id] = pricing.CatalogItem{
			Name:         item.Name,
			PriceCents:   item.PriceCents,
			RewardPoints: item.RewardPoints,
			Available:    item.Available,
		}
	}

	quote, err := pricing.Price(lines, redeemPoints, catalog, s.loyalty)
	if err != nil {
		return nil, nil, err
	}

	orderLines := make([]model.OrderLine, 0, len(quote.Lines))
	for _, l := range quote.Lines {
		orderLines = append(orderLines, model.OrderLine{
			MenuItemID:     l.MenuItemID,
			Name:           l.Name,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}

	order := &model.Order{
		AccountID:      accountID,
		Lines:          orderLines,
		SubtotalCents:  quote.SubtotalCents,
		PointsRedeemed: quote.PointsRedeemed,
		PointsEarned:   quote.PointsEarned,
		TotalCents:     quote.TotalCents,
		Status:         model.OrderStatusPending,
	}

	return s.repo.SettleOrder(ctx, order)
}

// UpdateOrderStatus применяет смену статуса заказа и после успешной записи
// запускает рассылку уведомлений. Сбой рассылки не откатывает переход.
// При недопустимом переходе возвращается заказ с текущим статусом.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, target string) (*model.Order, error) {
	status, ok := model.ParseStatus(target)
	if !ok {
		return nil, ErrUnknownStatus
	}

	order, err := s.repo.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		return order, err
	}

	if s.notifier != nil {
		s.notifier.NotifyStatusChange(ctx, order.AccountID, order.ID, order.Status)
	}

	return order, nil
}

// GetOrders возвращает историю заказов аккаунта, новые первыми.
// С флагом all возвращаются заказы всех аккаунтов.
func (s *Service) GetOrders(ctx context.Context, accountID int64, all bool) ([]model.Order, error) {
	if all {
		return s.repo.GetAllOrders(ctx)
	}
	return s.repo.GetOrdersByAccount(ctx, accountID)
}

// GetBalance возвращает снимок кошелька и бонусного счёта аккаунта.
func (s *Service) GetBalance(ctx context.Context, accountID int64) (*model.Balance, error) {
	a, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Wallet: float64(a.WalletCents) / 100,
		Points: a.RewardPoints,
	}, nil
}
