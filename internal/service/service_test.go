package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mmeshcher/cafe-order-system/internal/model"
	"github.com/mmeshcher/cafe-order-system/internal/pricing"
	"github.com/mmeshcher/cafe-order-system/internal/repository"
)

var testLoyalty = pricing.Config{
	PointValueCents: 50,
	EarnRatePercent: 10,
	MaxRedeemPoints: 100,
}

type stubRepo struct {
	account    *model.Account
	accountErr error

	menuItems map[int64]model.MenuItem

	settledOrder   *model.Order
	settleAccount  *model.Account
	settleErr      error
	settleReceived *model.Order

	updatedOrder *model.Order
	updateErr    error

	orders    []model.Order
	allOrders []model.Order
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateAccount(ctx context.Context, login string, passwordHash []byte, phone string) (int64, error) {
	return 1, nil
}

func (s *stubRepo) GetAccountByLogin(ctx context.Context, login string) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubRepo) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubRepo) ListMenuItems(ctx context.Context) ([]model.MenuItem, error) {
	return nil, nil
}

func (s *stubRepo) GetMenuItems(ctx context.Context, ids []int64) (map[int64]model.MenuItem, error) {
	return s.menuItems, nil
}

func (s *stubRepo) SettleOrder(ctx context.Context, order *model.Order) (*model.Order, *model.Account, error) {
	s.settleReceived = order
	if s.settleErr != nil {
		return nil, nil, s.settleErr
	}
	return s.settledOrder, s.settleAccount, nil
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, orderID int64, target model.OrderStatus) (*model.Order, error) {
	return s.updatedOrder, s.updateErr
}

func (s *stubRepo) GetOrdersByAccount(ctx context.Context, accountID int64) ([]model.Order, error) {
	return s.orders, nil
}

func (s *stubRepo) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.allOrders, nil
}

type stubNotifier struct {
	calls []notifyCall
}

type notifyCall struct {
	accountID int64
	orderID   int64
	status    model.OrderStatus
}

func (n *stubNotifier) NotifyStatusChange(ctx context.Context, accountID, orderID int64, status model.OrderStatus) {
	n.calls = append(n.calls, notifyCall{accountID: accountID, orderID: orderID, status: status})
}

func testMenu() map[int64]model.MenuItem {
	return map[int64]model.MenuItem{
		1: {ID: 1, Name: "Espresso", PriceCents: 10000, Category: model.CategoryBeverages, Available: true},
		2: {ID: 2, Name: "Brownie", PriceCents: 5000, Category: model.CategoryDesserts, Available: true},
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestAuthenticateAccount_ValidCredentials(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		account: &model.Account{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
		},
	}

	svc := NewService(repo, nil, testLoyalty)

	a, err := svc.AuthenticateAccount(context.Background(), "user", "correct")
	if err != nil {
		t.Fatalf("AuthenticateAccount error: %v", err)
	}
	if a.ID != 1 {
		t.Fatalf("account id = %d, want 1", a.ID)
	}
}

func TestAuthenticateAccount_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		account: &model.Account{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
		},
	}

	svc := NewService(repo, nil, testLoyalty)

	_, err := svc.AuthenticateAccount(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateOrder_ComputesAndFreezesPrices(t *testing.T) {
	repo := &stubRepo{
		menuItems:     testMenu(),
		settledOrder:  &model.Order{ID: 7, Status: model.OrderStatusPending},
		settleAccount: &model.Account{ID: 1, WalletCents: 32500, RewardPoints: 27},
	}
	svc := NewService(repo, nil, testLoyalty)

	_, account, err := svc.CreateOrder(context.Background(), 1,
		[]pricing.CartLine{{MenuItemID: 1, Quantity: 2}}, 50)
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	got := repo.settleReceived
	if got == nil {
		t.Fatalf("SettleOrder was not called")
	}
	if got.SubtotalCents != 20000 {
		t.Fatalf("subtotal = %d, want 20000", got.SubtotalCents)
	}
	if got.TotalCents != 17500 {
		t.Fatalf("total = %d, want 17500", got.TotalCents)
	}
	if got.PointsRedeemed != 50 || got.PointsEarned != 17 {
		t.Fatalf("points redeemed/earned = %d/%d, want 50/17", got.PointsRedeemed, got.PointsEarned)
	}
	if got.Status != model.OrderStatusPending {
		t.Fatalf("status = %s, want %s", got.Status, model.OrderStatusPending)
	}
	if len(got.Lines) != 1 || got.Lines[0].UnitPriceCents != 10000 || got.Lines[0].Name != "Espresso" {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
	if account.WalletCents != 32500 {
		t.Fatalf("wallet = %d, want 32500", account.WalletCents)
	}
}

func TestCreateOrder_UnknownItem(t *testing.T) {
	repo := &stubRepo{menuItems: testMenu()}
	svc := NewService(repo, nil, testLoyalty)

	_, _, err := svc.CreateOrder(context.Background(), 1,
		[]pricing.CartLine{{MenuItemID: 99, Quantity: 1}}, 0)
	if !errors.Is(err, pricing.ErrInvalidCart) {
		t.Fatalf("expected ErrInvalidCart, got %v", err)
	}
	if repo.settleReceived != nil {
		t.Fatalf("SettleOrder must not be called for invalid cart")
	}
}

func TestCreateOrder_PropagatesSettlementErrors(t *testing.T) {
	for _, want := range []error{
		repository.ErrAccountNotFound,
		repository.ErrInsufficientPoints,
		repository.ErrInsufficientFunds,
	} {
		repo := &stubRepo{menuItems: testMenu(), settleErr: want}
		svc := NewService(repo, nil, testLoyalty)

		_, _, err := svc.CreateOrder(context.Background(), 1,
			[]pricing.CartLine{{MenuItemID: 1, Quantity: 1}}, 0)
		if !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
	}
}

// accountingRepo проводит расчёты последовательно под мьютексом и ведёт
// точные балансы, как это делает строковая блокировка в PostgreSQL.
type accountingRepo struct {
	stubRepo

	mu        sync.Mutex
	wallet    int64
	points    int64
	lastOrder int64
	settled   int64
}

func (r *accountingRepo) SettleOrder(ctx context.Context, order *model.Order) (*model.Order, *model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.PointsRedeemed > r.points {
		return nil, nil, repository.ErrInsufficientPoints
	}
	if order.TotalCents > r.wallet {
		return nil, nil, repository.ErrInsufficientFunds
	}

	r.wallet -= order.TotalCents
	r.points = r.points - order.PointsRedeemed + order.PointsEarned
	r.lastOrder++
	r.settled++

	saved := *order
	saved.ID = r.lastOrder
	account := &model.Account{ID: order.AccountID, WalletCents: r.wallet, RewardPoints: r.points}
	return &saved, account, nil
}

func TestCreateOrder_ConcurrentSettlementAccounting(t *testing.T) {
	const orders = 20

	repo := &accountingRepo{
		stubRepo: stubRepo{menuItems: testMenu()},
		wallet:   1000000,
		points:   500,
	}
	svc := NewService(repo, nil, testLoyalty)

	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// subtotal 20000, redeem 10 -> total 19500, earned 19
			_, _, err := svc.CreateOrder(context.Background(), 1,
				[]pricing.CartLine{{MenuItemID: 1, Quantity: 2}}, 10)
			if err != nil {
				t.Errorf("CreateOrder error: %v", err)
			}
		}()
	}
	wg.Wait()

	if repo.settled != orders {
		t.Fatalf("settled orders = %d, want %d", repo.settled, orders)
	}
	if want := int64(1000000 - orders*19500); repo.wallet != want {
		t.Fatalf("wallet = %d, want %d", repo.wallet, want)
	}
	if want := int64(500 + orders*(19-10)); repo.points != want {
		t.Fatalf("points = %d, want %d", repo.points, want)
	}
}

func TestCreateOrder_ConcurrentSettlementStopsAtEmptyWallet(t *testing.T) {
	const attempts = 10

	// хватает ровно на три заказа по 10000
	repo := &accountingRepo{
		stubRepo: stubRepo{menuItems: testMenu()},
		wallet:   30000,
	}
	svc := NewService(repo, nil, testLoyalty)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.CreateOrder(context.Background(), 1,
				[]pricing.CartLine{{MenuItemID: 1, Quantity: 1}}, 0)
			if err == nil {
				return
			}
			if !errors.Is(err, repository.ErrInsufficientFunds) {
				t.Errorf("CreateOrder error: %v", err)
				return
			}
			mu.Lock()
			rejected++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if repo.settled != 3 {
		t.Fatalf("settled orders = %d, want 3", repo.settled)
	}
	if rejected != attempts-3 {
		t.Fatalf("rejected orders = %d, want %d", rejected, attempts-3)
	}
	if repo.wallet != 0 {
		t.Fatalf("wallet = %d, want 0", repo.wallet)
	}
}

func TestUpdateOrderStatus_NotifiesAfterCommit(t *testing.T) {
	repo := &stubRepo{
		updatedOrder: &model.Order{ID: 5, AccountID: 2, Status: model.OrderStatusPreparing},
	}
	notifier := &stubNotifier{}
	svc := NewService(repo, notifier, testLoyalty)

	order, err := svc.UpdateOrderStatus(context.Background(), 5, "preparing")
	if err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
	if order.Status != model.OrderStatusPreparing {
		t.Fatalf("status = %s, want %s", order.Status, model.OrderStatusPreparing)
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("notifier calls = %d, want 1", len(notifier.calls))
	}
	call := notifier.calls[0]
	if call.accountID != 2 || call.orderID != 5 || call.status != model.OrderStatusPreparing {
		t.Fatalf("unexpected notification: %+v", call)
	}
}

func TestUpdateOrderStatus_CompletedAliasesReady(t *testing.T) {
	repo := &stubRepo{
		updatedOrder: &model.Order{ID: 5, AccountID: 2, Status: model.OrderStatusReady},
	}
	notifier := &stubNotifier{}
	svc := NewService(repo, notifier, testLoyalty)

	order, err := svc.UpdateOrderStatus(context.Background(), 5, "completed")
	if err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
	if order.Status != model.OrderStatusReady {
		t.Fatalf("status = %s, want %s", order.Status, model.OrderStatusReady)
	}
}

func TestUpdateOrderStatus_UnknownStatus(t *testing.T) {
	repo := &stubRepo{}
	notifier := &stubNotifier{}
	svc := NewService(repo, notifier, testLoyalty)

	_, err := svc.UpdateOrderStatus(context.Background(), 5, "shipped")
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("notifier must not be called for unknown status")
	}
}

func TestUpdateOrderStatus_NoNotifyOnFailure(t *testing.T) {
	repo := &stubRepo{
		updatedOrder: &model.Order{ID: 5, Status: model.OrderStatusReady},
		updateErr:    repository.ErrInvalidTransition,
	}
	notifier := &stubNotifier{}
	svc := NewService(repo, notifier, testLoyalty)

	order, err := svc.UpdateOrderStatus(context.Background(), 5, "pending")
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if order == nil || order.Status != model.OrderStatusReady {
		t.Fatalf("current order status must be returned alongside the error, got %+v", order)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("notifier must not be called when the transition fails")
	}
}

func TestGetBalance_ConvertsToCurrency(t *testing.T) {
	repo := &stubRepo{
		account: &model.Account{ID: 1, WalletCents: 150, RewardPoints: 42},
	}
	svc := NewService(repo, nil, testLoyalty)

	balance, err := svc.GetBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if balance.Wallet != 1.5 {
		t.Fatalf("Wallet = %v, want 1.5", balance.Wallet)
	}
	if balance.Points != 42 {
		t.Fatalf("Points = %v, want 42", balance.Points)
	}
}

func TestGetOrders_AllFlag(t *testing.T) {
	repo := &stubRepo{
		orders:    []model.Order{{ID: 1}},
		allOrders: []model.Order{{ID: 1}, {ID: 2}},
	}
	svc := NewService(repo, nil, testLoyalty)

	own, err := svc.GetOrders(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("GetOrders error: %v", err)
	}
	if len(own) != 1 {
		t.Fatalf("own orders = %d, want 1", len(own))
	}

	all, err := svc.GetOrders(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("GetOrders(all) error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all orders = %d, want 2", len(all))
	}
}
