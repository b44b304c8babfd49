// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/cafe-order-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountExists возвращается при попытке создать аккаунт с занятым логином.
var (
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound возвращается, если аккаунт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInsufficientFunds возвращается, если на кошельке не хватает средств на заказ.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientPoints возвращается при попытке списать больше баллов, чем есть на счёте.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrInvalidTransition возвращается при недопустимой смене статуса заказа.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации или дедлоке.
// Переподключениями занимается сам pgxpool.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateAccount создаёт новый аккаунт с нулевыми балансами.
func (r *PostgresRepository) CreateAccount(ctx context.Context, login string, passwordHash []byte, phone string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (login, password_hash, phone) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, phone,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrAccountExists, login)
		}
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// GetAccountByLogin возвращает аккаунт по логину.
func (r *PostgresRepository) GetAccountByLogin(ctx context.Context, login string) (*model.Account, error) {
	return r.getAccount(ctx,
		`SELECT id, login, password_hash, phone, wallet_cents, reward_points, is_staff, created_at
		 FROM accounts WHERE login = $1`, login)
}

// GetAccountByID возвращает аккаунт по идентификатору.
func (r *PostgresRepository) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	return r.getAccount(ctx,
		`SELECT id, login, password_hash, phone, wallet_cents, reward_points, is_staff, created_at
		 FROM accounts WHERE id = $1`, id)
}

func (r *PostgresRepository) getAccount(ctx context.Context, query string, arg any) (*model.Account, error) {
	var a model.Account
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Login, &a.PasswordHash, &a.Phone, &a.WalletCents, &a.RewardPoints, &a.IsStaff, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// ListMenuItems возвращает доступные позиции меню.
func (r *PostgresRepository) ListMenuItems(ctx context.Context) ([]model.MenuItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price_cents, category, reward_points, available
		 FROM menu_items
		 WHERE available
		 ORDER BY category, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select menu items: %w", err)
	}
	defer rows.Close()

	var items []model.MenuItem
	for rows.Next() {
		var m model.MenuItem
		if err := rows.Scan(&m.ID, &m.Name, &m.PriceCents, &m.Category, &m.RewardPoints, &m.Available); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items = append(items, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetMenuItems возвращает снимок каталога по списку идентификаторов.
// Отсутствующие позиции просто не попадают в результат.
func (r *PostgresRepository) GetMenuItems(ctx context.Context, ids []int64) (map[int64]model.MenuItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price_cents, category, reward_points, available
		 FROM menu_items
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select menu items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64]model.MenuItem, len(ids))
	for rows.Next() {
		var m model.MenuItem
		if err := rows.Scan(&m.ID, &m.Name, &m.PriceCents, &m.Category, &m.RewardPoints, &m.Available); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items[m.ID] = m
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// SettleOrder атомарно сохраняет заказ и применяет его к балансам аккаунта.
// Строка аккаунта блокируется FOR UPDATE, поэтому параллельные расчёты по
// одному аккаунту сериализуются, а проверки средств и баллов выполняются
// по актуальным значениям. Либо применяются обе записи, либо ни одной.
func (r *PostgresRepository) SettleOrder(ctx context.Context, order *model.Order) (*model.Order, *model.Account, error) {
	var (
		saved   model.Order
		account model.Account
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var walletCents, rewardPoints int64
		err = tx.QueryRow(ctx,
			`SELECT wallet_cents, reward_points FROM accounts WHERE id = $1 FOR UPDATE`,
			order.AccountID,
		).Scan(&walletCents, &rewardPoints)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account: %w", err)
		}

		if order.PointsRedeemed > rewardPoints {
			return ErrInsufficientPoints
		}
		if order.TotalCents > walletCents {
			return ErrInsufficientFunds
		}

		err = tx.QueryRow(ctx,
			`UPDATE accounts
			 SET wallet_cents = wallet_cents - $2,
			     reward_points = reward_points - $3 + $4
			 WHERE id = $1
			 RETURNING id, login, password_hash, phone, wallet_cents, reward_points, is_staff, created_at`,
			order.AccountID, order.TotalCents, order.PointsRedeemed, order.PointsEarned,
		).Scan(&account.ID, &account.Login, &account.PasswordHash, &account.Phone,
			&account.WalletCents, &account.RewardPoints, &account.IsStaff, &account.CreatedAt)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		saved = *order
		saved.Status = model.OrderStatusPending
		err = tx.QueryRow(ctx,
			`INSERT INTO orders (account_id, status, subtotal_cents, points_redeemed, points_earned, total_cents)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at`,
			order.AccountID, string(saved.Status), order.SubtotalCents,
			order.PointsRedeemed, order.PointsEarned, order.TotalCents,
		).Scan(&saved.ID, &saved.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, l := range order.Lines {
			_, err = tx.Exec(ctx,
				`INSERT INTO order_lines (order_id, menu_item_id, quantity, unit_price_cents)
				 VALUES ($1, $2, $3, $4)`,
				saved.ID, l.MenuItemID, l.Quantity, l.UnitPriceCents,
			)
			if err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	saved.Lines = order.Lines
	return &saved, &account, nil
}

// UpdateOrderStatus проверяет и применяет смену статуса заказа.
// Строка заказа блокируется FOR UPDATE, поэтому проверка допустимости
// перехода читает зафиксированное значение. При ErrInvalidTransition
// возвращается заказ с текущим статусом, чтобы вызывающая сторона могла
// синхронизировать своё представление.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, target model.OrderStatus) (*model.Order, error) {
	var o model.Order

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var status string
		err = tx.QueryRow(ctx,
			`SELECT id, account_id, status, subtotal_cents, points_redeemed, points_earned, total_cents, created_at
			 FROM orders WHERE id = $1 FOR UPDATE`,
			orderID,
		).Scan(&o.ID, &o.AccountID, &status, &o.SubtotalCents, &o.PointsRedeemed, &o.PointsEarned, &o.TotalCents, &o.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		o.Status = model.OrderStatus(status)

		if !model.CanTransition(o.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2 WHERE id = $1`,
			orderID, string(target),
		); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		o.Status = target
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return &o, err
		}
		return nil, err
	}

	lines, err := r.getOrderLines(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]

	return &o, nil
}

// GetOrdersByAccount возвращает заказы аккаунта, новые первыми.
func (r *PostgresRepository) GetOrdersByAccount(ctx context.Context, accountID int64) ([]model.Order, error) {
	return r.selectOrders(ctx,
		`SELECT id, account_id, status, subtotal_cents, points_redeemed, points_earned, total_cents, created_at
		 FROM orders
		 WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC`,
		accountID,
	)
}

// GetAllOrders возвращает заказы всех аккаунтов, новые первыми.
func (r *PostgresRepository) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	return r.selectOrders(ctx,
		`SELECT id, account_id, status, subtotal_cents, points_redeemed, points_earned, total_cents, created_at
		 FROM orders
		 ORDER BY created_at DESC, id DESC`,
	)
}

func (r *PostgresRepository) selectOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	var ids []int64
	for rows.Next() {
		var (
			o      model.Order
			status string
		)
		if err := rows.Scan(&o.ID, &o.AccountID, &status, &o.SubtotalCents,
			&o.PointsRedeemed, &o.PointsEarned, &o.TotalCents, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := r.getOrderLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}

	return orders, nil
}

// getOrderLines подставляет в строки актуальное имя позиции меню:
// имя разрешается в момент чтения, цена остаётся зафиксированной.
func (r *PostgresRepository) getOrderLines(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT l.order_id, l.menu_item_id, m.name, l.quantity, l.unit_price_cents
		 FROM order_lines l
		 JOIN menu_items m ON m.id = l.menu_item_id
		 WHERE l.order_id = ANY($1)
		 ORDER BY l.order_id, l.id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	res := make(map[int64][]model.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID int64
			l       model.OrderLine
		)
		if err := rows.Scan(&orderID, &l.MenuItemID, &l.Name, &l.Quantity, &l.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		res[orderID] = append(res[orderID], l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
