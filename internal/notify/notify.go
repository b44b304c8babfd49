// Package notify реализует рассылку событий об изменении статуса заказа:
// realtime-событие в канал аккаунта и SMS через внешний шлюз.
// Доставка best-effort: сбой рассылки логируется и не влияет на сам переход.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/cafe-order-system/internal/model"
)

// Event — событие смены статуса заказа, публикуемое в realtime-канал.
type Event struct {
	EventID   string `json:"event_id"`
	OrderID   int64  `json:"order_id"`
	AccountID int64  `json:"account_id"`
	Status    string `json:"status"`
}

// channel order-status-updates:{account_id}: события адресуются конкретному
// аккаунту и не читаются чужими подписчиками.
const channelOrderStatus = "order-status-updates:%d"

// StatusChannel возвращает имя realtime-канала для аккаунта.
func StatusChannel(accountID int64) string {
	return fmt.Sprintf(channelOrderStatus, accountID)
}

// Publisher публикует событие в realtime-канал аккаунта.
type Publisher interface {
	Publish(ctx context.Context, accountID int64, payload []byte) error
}

// RedisPublisher публикует события через Redis pub/sub.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher создаёт издателя поверх Redis по указанному адресу.
func NewRedisPublisher(addr string) *RedisPublisher {
	return &RedisPublisher{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Publish отправляет событие в канал аккаунта. Доставка at-most-once:
// отключённый подписчик просто пропустит событие.
func (p *RedisPublisher) Publish(ctx context.Context, accountID int64, payload []byte) error {
	return p.rdb.Publish(ctx, StatusChannel(accountID), payload).Err()
}

// Close закрывает соединение с Redis.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// AccountStore отдаёт контактные данные аккаунта.
type AccountStore interface {
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)
}

// Fanout рассылает уведомления о смене статуса заказа.
type Fanout struct {
	accounts  AccountStore
	publisher Publisher
	sms       *SMSClient
	logger    *zap.Logger
}

// NewFanout создаёт рассыльщик уведомлений. publisher и sms могут быть nil —
// соответствующий канал тогда пропускается.
func NewFanout(accounts AccountStore, publisher Publisher, sms *SMSClient, logger *zap.Logger) *Fanout {
	return &Fanout{
		accounts:  accounts,
		publisher: publisher,
		sms:       sms,
		logger:    logger,
	}
}

// NotifyStatusChange публикует realtime-событие и при наличии телефона
// отправляет SMS. Ошибки каналов доставки логируются и не возвращаются:
// актуальный статус заказа всегда доступен через хранилище заказов.
func (f *Fanout) NotifyStatusChange(ctx context.Context, accountID, orderID int64, status model.OrderStatus) {
	ev := Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		AccountID: accountID,
		Status:    string(status),
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Warn("marshal status event", zap.Error(err), zap.Int64("orderID", orderID))
		return
	}

	if f.publisher != nil {
		if err := f.publisher.Publish(ctx, accountID, payload); err != nil {
			f.logger.Warn("publish status event", zap.Error(err), zap.Int64("orderID", orderID))
		}
	}

	if f.sms == nil {
		return
	}

	account, err := f.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		f.logger.Warn("lookup account for sms", zap.Error(err), zap.Int64("orderID", orderID))
		return
	}
	if account.Phone == "" {
		return
	}

	// fire-and-forget: отправка не задерживает и не отменяет сам переход
	phone := account.Phone
	go func() {
		smsCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := f.sms.Send(smsCtx, phone, orderID, status); err != nil {
			f.logger.Warn("send sms", zap.Error(err), zap.Int64("orderID", orderID))
		}
	}()
}
