package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/cafe-order-system/internal/model"
)

type stubPublisher struct {
	accountID int64
	payload   []byte
	err       error
	calls     int
}

func (p *stubPublisher) Publish(ctx context.Context, accountID int64, payload []byte) error {
	p.calls++
	p.accountID = accountID
	p.payload = payload
	return p.err
}

type stubAccounts struct {
	account *model.Account
	err     error
}

func (s *stubAccounts) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	return s.account, s.err
}

func TestNotifyStatusChange_PublishesToAccountChannel(t *testing.T) {
	pub := &stubPublisher{}
	f := NewFanout(&stubAccounts{}, pub, nil, zap.NewNop())

	f.NotifyStatusChange(context.Background(), 42, 7, model.OrderStatusReady)

	if pub.calls != 1 {
		t.Fatalf("publish calls = %d, want 1", pub.calls)
	}
	if pub.accountID != 42 {
		t.Fatalf("accountID = %d, want 42", pub.accountID)
	}

	var ev Event
	if err := json.Unmarshal(pub.payload, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.OrderID != 7 || ev.AccountID != 42 || ev.Status != string(model.OrderStatusReady) {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.EventID == "" {
		t.Fatalf("event id must be set")
	}
}

func TestNotifyStatusChange_PublishErrorIsSwallowed(t *testing.T) {
	pub := &stubPublisher{err: errors.New("redis down")}
	f := NewFanout(&stubAccounts{}, pub, nil, zap.NewNop())

	// не должно паниковать и возвращать ошибку
	f.NotifyStatusChange(context.Background(), 1, 1, model.OrderStatusCancelled)

	if pub.calls != 1 {
		t.Fatalf("publish calls = %d, want 1", pub.calls)
	}
}

func TestNotifyStatusChange_NoPublisherNoSMS(t *testing.T) {
	f := NewFanout(&stubAccounts{}, nil, nil, zap.NewNop())

	f.NotifyStatusChange(context.Background(), 1, 1, model.OrderStatusPreparing)
}

func TestStatusChannel_PerAccount(t *testing.T) {
	a := StatusChannel(1)
	b := StatusChannel(2)

	if a == b {
		t.Fatalf("channels must differ per account, got %q for both", a)
	}
	if a != "order-status-updates:1" {
		t.Fatalf("channel = %q, want order-status-updates:1", a)
	}
}
