package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/cafe-order-system/internal/model"
)

// SMSClient инкапсулирует HTTP-взаимодействие с внешним SMS-шлюзом.
type SMSClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// NewSMSClient создаёт клиент SMS-шлюза по указанному адресу.
func NewSMSClient(baseURL string) *SMSClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil

	return &SMSClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Send отправляет SMS о смене статуса заказа на указанный номер.
func (c *SMSClient) Send(ctx context.Context, phone string, orderID int64, status model.OrderStatus) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("sms client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(smsRequest{
		To:      phone,
		Message: messageText(orderID, status),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

// messageText возвращает текст SMS для статуса заказа.
// Для неизвестного статуса используется общий шаблон.
func messageText(orderID int64, status model.OrderStatus) string {
	switch status {
	case model.OrderStatusPending:
		return fmt.Sprintf("Order #%d accepted and waiting to be prepared.", orderID)
	case model.OrderStatusPreparing:
		return fmt.Sprintf("Order #%d is being prepared.", orderID)
	case model.OrderStatusReady:
		return fmt.Sprintf("Order #%d is ready for pickup. Enjoy!", orderID)
	case model.OrderStatusCancelled:
		return fmt.Sprintf("Order #%d has been cancelled.", orderID)
	default:
		return fmt.Sprintf("Order #%d status changed to %s.", orderID, status)
	}
}
