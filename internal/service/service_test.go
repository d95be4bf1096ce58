package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"creditgate/internal/config"
	"creditgate/internal/infrastructure/payment"
	"creditgate/internal/model"
	"creditgate/internal/repository"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_service_test"

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{CreditEvents: "credit_events"},
		},
		Generation: config.GenerationConfig{
			Model:     "gpt-3.5-turbo",
			MaxTokens: 300,
			Timeout:   time.Second,
		},
		Payment: config.PaymentConfig{
			WebhookSecret: testWebhookSecret,
			Currency:      "eur",
			AmountCents:   500,
			ProductName:   "50 credits",
		},
		Business: config.BusinessConfig{
			PackageCredits:         50,
			CheckoutTimeoutMinutes: 60,
			MaxRetryCount:          5,
		},
	}
}

// fakeGateway 验签走真实的 Stripe 实现，创建会话由测试控制
type fakeGateway struct {
	*payment.StripeGateway
	create func(req payment.CheckoutRequest) (*payment.CheckoutSession, error)
}

func newFakeGateway(cfg *config.Config) *fakeGateway {
	return &fakeGateway{
		StripeGateway: payment.NewStripeGateway(&cfg.Payment, nil),
		create: func(req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
			return &payment.CheckoutSession{
				ID:  "cs_" + req.OrderNo,
				URL: "https://checkout.stripe.com/c/pay/cs_" + req.OrderNo,
			}, nil
		},
	}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	return g.create(req)
}

type checkoutEventFields struct {
	ID            string
	Type          string
	Identity      string
	OrderNo       string
	Email         string
	PaymentStatus string
}

// signedEvent 返回 Stripe 格式的事件 JSON 及其签名头
func signedEvent(t *testing.T, e checkoutEventFields) ([]byte, string) {
	t.Helper()
	if e.Type == "" {
		e.Type = payment.EventCheckoutCompleted
	}
	if e.PaymentStatus == "" {
		e.PaymentStatus = "paid"
	}
	metadata := "{}"
	if e.Identity != "" {
		metadata = fmt.Sprintf(`{"identity": %q}`, e.Identity)
	}
	payload := []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": %q,
  "data": {
    "object": {
      "id": "cs_test",
      "object": "checkout.session",
      "client_reference_id": %q,
      "customer_details": {"email": %q},
      "payment_status": %q,
      "metadata": %s
    }
  }
}`, e.ID, e.Type, e.OrderNo, e.Email, e.PaymentStatus, metadata))

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func seedCredits(t *testing.T, db *gorm.DB, identity string, credits int64, email string) {
	t.Helper()
	_, err := repository.NewAccountRepository(db).Credit(context.Background(), nil, identity, credits, email)
	require.NoError(t, err)
}

func balanceOf(t *testing.T, db *gorm.DB, identity string) int64 {
	t.Helper()
	credits, err := repository.NewAccountRepository(db).GetBalance(context.Background(), identity)
	require.NoError(t, err)
	return credits
}

func outboxMessages(t *testing.T, db *gorm.DB, eventType string) []model.OutboxMessage {
	t.Helper()
	var messages []model.OutboxMessage
	require.NoError(t, db.Where("event_type = ?", eventType).Order("id ASC").Find(&messages).Error)
	return messages
}
