package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"creditgate/internal/config"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"

	metadataIdentity         = "identity"
	paymentStatusPaid        = "paid"
	paymentStatusNotRequired = "no_payment_required"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type CheckoutRequest struct {
	OrderNo  string
	Identity string
	Email    string
	Credits  int64
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Event 从 Stripe 事件中提取的入账所需字段
type Event struct {
	ID            string
	Type          string
	SessionID     string
	OrderNo       string // client_reference_id
	Identity      string // metadata.identity
	Email         string
	PaymentStatus string
}

// Completed 款项已到账，可以加额度
func (e *Event) Completed() bool {
	switch e.Type {
	case EventAsyncPaymentSucceeded:
		return true
	case EventCheckoutCompleted:
		return e.PaymentStatus == paymentStatusPaid || e.PaymentStatus == paymentStatusNotRequired
	default:
		return false
	}
}

// StripeGateway Stripe Checkout 会话创建与 webhook 验签
type StripeGateway struct {
	api           *client.API
	cfg           *config.PaymentConfig
	webhookSecret string
}

// NewStripeGateway backends 为 nil 时使用 stripe-go 默认的 HTTP 后端
func NewStripeGateway(cfg *config.PaymentConfig, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		cfg:           cfg,
		webhookSecret: cfg.WebhookSecret,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderNo),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.cfg.Currency),
					UnitAmount: stripe.Int64(g.cfg.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(g.cfg.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata(metadataIdentity, req.Identity)
	params.AddMetadata("order_no", req.OrderNo)
	params.AddMetadata("credits", fmt.Sprintf("%d", req.Credits))

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ParseEvent 验证 Stripe-Signature 并解析事件；验签失败返回 ErrInvalidSignature
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if !strings.HasPrefix(out.Type, "checkout.session.") || event.Data == nil {
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
	}

	out.SessionID = sess.ID
	out.OrderNo = sess.ClientReferenceID
	out.Identity = sess.Metadata[metadataIdentity]
	out.PaymentStatus = string(sess.PaymentStatus)
	out.Email = sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		out.Email = sess.CustomerDetails.Email
	}
	return out, nil
}
