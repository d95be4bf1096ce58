package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditgate/internal/config"
	"creditgate/internal/infrastructure/payment"
	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/pkg/idgen"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentGateway 支付平台：创建结账会话、校验并解析 webhook 事件
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (*payment.Event, error)
}

type StartPaymentRequest struct {
	Identity string `json:"identity" validate:"required,max=128"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
}

type StartPaymentResult struct {
	OrderNo string `json:"order_no"`
	URL     string `json:"url"`
}

type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate"`
}

// CreditsPurchasedPayload credits.purchased 消息体
type CreditsPurchasedPayload struct {
	EventID  string `json:"event_id"`
	OrderNo  string `json:"order_no,omitempty"`
	Identity string `json:"identity"`
	Email    string `json:"email,omitempty"`
	Credits  int64  `json:"credits"`
	Balance  int64  `json:"balance"`
	PaidAt   string `json:"paid_at"`
}

type PaymentService struct {
	db           *gorm.DB
	accountRepo  *repository.AccountRepository
	checkoutRepo *repository.CheckoutRepository
	eventRepo    *repository.PaymentEventRepository
	outboxRepo   *repository.OutboxRepository
	gateway      PaymentGateway
	idgen        *idgen.Snowflake
	cfg          *config.Config
	validate     *validator.Validate
	logger       *zap.Logger

	applyRetries int
	applyBackoff time.Duration
}

func NewPaymentService(db *gorm.DB, gateway PaymentGateway, ids *idgen.Snowflake, cfg *config.Config, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		db:           db,
		accountRepo:  repository.NewAccountRepository(db),
		checkoutRepo: repository.NewCheckoutRepository(db),
		eventRepo:    repository.NewPaymentEventRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		gateway:      gateway,
		idgen:        ids,
		cfg:          cfg,
		validate:     newValidator(),
		logger:       logger.Named("payment"),
		applyRetries: 3,
		applyBackoff: 200 * time.Millisecond,
	}
}

// StartPayment 记录结账订单并创建支付会话，返回跳转地址
func (s *PaymentService) StartPayment(ctx context.Context, req *StartPaymentRequest) (*StartPaymentResult, error) {
	req.Identity = strings.TrimSpace(req.Identity)
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, nil, req.Identity); err != nil {
		return nil, newError(KindInternal, "failed to load account", err)
	}

	order := &model.CheckoutOrder{
		OrderNo:     s.idgen.CheckoutNo(),
		Identity:    req.Identity,
		Email:       req.Email,
		Credits:     s.cfg.Business.PackageCredits,
		AmountCents: s.cfg.Payment.AmountCents,
		Currency:    s.cfg.Payment.Currency,
		Status:      model.CheckoutStatusCreated,
		ExpiredAt:   time.Now().Add(s.cfg.CheckoutTimeout()),
	}
	if err := s.checkoutRepo.Create(ctx, nil, order); err != nil {
		return nil, newError(KindInternal, "failed to create checkout order", err)
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		OrderNo:  order.OrderNo,
		Identity: order.Identity,
		Email:    order.Email,
		Credits:  order.Credits,
	})
	if err != nil {
		if closeErr := s.checkoutRepo.UpdateStatus(ctx, nil, order.OrderNo, model.CheckoutStatusCreated, model.CheckoutStatusClosed); closeErr != nil {
			s.logger.Warn("close checkout order failed", zap.String("order_no", order.OrderNo), zap.Error(closeErr))
		}
		return nil, newError(KindUpstream, "payment provider unavailable", err)
	}

	if err := s.checkoutRepo.AttachSession(ctx, order.OrderNo, sess.ID, sess.URL); err != nil {
		return nil, newError(KindInternal, "failed to save checkout session", err)
	}

	s.logger.Info("checkout started",
		zap.String("order_no", order.OrderNo),
		zap.String("identity", order.Identity),
		zap.String("session_id", sess.ID))

	return &StartPaymentResult{OrderNo: order.OrderNo, URL: sess.URL}, nil
}

// HandleWebhook 验签通过后总是返回 nil error，失败只记录日志，避免支付平台无限重投
// 只有验签失败返回 KindWebhookSignature
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			s.logger.Warn("webhook signature verification failed", zap.Error(err))
			return nil, newError(KindWebhookSignature, "invalid webhook signature", err)
		}
		s.logger.Error("webhook payload could not be decoded", zap.Error(err))
		return &WebhookResult{}, nil
	}

	result := &WebhookResult{EventID: event.ID, EventType: event.Type}
	if !event.Completed() {
		s.logger.Debug("webhook event ignored",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("payment_status", event.PaymentStatus))
		return result, nil
	}

	identity := s.resolveIdentity(ctx, event)
	if identity == "" {
		s.logger.Error("webhook event has no identity, cannot credit",
			zap.String("event_id", event.ID),
			zap.String("order_no", event.OrderNo))
		return result, nil
	}

	// 整个入账事务作为一个单元重试；event_id 唯一索引保证重试不会重复加额度
	for attempt := 1; attempt <= s.applyRetries; attempt++ {
		result.Applied, result.Duplicate, err = s.applyCredit(ctx, event, identity)
		if err == nil {
			break
		}
		s.logger.Warn("apply payment event failed",
			zap.String("event_id", event.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < s.applyRetries {
			time.Sleep(time.Duration(attempt) * s.applyBackoff)
		}
	}
	if err != nil {
		s.logger.Error("payment event not applied after retries",
			zap.String("event_id", event.ID),
			zap.String("identity", identity),
			zap.Error(err))
		return result, nil
	}

	if result.Duplicate {
		s.logger.Info("duplicate payment event ignored", zap.String("event_id", event.ID))
	}
	return result, nil
}

// resolveIdentity 优先取 metadata.identity，缺失时通过订单号回查
func (s *PaymentService) resolveIdentity(ctx context.Context, event *payment.Event) string {
	if identity := strings.TrimSpace(event.Identity); identity != "" {
		return identity
	}
	if event.OrderNo == "" {
		return ""
	}
	order, err := s.checkoutRepo.GetByOrderNo(ctx, event.OrderNo)
	if err != nil {
		return ""
	}
	return order.Identity
}

func (s *PaymentService) applyCredit(ctx context.Context, event *payment.Event, identity string) (applied, duplicate bool, err error) {
	credits := s.cfg.Business.PackageCredits
	email := normalizeEmail(event.Email)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.eventRepo.RecordIfAbsent(ctx, tx, &model.ProcessedPaymentEvent{
			EventID:   event.ID,
			EventType: event.Type,
			Identity:  identity,
			Credits:   credits,
		})
		if err != nil {
			return fmt.Errorf("记录支付事件失败: %w", err)
		}
		if !inserted {
			duplicate = true
			return nil
		}

		account, err := s.accountRepo.Credit(ctx, tx, identity, credits, email)
		if err != nil {
			return fmt.Errorf("增加额度失败: %w", err)
		}

		if event.OrderNo != "" {
			if err := s.checkoutRepo.MarkPaid(ctx, tx, event.OrderNo); err != nil && !errors.Is(err, repository.ErrCheckoutNotFound) {
				return fmt.Errorf("更新订单状态失败: %w", err)
			}
		}

		if err := s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.CreditEvents, model.EventCreditsPurchased, identity, CreditsPurchasedPayload{
			EventID:  event.ID,
			OrderNo:  event.OrderNo,
			Identity: identity,
			Email:    email,
			Credits:  credits,
			Balance:  account.Credits,
			PaidAt:   time.Now().Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return applied, duplicate, nil
}
