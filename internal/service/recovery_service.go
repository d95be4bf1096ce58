package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"creditgate/internal/config"
	"creditgate/internal/infrastructure/lock"
	"creditgate/internal/model"
	"creditgate/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RecoverRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	NewIdentity string `json:"newIdentity" validate:"required,max=128"`
}

type RecoverResult struct {
	Identity string `json:"identity"`
	Credits  int64  `json:"credits"`
}

// IdentityReboundPayload identity.rebound 消息体
type IdentityReboundPayload struct {
	OldIdentity string `json:"old_identity"`
	NewIdentity string `json:"new_identity"`
	Email       string `json:"email"`
	Credits     int64  `json:"credits"`
	ReboundAt   string `json:"rebound_at"`
}

// RecoveryService 按邮箱找回账户并改挂到新的 identity
type RecoveryService struct {
	db          *gorm.DB
	redisClient *redis.Client
	accountRepo *repository.AccountRepository
	outboxRepo  *repository.OutboxRepository
	cfg         *config.Config
	validate    *validator.Validate
	logger      *zap.Logger

	lockRetryInterval time.Duration
	lockRetries       int
}

// NewRecoveryService redisClient 为 nil 时不加分布式锁，改挂本身的正确性由数据库保证
func NewRecoveryService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, logger *zap.Logger) *RecoveryService {
	return &RecoveryService{
		db:          db,
		redisClient: redisClient,
		accountRepo: repository.NewAccountRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		cfg:         cfg,
		validate:    newValidator(),
		logger:      logger.Named("recovery"),

		lockRetryInterval: 50 * time.Millisecond,
		lockRetries:       60,
	}
}

func (s *RecoveryService) Recover(ctx context.Context, req *RecoverRequest) (*RecoverResult, error) {
	req.Email = normalizeEmail(req.Email)
	req.NewIdentity = strings.TrimSpace(req.NewIdentity)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	if s.redisClient != nil {
		recoverLock := lock.NewRecoverLock(s.redisClient, req.Email, uuid.NewString())
		if err := recoverLock.Lock(ctx, s.lockRetryInterval, s.lockRetries); err != nil {
			if errors.Is(err, lock.ErrLockFailed) {
				return nil, newError(KindConflict, "another recovery for this email is in progress", err)
			}
			return nil, newError(KindInternal, "failed to acquire recovery lock", err)
		}
		defer func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := recoverLock.Unlock(unlockCtx); err != nil {
				s.logger.Warn("release recovery lock failed", zap.String("key", recoverLock.Key()), zap.Error(err))
			}
		}()
	}

	found, err := s.accountRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, newError(KindNotFound, "no account found for this email", err)
		}
		return nil, newError(KindInternal, "failed to look up account", err)
	}

	// 已经绑定在目标 identity 上，重复请求按成功处理
	if found.Identity == req.NewIdentity {
		return &RecoverResult{Identity: found.Identity, Credits: found.Credits}, nil
	}

	var rebound *model.Account
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.RebindIdentity(ctx, tx, found.Identity, req.NewIdentity)
		if err != nil {
			return err
		}
		rebound = account

		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.CreditEvents, model.EventIdentityRebound, req.NewIdentity, IdentityReboundPayload{
			OldIdentity: found.Identity,
			NewIdentity: req.NewIdentity,
			Email:       req.Email,
			Credits:     account.Credits,
			ReboundAt:   time.Now().Format(time.RFC3339),
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrIdentityInUse):
			return nil, newError(KindConflict, "this identity is already bound to another account", err)
		case errors.Is(err, repository.ErrAccountNotFound):
			return nil, newError(KindNotFound, "no account found for this email", err)
		default:
			return nil, newError(KindInternal, "failed to rebind identity", err)
		}
	}

	s.logger.Info("identity rebound",
		zap.String("old_identity", found.Identity),
		zap.String("new_identity", rebound.Identity),
		zap.Int64("credits", rebound.Credits))

	return &RecoverResult{Identity: rebound.Identity, Credits: rebound.Credits}, nil
}
