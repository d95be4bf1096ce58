package service

import (
	"context"
	"strings"

	"creditgate/internal/repository"

	"gorm.io/gorm"
)

type AccountService struct {
	accountRepo *repository.AccountRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		accountRepo: repository.NewAccountRepository(db),
	}
}

// GetCredits 账户不存在时返回 0，不创建账户
func (s *AccountService) GetCredits(ctx context.Context, identity string) (int64, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return 0, newError(KindValidation, "identity is required", nil)
	}

	credits, err := s.accountRepo.GetBalance(ctx, identity)
	if err != nil {
		return 0, newError(KindInternal, "failed to read credits", err)
	}
	return credits, nil
}
