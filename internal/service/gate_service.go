package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditgate/internal/config"
	"creditgate/internal/repository"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Generator 文本生成服务
type Generator interface {
	Generate(ctx context.Context, instruction string, maxTokens int) (string, error)
}

type GenerateRequest struct {
	Identity string `json:"identity" validate:"required,max=128"`
	Prompt   string `json:"prompt" validate:"required,max=4000"`
	Tone     string `json:"tone" validate:"required,max=64"`
}

type GenerateResult struct {
	Comment string `json:"comment"`
}

// GateService 每次生成消耗 1 个额度：先预扣，生成失败再退回
type GateService struct {
	accountRepo *repository.AccountRepository
	generator   Generator
	validate    *validator.Validate
	logger      *zap.Logger

	maxTokens     int
	timeout       time.Duration
	refundRetries int
	refundBackoff time.Duration
}

func NewGateService(db *gorm.DB, generator Generator, cfg *config.GenerationConfig, logger *zap.Logger) *GateService {
	return &GateService{
		accountRepo:   repository.NewAccountRepository(db),
		generator:     generator,
		validate:      newValidator(),
		logger:        logger.Named("gate"),
		maxTokens:     cfg.MaxTokens,
		timeout:       cfg.Timeout,
		refundRetries: 3,
		refundBackoff: 100 * time.Millisecond,
	}
}

// BuildInstruction 生成 2~3 行评论的提示词
func BuildInstruction(prompt, tone string) string {
	return fmt.Sprintf(
		"Génère un commentaire %s pour ce post, en 2 ou 3 lignes maximum, sans répéter le texte original et assure toi de ne pas depassé un max_tokens de 300: \"%s\"",
		tone, prompt,
	)
}

func (s *GateService) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	req.Identity = strings.TrimSpace(req.Identity)
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Tone = strings.TrimSpace(req.Tone)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, nil, req.Identity); err != nil {
		return nil, newError(KindInternal, "failed to load account", err)
	}

	before, err := s.accountRepo.TryReserveOne(ctx, req.Identity)
	if err != nil {
		if errors.Is(err, repository.ErrNoCredits) {
			return nil, newError(KindInsufficientCredits, "no credits left, buy a package to continue", err)
		}
		return nil, newError(KindInternal, "failed to reserve credit", err)
	}

	s.logger.Debug("credit reserved",
		zap.String("identity", req.Identity),
		zap.Int64("credits_before", before))

	// 预扣已提交，生成调用不在任何事务内
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	comment, genErr := s.generator.Generate(genCtx, BuildInstruction(req.Prompt, req.Tone), s.maxTokens)
	cancel()

	comment = strings.TrimSpace(comment)
	if genErr == nil && comment != "" {
		return &GenerateResult{Comment: comment}, nil
	}
	if genErr == nil {
		genErr = errors.New("empty completion")
	}

	s.logger.Warn("generation failed, refunding credit",
		zap.String("identity", req.Identity),
		zap.Error(genErr))

	if err := s.refund(req.Identity); err != nil {
		s.logger.Error("refund failed",
			zap.String("identity", req.Identity),
			zap.Error(err))
	}
	return nil, newError(KindUpstream, "text generation failed, your credit was not consumed", genErr)
}

// refund 退回预扣的额度；请求 ctx 可能已取消，使用独立的 ctx 重试
func (s *GateService) refund(identity string) error {
	var err error
	for attempt := 1; attempt <= s.refundRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = s.accountRepo.Credit(ctx, nil, identity, 1, "")
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt) * s.refundBackoff)
	}
	return err
}
