package job

import (
	"context"
	"errors"
	"time"

	"creditgate/internal/model"
	"creditgate/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckoutTimeoutJob 关闭超时未支付的结账订单
// 关闭后的订单仍可被迟到的支付完成事件置为 PAID
type CheckoutTimeoutJob struct {
	checkoutRepo *repository.CheckoutRepository
	logger       *zap.Logger
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
}

func NewCheckoutTimeoutJob(db *gorm.DB, logger *zap.Logger) *CheckoutTimeoutJob {
	return &CheckoutTimeoutJob{
		checkoutRepo: repository.NewCheckoutRepository(db),
		logger:       logger.Named("checkout_timeout"),
		stopCh:       make(chan struct{}),
		interval:     time.Minute,
		batchSize:    100,
	}
}

func (j *CheckoutTimeoutJob) Start(ctx context.Context) {
	j.logger.Info("订单超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.closeExpiredOrders(ctx)
		}
	}
}

func (j *CheckoutTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *CheckoutTimeoutJob) closeExpiredOrders(ctx context.Context) int {
	orders, err := j.checkoutRepo.GetExpiredOrders(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("查询超时订单失败", zap.Error(err))
		return 0
	}

	closed := 0
	for _, order := range orders {
		err := j.checkoutRepo.UpdateStatus(ctx, nil, order.OrderNo, model.CheckoutStatusCreated, model.CheckoutStatusClosed)
		if err != nil {
			// 同时被 webhook 置为 PAID 时条件更新不命中
			if errors.Is(err, repository.ErrCheckoutStatusInvalid) {
				continue
			}
			j.logger.Error("关闭订单失败", zap.String("order_no", order.OrderNo), zap.Error(err))
			continue
		}
		closed++
	}

	if closed > 0 {
		j.logger.Info("关闭超时订单", zap.Int("count", closed))
	}
	return closed
}

// EventPruneJob 删除保留期之外的已处理支付事件
type EventPruneJob struct {
	eventRepo *repository.PaymentEventRepository
	logger    *zap.Logger
	retention time.Duration
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

// NewEventPruneJob retentionDays <= 0 时不清理
func NewEventPruneJob(db *gorm.DB, retentionDays int, logger *zap.Logger) *EventPruneJob {
	return &EventPruneJob{
		eventRepo: repository.NewPaymentEventRepository(db),
		logger:    logger.Named("event_prune"),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		stopCh:    make(chan struct{}),
		interval:  time.Hour,
		batchSize: 500,
	}
}

func (j *EventPruneJob) Start(ctx context.Context) {
	if j.retention <= 0 {
		j.logger.Info("未配置保留期，事件清理任务不启动")
		return
	}
	j.logger.Info("事件清理任务启动", zap.Duration("retention", j.retention))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.prune(ctx)
		}
	}
}

func (j *EventPruneJob) Stop() {
	close(j.stopCh)
}

// prune 按批删除直到没有过期记录
func (j *EventPruneJob) prune(ctx context.Context) int64 {
	before := time.Now().Add(-j.retention)

	var total int64
	for {
		deleted, err := j.eventRepo.DeleteAppliedBefore(ctx, before, j.batchSize)
		if err != nil {
			j.logger.Error("清理支付事件失败", zap.Error(err))
			return total
		}
		total += deleted
		if deleted < int64(j.batchSize) {
			break
		}
	}

	if total > 0 {
		j.logger.Info("清理过期支付事件", zap.Int64("count", total))
	}
	return total
}
