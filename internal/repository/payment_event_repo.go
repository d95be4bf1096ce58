package repository

import (
	"context"
	"time"

	"creditgate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentEventRepository struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// RecordIfAbsent 插入事件记录，返回是否为首次写入
// event_id 唯一索引冲突时不报错，RowsAffected 为 0
func (r *PaymentEventRepository) RecordIfAbsent(ctx context.Context, tx *gorm.DB, event *model.ProcessedPaymentEvent) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	if event.AppliedAt.IsZero() {
		event.AppliedAt = time.Now()
	}

	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentEventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProcessedPaymentEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

// DeleteAppliedBefore 删除保留期之外的事件记录，按批删除避免长事务
func (r *PaymentEventRepository) DeleteAppliedBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&model.ProcessedPaymentEvent{}).
		Where("applied_at < ?", before).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&model.ProcessedPaymentEvent{})
	return result.RowsAffected, result.Error
}
