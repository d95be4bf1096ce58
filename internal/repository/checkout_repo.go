package repository

import (
	"context"
	"errors"
	"time"

	"creditgate/internal/model"

	"gorm.io/gorm"
)

var (
	ErrCheckoutNotFound      = errors.New("checkout order not found")
	ErrCheckoutStatusInvalid = errors.New("checkout order status invalid")
)

type CheckoutRepository struct {
	db *gorm.DB
}

func NewCheckoutRepository(db *gorm.DB) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

func (r *CheckoutRepository) Create(ctx context.Context, tx *gorm.DB, order *model.CheckoutOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *CheckoutRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.CheckoutOrder, error) {
	var order model.CheckoutOrder
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCheckoutNotFound
		}
		return nil, err
	}
	return &order, nil
}

// AttachSession 记录支付平台返回的会话 ID 和跳转地址
func (r *CheckoutRepository) AttachSession(ctx context.Context, orderNo, sessionID, url string) error {
	result := r.db.WithContext(ctx).
		Model(&model.CheckoutOrder{}).
		Where("order_no = ?", orderNo).
		Updates(map[string]interface{}{
			"session_id": sessionID,
			"url":        url,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCheckoutNotFound
	}
	return nil
}

// MarkPaid 把订单置为已支付；订单已是 PAID 时直接返回，不算错误
func (r *CheckoutRepository) MarkPaid(ctx context.Context, tx *gorm.DB, orderNo string) error {
	if tx == nil {
		tx = r.db
	}
	tx = tx.WithContext(ctx)

	var order model.CheckoutOrder
	if err := tx.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCheckoutNotFound
		}
		return err
	}
	if order.Status == model.CheckoutStatusPaid {
		return nil
	}
	return r.UpdateStatus(ctx, tx, orderNo, order.Status, model.CheckoutStatusPaid)
}

func (r *CheckoutRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrCheckoutStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	if toStatus == model.CheckoutStatusPaid {
		now := time.Now()
		updates["paid_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.CheckoutOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrCheckoutStatusInvalid
	}

	return nil
}

func (r *CheckoutRepository) GetExpiredOrders(ctx context.Context, limit int) ([]*model.CheckoutOrder, error) {
	var orders []*model.CheckoutOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND expired_at < ?", model.CheckoutStatusCreated, time.Now()).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
