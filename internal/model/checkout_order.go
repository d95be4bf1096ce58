package model

import (
	"time"
)

const (
	CheckoutStatusCreated = "CREATED"
	CheckoutStatusPaid    = "PAID"
	CheckoutStatusClosed  = "CLOSED"
)

// 会话过期关闭后支付平台仍可能送达完成事件，所以允许 CLOSED -> PAID
var ValidCheckoutTransitions = map[string][]string{
	CheckoutStatusCreated: {CheckoutStatusPaid, CheckoutStatusClosed},
	CheckoutStatusClosed:  {CheckoutStatusPaid},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidCheckoutTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

type CheckoutOrder struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	SessionID   string     `gorm:"type:varchar(255);index;not null;default:''" json:"session_id"`
	Identity    string     `gorm:"type:varchar(128);index;not null" json:"identity"`
	Email       string     `gorm:"type:varchar(255);not null;default:''" json:"email"`
	Credits     int64      `gorm:"not null" json:"credits"`
	AmountCents int64      `gorm:"not null" json:"amount_cents"`
	Currency    string     `gorm:"type:varchar(8);not null" json:"currency"`
	URL         string     `gorm:"type:text" json:"url"`
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ExpiredAt   time.Time  `gorm:"not null" json:"expired_at"`
	PaidAt      *time.Time `json:"paid_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CheckoutOrder) TableName() string {
	return "checkout_orders"
}
