package model

import (
	"time"
)

// ProcessedPaymentEvent 已入账的支付事件，event_id 唯一，用于 webhook 去重
// 与加额度在同一事务内写入，只插入不更新
type ProcessedPaymentEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID   string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"event_id"`
	EventType string    `gorm:"type:varchar(100);not null" json:"event_type"`
	Identity  string    `gorm:"type:varchar(128);index;not null" json:"identity"`
	Credits   int64     `gorm:"not null" json:"credits"`
	AppliedAt time.Time `gorm:"not null;index" json:"applied_at"`
}

func (ProcessedPaymentEvent) TableName() string {
	return "processed_payment_events"
}
