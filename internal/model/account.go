package model

import (
	"time"
)

// Account 用户额度账户
// identity 由客户端生成并传入；credits 永远不能为负，扣减只能通过条件更新完成
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Identity  string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"identity"`
	Email     string    `gorm:"type:varchar(255);index;not null;default:''" json:"email"`                 // 联系邮箱，可重复
	Credits   int64     `gorm:"not null;default:0;check:chk_account_credits,credits >= 0" json:"credits"` // 剩余额度
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
