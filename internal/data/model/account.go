package model

import (
	"time"
)

// Account 账户表
// balance 为整数信用点，仅允许通过管理员调账进入负数
type Account struct {
	AccountID  string    `gorm:"primaryKey;type:varchar(36)"`
	UID        string    `gorm:"uniqueIndex;type:varchar(36);not null"`
	Balance    int64     `gorm:"type:bigint;not null;default:0"`
	TotalTopUp int64     `gorm:"type:bigint;not null;default:0"` // 累计充值（单调递增）
	TotalSpent int64     `gorm:"type:bigint;not null;default:0"` // 累计消费（单调递增）
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Account) TableName() string {
	return "account"
}
