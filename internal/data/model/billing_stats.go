package model

import (
	"time"
)

// BillingStatsSnapshot 计费统计日快照表
// 同一天重复跑统计任务时覆盖写入（date 唯一）
type BillingStatsSnapshot struct {
	BillingStatsID       string    `gorm:"primaryKey;type:varchar(36)"`
	Date                 string    `gorm:"uniqueIndex;type:varchar(10);not null"` // YYYY-MM-DD
	ActiveSubscriptions  int64     `gorm:"type:bigint;not null;default:0"`
	InGraceSubscriptions int64     `gorm:"type:bigint;not null;default:0"`
	ExpiredToday         int64     `gorm:"type:bigint;not null;default:0"`
	RenewedToday         int64     `gorm:"type:bigint;not null;default:0"`
	RevenueToday         int64     `gorm:"type:bigint;not null;default:0"`
	TopUpToday           int64     `gorm:"type:bigint;not null;default:0"`
	PendingTopUps        int64     `gorm:"type:bigint;not null;default:0"`
	TotalBalance         int64     `gorm:"type:bigint;not null;default:0"`
	CouponRedeemedToday  int64     `gorm:"type:bigint;not null;default:0"`
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (BillingStatsSnapshot) TableName() string {
	return "billing_stats_snapshot"
}
