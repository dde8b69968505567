package model

import (
	"time"
)

// Plan 服务套餐表
// used_quota 为容量计数器（非活跃订阅行数统计），
// 只能在与订阅写入同一事务内由配额操作调整，约束 0 <= used_quota <= total_quota
type Plan struct {
	PlanID       string    `gorm:"primaryKey;type:varchar(36)"`
	ServiceName  string    `gorm:"type:varchar(32);not null;index"`
	Name         string    `gorm:"type:varchar(64);not null"`
	MonthlyPrice int64     `gorm:"type:bigint;not null"`
	TotalQuota   int64     `gorm:"type:bigint;not null;default:0"`
	UsedQuota    int64     `gorm:"type:bigint;not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Plan) TableName() string {
	return "plan"
}
