package model

import (
	"time"

	"billing-engine/internal/constants"
)

// 订阅状态常量（引用 constants 包中的常量，保持一致性）
const (
	SubStatusActive         = constants.SubStatusActive
	SubStatusPendingPayment = constants.SubStatusPendingPayment
	SubStatusPendingUpgrade = constants.SubStatusPendingUpgrade
	SubStatusExpired        = constants.SubStatusExpired
	SubStatusCancelled      = constants.SubStatusCancelled
)

// Subscription 用户订阅表
// grace_period_end 非空时 status 必为 active（宽限期内），
// 行不做物理删除，过期/取消仅改状态并释放配额
type Subscription struct {
	SubscriptionID   string     `gorm:"primaryKey;type:varchar(36)"`
	UID              string     `gorm:"type:varchar(36);not null;index"`
	PlanID           string     `gorm:"type:varchar(36);not null;index"`
	Status           string     `gorm:"type:enum('active','pending_payment','pending_upgrade','expired','cancelled');not null;default:'active'"`
	AutoRenew        bool       `gorm:"not null;default:true"`
	StartTime        time.Time  `gorm:"not null"`
	EndTime          time.Time  `gorm:"not null"`
	NextBilling      time.Time  `gorm:"not null;index"`
	LastBilled       *time.Time `gorm:"default:null"`
	LastChargeAmount int64      `gorm:"type:bigint;not null;default:0"`
	FailedCharges    int        `gorm:"not null;default:0"`
	GracePeriodEnd   *time.Time `gorm:"default:null;index"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscription"
}

// InGrace 是否处于宽限期
func (s *Subscription) InGrace() bool {
	return s.Status == SubStatusActive && s.GracePeriodEnd != nil
}
