package model

import (
	"time"

	"billing-engine/internal/constants"
)

// 优惠券类型常量（引用 constants 包中的常量，保持一致性）
const (
	CouponTypeCreditTopUp          = constants.CouponTypeCreditTopUp
	CouponTypeSubscriptionDiscount = constants.CouponTypeSubscriptionDiscount
	CouponTypeFreeService          = constants.CouponTypeFreeService
	CouponTypeWelcomeBonus         = constants.CouponTypeWelcomeBonus
)

// 优惠券状态常量
const (
	CouponStatusActive   = constants.CouponStatusActive
	CouponStatusExpired  = constants.CouponStatusExpired
	CouponStatusDisabled = constants.CouponStatusDisabled
	CouponStatusUsedUp   = constants.CouponStatusUsedUp
)

// Coupon 优惠券表
// used_count <= max_uses，达到上限时状态自动翻转为 used_up
type Coupon struct {
	CouponID        string     `gorm:"primaryKey;type:varchar(36)"`
	Code            string     `gorm:"uniqueIndex;type:varchar(64);not null"`
	Type            string     `gorm:"type:enum('credit_topup','subscription_discount','free_service','welcome_bonus');not null"`
	Status          string     `gorm:"type:enum('active','expired','disabled','used_up');not null;default:'active'"`
	CreditAmount    int64      `gorm:"type:bigint;not null;default:0"` // credit_topup/welcome_bonus 入账金额
	DiscountPercent int        `gorm:"not null;default:0"`             // subscription_discount 百分比折扣
	DiscountAmount  int64      `gorm:"type:bigint;not null;default:0"` // subscription_discount 固定减免
	ServiceName     string     `gorm:"type:varchar(32)"`               // 服务范围限定，空为不限
	MaxUses         int        `gorm:"not null;default:1"`
	UsedCount       int        `gorm:"not null;default:0"`
	MaxUsesPerUser  int        `gorm:"not null;default:1"`
	ValidFrom       time.Time  `gorm:"not null"`
	ValidUntil      *time.Time `gorm:"default:null"` // 空为永久有效
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Coupon) TableName() string {
	return "coupon"
}
