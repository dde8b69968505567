package model

import (
	"time"
)

// CouponRedemption 优惠券兑换记录表
// (coupon_id, uid) 唯一索引是并发兑换的兜底约束：
// 两个并发请求都通过校验时，后提交者的插入必然触发唯一键冲突
type CouponRedemption struct {
	CouponRedemptionID string    `gorm:"primaryKey;type:varchar(36)"`
	CouponID           string    `gorm:"type:varchar(36);not null;uniqueIndex:uk_coupon_uid,priority:1"`
	UID                string    `gorm:"type:varchar(36);not null;uniqueIndex:uk_coupon_uid,priority:2"`
	CouponCode         string    `gorm:"type:varchar(64);not null;index"`
	Value              int64     `gorm:"type:bigint;not null;default:0"` // 兑换产生的价值（入账金额或折扣额）
	LedgerEntryID      *string   `gorm:"type:varchar(36)"`               // credit 类兑换对应的流水
	SubscriptionID     *string   `gorm:"type:varchar(36)"`               // 后续关联的订阅（可事后补写）
	CreatedAt          time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (CouponRedemption) TableName() string {
	return "coupon_redemption"
}
