package model

import (
	"time"

	"billing-engine/internal/constants"
)

// 流水类型常量（引用 constants 包中的常量，保持一致性）
const (
	EntryTypeTopUp            = constants.EntryTypeTopUp
	EntryTypeSubscription     = constants.EntryTypeSubscription
	EntryTypeUpgrade          = constants.EntryTypeUpgrade
	EntryTypeRefund           = constants.EntryTypeRefund
	EntryTypeAdminAdjustment  = constants.EntryTypeAdminAdjustment
	EntryTypeCouponRedemption = constants.EntryTypeCouponRedemption
)

// 流水状态常量
const (
	EntryStatusPending   = constants.EntryStatusPending
	EntryStatusCompleted = constants.EntryStatusCompleted
	EntryStatusFailed    = constants.EntryStatusFailed
	EntryStatusCancelled = constants.EntryStatusCancelled
)

// LedgerEntry 账本流水表（不可变，仅 pending 流水允许状态终结）
// amount 存正数，借贷方向由 type 决定；
// balance_before/balance_after 在写入事务内基于账户当前余额计算，
// pending 流水在结算前两者均为 0
type LedgerEntry struct {
	LedgerEntryID string     `gorm:"primaryKey;type:varchar(36)"`
	UID           string     `gorm:"type:varchar(36);not null;index:idx_uid_date,priority:1"`
	Type          string     `gorm:"type:enum('top_up','subscription','upgrade','refund','admin_adjustment','coupon_redemption');not null"`
	Amount        int64      `gorm:"type:bigint;not null"`
	BalanceBefore int64      `gorm:"type:bigint;not null;default:0"`
	BalanceAfter  int64      `gorm:"type:bigint;not null;default:0"`
	Status        string     `gorm:"type:enum('pending','completed','failed','cancelled');not null;default:'completed'"`
	Description   string     `gorm:"type:varchar(255)"`
	Metadata      string     `gorm:"type:json"` // 按 type 约定 schema 的 key/value 包
	GatewayRef    *string    `gorm:"type:varchar(64);uniqueIndex"` // 支付网关流水号（仅充值流水，结算幂等键）
	CreatedAt     time.Time  `gorm:"autoCreateTime;index:idx_uid_date,priority:2"`
	CompletedAt   *time.Time `gorm:"default:null"`
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
