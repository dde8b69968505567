package biz

import (
	"billing-engine/internal/conf"
)

// BillingConfig 计费配置
type BillingConfig struct {
	GraceDaysDefault       int  // 宽限期默认天数
	GraceDaysMin           int  // 宽限期最小天数
	GraceDaysMax           int  // 宽限期最大天数
	BillingPeriodMonths    int  // 计费周期（月）
	LowCreditLookaheadDays int  // 低余额通知的提前检查天数
	GraceReminderDays      int  // 宽限期提醒的提前天数
	WelcomeBonusEnabled    bool // 开户时是否自动发放 welcome_bonus
	GracePeriodEnabled     bool // 余额不足时是否进入宽限期（关闭则直接过期）
}

// NewBillingConfig 从配置创建 BillingConfig
func NewBillingConfig(c *conf.Bootstrap) *BillingConfig {
	config := &BillingConfig{
		GraceDaysDefault:       7, // 默认值
		GraceDaysMin:           1,
		GraceDaysMax:           30,
		BillingPeriodMonths:    1,
		LowCreditLookaheadDays: 3,
		GraceReminderDays:      2,
		WelcomeBonusEnabled:    true,
		GracePeriodEnabled:     true,
	}
	if c != nil && c.Billing != nil {
		b := c.Billing
		if b.GraceDaysDefault > 0 {
			config.GraceDaysDefault = b.GraceDaysDefault
		}
		if b.GraceDaysMin > 0 {
			config.GraceDaysMin = b.GraceDaysMin
		}
		if b.GraceDaysMax > 0 {
			config.GraceDaysMax = b.GraceDaysMax
		}
		if b.BillingPeriodMonths > 0 {
			config.BillingPeriodMonths = b.BillingPeriodMonths
		}
		if b.LowCreditLookaheadDays > 0 {
			config.LowCreditLookaheadDays = b.LowCreditLookaheadDays
		}
		if b.GraceReminderDays > 0 {
			config.GraceReminderDays = b.GraceReminderDays
		}
		config.WelcomeBonusEnabled = b.WelcomeBonusEnabled
		config.GracePeriodEnabled = b.GracePeriodEnabled
	}
	return config
}

// ClampGraceDays 将宽限期天数收敛到配置区间内
func (c *BillingConfig) ClampGraceDays(days int) int {
	if days < c.GraceDaysMin {
		return c.GraceDaysMin
	}
	if days > c.GraceDaysMax {
		return c.GraceDaysMax
	}
	return days
}

// ValidGraceDays 校验宽限期天数是否在配置区间内
func (c *BillingConfig) ValidGraceDays(days int) bool {
	return days >= c.GraceDaysMin && days <= c.GraceDaysMax
}
