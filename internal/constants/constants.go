package constants

// 时间格式常量
const (
	// TimeFormatMonth 月份格式 (YYYY-MM)
	TimeFormatMonth = "2006-01"
	// TimeFormatDate 日期格式 (YYYY-MM-DD)
	TimeFormatDate = "2006-01-02"
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 余额缓存 key 前缀
	RedisKeyBalance = "balance:"
	// RedisKeyJobLock 定时任务分布式锁 key 前缀
	RedisKeyJobLock = "job:lock:"
)

// 流水类型常量
const (
	// EntryTypeTopUp 充值
	EntryTypeTopUp = "top_up"
	// EntryTypeSubscription 订阅扣费
	EntryTypeSubscription = "subscription"
	// EntryTypeUpgrade 升级补差价
	EntryTypeUpgrade = "upgrade"
	// EntryTypeRefund 退款
	EntryTypeRefund = "refund"
	// EntryTypeAdminAdjustment 管理员调账
	EntryTypeAdminAdjustment = "admin_adjustment"
	// EntryTypeCouponRedemption 优惠券兑换入账
	EntryTypeCouponRedemption = "coupon_redemption"
)

// 流水状态常量
const (
	// EntryStatusPending 待结算（网关充值未回调）
	EntryStatusPending = "pending"
	// EntryStatusCompleted 已完成
	EntryStatusCompleted = "completed"
	// EntryStatusFailed 已失败
	EntryStatusFailed = "failed"
	// EntryStatusCancelled 已取消
	EntryStatusCancelled = "cancelled"
)

// 订阅状态常量
const (
	// SubStatusActive 生效中（含宽限期）
	SubStatusActive = "active"
	// SubStatusPendingPayment 待支付
	SubStatusPendingPayment = "pending_payment"
	// SubStatusPendingUpgrade 待升级
	SubStatusPendingUpgrade = "pending_upgrade"
	// SubStatusExpired 已过期
	SubStatusExpired = "expired"
	// SubStatusCancelled 已取消
	SubStatusCancelled = "cancelled"
)

// 优惠券类型常量
const (
	// CouponTypeCreditTopUp 充值赠送
	CouponTypeCreditTopUp = "credit_topup"
	// CouponTypeSubscriptionDiscount 订阅折扣
	CouponTypeSubscriptionDiscount = "subscription_discount"
	// CouponTypeFreeService 免费服务
	CouponTypeFreeService = "free_service"
	// CouponTypeWelcomeBonus 开户礼
	CouponTypeWelcomeBonus = "welcome_bonus"
)

// 优惠券状态常量
const (
	// CouponStatusActive 生效中
	CouponStatusActive = "active"
	// CouponStatusExpired 已过期
	CouponStatusExpired = "expired"
	// CouponStatusDisabled 已禁用
	CouponStatusDisabled = "disabled"
	// CouponStatusUsedUp 已用完
	CouponStatusUsedUp = "used_up"
)

// 支付网关结算结果常量
const (
	// SettlementOutcomeSuccess 支付成功
	SettlementOutcomeSuccess = "success"
	// SettlementOutcomeFailed 支付失败
	SettlementOutcomeFailed = "failed"
)

// 定时任务名称常量（RunJob 只接受这些名称）
const (
	// JobDailyRenewals 每日自动续费
	JobDailyRenewals = "daily-renewals"
	// JobGracePeriod 宽限期清扫
	JobGracePeriod = "grace-period"
	// JobLowCreditNotifications 低余额通知
	JobLowCreditNotifications = "low-credit-notifications"
	// JobGraceReminders 宽限期提醒
	JobGraceReminders = "grace-period-reminders"
	// JobBillingStats 计费统计快照
	JobBillingStats = "billing-stats"
)

// 通知类型常量
const (
	// NotifyKindLowCredit 余额不足提醒
	NotifyKindLowCredit = "low_credit"
	// NotifyKindGraceReminder 宽限期到期提醒
	NotifyKindGraceReminder = "grace_reminder"
	// NotifyKindExpired 订阅已过期
	NotifyKindExpired = "expired"
)

// 任务执行结果常量（用于指标）
const (
	// JobResultSuccess 成功
	JobResultSuccess = "success"
	// JobResultFailed 失败
	JobResultFailed = "failed"
	// JobResultSkipped 跳过（已有同名任务在执行）
	JobResultSkipped = "skipped"
)
