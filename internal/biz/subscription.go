package biz

import (
	"context"
	"time"

	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"
	"billing-engine/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// 续费结果
const (
	RenewalRenewed      = "renewed"       // 扣费成功，计费周期已推进
	RenewalCurrent      = "current"       // 未到期，本次为空操作
	RenewalGrace        = "grace"         // 余额不足，进入或停留在宽限期
	RenewalExpired      = "expired"       // 宽限期结束仍无法扣费，订阅已到期
	RenewalQuotaBlocked = "quota_blocked" // 套餐超容，跳过扣费，订阅保持活跃
)

// Subscription 订阅领域对象
type Subscription struct {
	ID               string
	UID              string
	PlanID           string
	Status           string
	AutoRenew        bool
	StartTime        time.Time
	EndTime          time.Time
	NextBilling      time.Time
	LastBilled       *time.Time
	LastChargeAmount int64
	FailedCharges    int
	GracePeriodEnd   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// InGrace 是否处于宽限期
func (s *Subscription) InGrace(now time.Time) bool {
	return s.Status == constants.SubStatusActive && s.GracePeriodEnd != nil && now.Before(*s.GracePeriodEnd)
}

// RenewalOutcome 单次续费尝试的结果
type RenewalOutcome struct {
	Result        string
	Recovered     bool // 本次扣费是否使订阅从宽限期恢复
	ChargedAmount int64
	Subscription  *Subscription
}

// SubscriptionRepo 订阅数据层接口。Purchase/Renew/Expire/Cancel 都是
// 完整事务：同一事务内锁订阅行、账户行和套餐行后再写入
type SubscriptionRepo interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	ListByUID(ctx context.Context, uid string) ([]*Subscription, error)

	// Purchase 锁套餐行分配容量、锁账户行扣费、创建订阅和流水
	Purchase(ctx context.Context, sub *Subscription, price int64) (*Subscription, error)

	// Renew 执行续费状态机：到期检查、容量检查、扣费或进入宽限期、
	// 宽限期结束则到期释放容量，全部在单事务内
	Renew(ctx context.Context, subscriptionID string, graceDays, periodMonths int, graceEnabled bool) (*RenewalOutcome, error)

	Expire(ctx context.Context, subscriptionID, reason string) (*Subscription, error)
	Cancel(ctx context.Context, subscriptionID, uid string) (*Subscription, error)
	SetAutoRenew(ctx context.Context, subscriptionID, uid string, autoRenew bool) error
	SetGracePeriodEnd(ctx context.Context, subscriptionID string, end time.Time) error

	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	ListGraceEnded(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	ListInGrace(ctx context.Context, now time.Time) ([]*Subscription, error)
	ListLowCreditCandidates(ctx context.Context, now, until time.Time) ([]*Subscription, error)
}

// SubscriptionUseCase 订阅业务逻辑
type SubscriptionUseCase struct {
	repo         SubscriptionRepo
	quotaUC      *QuotaUseCase
	couponUC     *CouponUseCase
	ledgerRepo   LedgerRepo
	provisioning ProvisioningClient
	notifier     NotificationSender
	conf         *BillingConfig
	log          *log.Helper
	metrics      *metrics.BillingMetrics
}

// NewSubscriptionUseCase 创建订阅 UseCase
func NewSubscriptionUseCase(
	repo SubscriptionRepo,
	quotaUC *QuotaUseCase,
	couponUC *CouponUseCase,
	ledgerRepo LedgerRepo,
	provisioning ProvisioningClient,
	notifier NotificationSender,
	conf *BillingConfig,
	logger log.Logger,
) *SubscriptionUseCase {
	return &SubscriptionUseCase{
		repo:         repo,
		quotaUC:      quotaUC,
		couponUC:     couponUC,
		ledgerRepo:   ledgerRepo,
		provisioning: provisioning,
		notifier:     notifier,
		conf:         conf,
		log:          log.NewHelper(logger),
		metrics:      metrics.GetMetrics(),
	}
}

// GetSubscription 获取订阅
func (uc *SubscriptionUseCase) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := uc.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, billingErrors.ErrSubscriptionNotFound(subscriptionID)
	}
	return sub, nil
}

// ListByUID 查询用户的订阅列表
func (uc *SubscriptionUseCase) ListByUID(ctx context.Context, uid string) ([]*Subscription, error) {
	return uc.repo.ListByUID(ctx, uid)
}

// Purchase 购买订阅。折扣券先核销入账，再按原价扣费，核销记录关联到新订阅
func (uc *SubscriptionUseCase) Purchase(ctx context.Context, uid, planID, couponCode string, autoRenew bool) (*Subscription, error) {
	plan, err := uc.quotaUC.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	var redemption *CouponRedemption
	if couponCode != "" {
		redemption, err = uc.couponUC.Redeem(ctx, couponCode, uid, plan.MonthlyPrice)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	end := now.AddDate(0, uc.conf.BillingPeriodMonths, 0)
	sub := &Subscription{
		UID:         uid,
		PlanID:      planID,
		Status:      constants.SubStatusActive,
		AutoRenew:   autoRenew,
		StartTime:   now,
		EndTime:     end,
		NextBilling: end,
	}
	created, err := uc.repo.Purchase(ctx, sub, plan.MonthlyPrice)
	if err != nil {
		return nil, err
	}

	if redemption != nil {
		if attachErr := uc.couponUC.AttachSubscription(ctx, redemption.ID, created.ID); attachErr != nil {
			uc.log.Warnf("Failed to attach redemption to subscription: redemption_id=%s, subscription_id=%s, error=%v",
				redemption.ID, created.ID, attachErr)
		}
	}
	uc.log.Infof("Subscription purchased: subscription_id=%s, uid=%s, plan_id=%s, price=%d",
		created.ID, uid, planID, plan.MonthlyPrice)
	return created, nil
}

// Renew 对单个订阅执行一次续费尝试。可重复调用：已续到未来计费日的
// 订阅返回 current 且无副作用
func (uc *SubscriptionUseCase) Renew(ctx context.Context, subscriptionID string) (*RenewalOutcome, error) {
	start := time.Now()
	outcome, err := uc.repo.Renew(ctx, subscriptionID, uc.conf.GraceDaysDefault, uc.conf.BillingPeriodMonths, uc.conf.GracePeriodEnabled)
	if uc.metrics != nil {
		uc.metrics.RenewalDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			uc.metrics.RenewalTotal.WithLabelValues(constants.JobResultFailed).Inc()
		} else {
			uc.metrics.RenewalTotal.WithLabelValues(outcome.Result).Inc()
			if outcome.Result == RenewalGrace {
				uc.metrics.GraceEntered.Inc()
			}
			if outcome.Recovered {
				uc.metrics.GraceRecovered.Inc()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	uc.afterRenewal(ctx, outcome)
	return outcome, nil
}

// afterRenewal 到期后的善后：回收实例、发通知，均为尽力而为
func (uc *SubscriptionUseCase) afterRenewal(ctx context.Context, outcome *RenewalOutcome) {
	if outcome.Result != RenewalExpired || outcome.Subscription == nil {
		return
	}
	sub := outcome.Subscription
	if uc.provisioning != nil {
		if err := uc.provisioning.TerminateInstances(ctx, sub.UID, sub.ID); err != nil {
			uc.log.Errorf("Failed to terminate instances for expired subscription: subscription_id=%s, error=%v", sub.ID, err)
		}
	}
	uc.notify(ctx, &NotificationEvent{
		UID:            sub.UID,
		SubscriptionID: sub.ID,
		Kind:           constants.NotifyKindExpired,
		Reason:         "grace period ended without successful payment",
	})
}

func (uc *SubscriptionUseCase) notify(ctx context.Context, event *NotificationEvent) {
	if uc.notifier == nil {
		return
	}
	err := uc.notifier.Send(ctx, event)
	if uc.metrics != nil {
		result := constants.JobResultSuccess
		if err != nil {
			result = constants.JobResultFailed
		}
		uc.metrics.NotifySendTotal.WithLabelValues(event.Kind, result).Inc()
	}
	if err != nil {
		uc.log.Warnf("Failed to send notification: uid=%s, kind=%s, error=%v", event.UID, event.Kind, err)
	}
}

// ProcessAutoRenewals 扫描所有到期且开启自动续费的活跃订阅并逐个续费。
// 单个订阅失败不中断批次
func (uc *SubscriptionUseCase) ProcessAutoRenewals(ctx context.Context) (*JobReport, error) {
	subs, err := uc.repo.ListDueSubscriptions(ctx, time.Now(), 1000)
	if err != nil {
		return nil, err
	}
	report := &JobReport{}
	for _, sub := range subs {
		report.Processed++
		outcome, renewErr := uc.Renew(ctx, sub.ID)
		if renewErr != nil {
			report.fail(sub.ID, renewErr)
			continue
		}
		report.Successful++
		if outcome.Result == RenewalGrace {
			uc.log.Infof("Subscription entered grace period: subscription_id=%s, uid=%s, grace_end=%v",
				sub.ID, sub.UID, outcome.Subscription.GracePeriodEnd)
		}
	}
	return report, nil
}

// ProcessGracePeriodSubscriptions 扫描宽限期已结束的订阅：再试一次扣费，
// 成功则恢复，失败则到期并回收资源
func (uc *SubscriptionUseCase) ProcessGracePeriodSubscriptions(ctx context.Context) (*JobReport, error) {
	subs, err := uc.repo.ListGraceEnded(ctx, time.Now(), 1000)
	if err != nil {
		return nil, err
	}
	report := &JobReport{}
	for _, sub := range subs {
		report.Processed++
		outcome, renewErr := uc.Renew(ctx, sub.ID)
		if renewErr != nil {
			report.fail(sub.ID, renewErr)
			continue
		}
		report.Successful++
		if outcome.Recovered {
			uc.log.Infof("Subscription recovered from grace period: subscription_id=%s, uid=%s", sub.ID, sub.UID)
		}
	}
	return report, nil
}

// SendGraceReminders 给宽限期内且即将结束的订阅用户发提醒
func (uc *SubscriptionUseCase) SendGraceReminders(ctx context.Context) (*JobReport, error) {
	now := time.Now()
	subs, err := uc.repo.ListInGrace(ctx, now)
	if err != nil {
		return nil, err
	}
	report := &JobReport{}
	deadline := now.AddDate(0, 0, uc.conf.GraceReminderDays)
	for _, sub := range subs {
		if sub.GracePeriodEnd == nil || sub.GracePeriodEnd.After(deadline) {
			continue
		}
		report.Processed++
		days := int(time.Until(*sub.GracePeriodEnd).Hours() / 24)
		if days < 0 {
			days = 0
		}
		uc.notify(ctx, &NotificationEvent{
			UID:            sub.UID,
			SubscriptionID: sub.ID,
			Kind:           constants.NotifyKindGraceReminder,
			DaysRemaining:  days,
		})
		report.Successful++
	}
	return report, nil
}

// SendLowCreditNotifications 给即将续费但余额不足的用户发低余额提醒
func (uc *SubscriptionUseCase) SendLowCreditNotifications(ctx context.Context) (*JobReport, error) {
	now := time.Now()
	until := now.AddDate(0, 0, uc.conf.LowCreditLookaheadDays)
	subs, err := uc.repo.ListLowCreditCandidates(ctx, now, until)
	if err != nil {
		return nil, err
	}
	report := &JobReport{}
	for _, sub := range subs {
		account, accErr := uc.ledgerRepo.GetAccount(ctx, sub.UID)
		if accErr != nil {
			report.Processed++
			report.fail(sub.ID, accErr)
			continue
		}
		if account == nil {
			continue
		}
		plan, planErr := uc.quotaUC.GetPlan(ctx, sub.PlanID)
		if planErr != nil {
			report.Processed++
			report.fail(sub.ID, planErr)
			continue
		}
		if account.Balance >= plan.MonthlyPrice {
			continue
		}
		report.Processed++
		days := int(time.Until(sub.NextBilling).Hours() / 24)
		if days < 0 {
			days = 0
		}
		uc.notify(ctx, &NotificationEvent{
			UID:            sub.UID,
			SubscriptionID: sub.ID,
			Kind:           constants.NotifyKindLowCredit,
			DaysRemaining:  days,
		})
		report.Successful++
	}
	return report, nil
}

// ExpireSubscription 管理端强制到期
func (uc *SubscriptionUseCase) ExpireSubscription(ctx context.Context, subscriptionID, reason string) (*Subscription, error) {
	sub, err := uc.repo.Expire(ctx, subscriptionID, reason)
	if err != nil {
		return nil, err
	}
	uc.afterRenewal(ctx, &RenewalOutcome{Result: RenewalExpired, Subscription: sub})
	return sub, nil
}

// Cancel 用户主动取消订阅，立即生效并释放套餐容量，已付费用不退
func (uc *SubscriptionUseCase) Cancel(ctx context.Context, subscriptionID, uid string) (*Subscription, error) {
	sub, err := uc.repo.Cancel(ctx, subscriptionID, uid)
	if err != nil {
		return nil, err
	}
	uc.log.Infof("Subscription cancelled: subscription_id=%s, uid=%s", subscriptionID, uid)
	return sub, nil
}

// SetAutoRenew 开关自动续费
func (uc *SubscriptionUseCase) SetAutoRenew(ctx context.Context, subscriptionID, uid string, autoRenew bool) error {
	return uc.repo.SetAutoRenew(ctx, subscriptionID, uid, autoRenew)
}

// SetGracePeriod 管理端调整订阅的宽限期长度，天数必须在允许区间内
func (uc *SubscriptionUseCase) SetGracePeriod(ctx context.Context, subscriptionID string, days int) (*Subscription, error) {
	if !uc.conf.ValidGraceDays(days) {
		return nil, billingErrors.ErrInvalidArgument("grace days out of allowed range")
	}
	sub, err := uc.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.GracePeriodEnd == nil {
		return nil, billingErrors.ErrInvalidArgument("subscription is not in grace period")
	}
	end := sub.NextBilling.AddDate(0, 0, days)
	if err := uc.repo.SetGracePeriodEnd(ctx, subscriptionID, end); err != nil {
		return nil, err
	}
	sub.GracePeriodEnd = &end
	return sub, nil
}
