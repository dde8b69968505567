package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-engine/internal/biz"
	"billing-engine/internal/constants"
	"billing-engine/internal/data/model"
	billingErrors "billing-engine/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// subscriptionRepo 订阅数据访问
type subscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRepo 创建订阅 repo（返回 biz.SubscriptionRepo 接口）
func NewSubscriptionRepo(data *Data, logger log.Logger) biz.SubscriptionRepo {
	return &subscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetSubscription 获取订阅，不存在时返回 (nil, nil)
func (r *subscriptionRepo) GetSubscription(ctx context.Context, subscriptionID string) (*biz.Subscription, error) {
	var m model.Subscription
	if err := r.data.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizSubscription(&m), nil
}

// ListByUID 查询用户订阅列表
func (r *subscriptionRepo) ListByUID(ctx context.Context, uid string) ([]*biz.Subscription, error) {
	var ms []model.Subscription
	if err := r.data.db.WithContext(ctx).Where("uid = ?", uid).
		Order("created_at DESC").Find(&ms).Error; err != nil {
		return nil, err
	}
	return toBizSubscriptions(ms), nil
}

// Purchase 购买订阅。单事务内：锁套餐行分配容量、锁账户行扣费、
// 建订阅行、写流水。购买无宽限期，余额不足直接失败回滚
func (r *subscriptionRepo) Purchase(ctx context.Context, sub *biz.Subscription, price int64) (*biz.Subscription, error) {
	var created *biz.Subscription
	var newBalance int64
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := lockPlan(tx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan.UsedQuota+1 > plan.TotalQuota {
			return billingErrors.ErrQuotaExceeded(plan.PlanID, plan.UsedQuota, plan.TotalQuota)
		}

		account, err := lockAccount(tx, sub.UID, false)
		if err != nil {
			return err
		}
		if account == nil {
			return billingErrors.ErrAccountNotFound(sub.UID)
		}
		if account.Balance < price {
			return billingErrors.ErrInsufficientCredit(sub.UID, account.Balance, price)
		}

		if err := tx.Model(plan).Update("used_quota", gorm.Expr("used_quota + 1")).Error; err != nil {
			return err
		}
		if err := tx.Model(account).Updates(map[string]interface{}{
			"balance":     gorm.Expr("balance - ?", price),
			"total_spent": gorm.Expr("total_spent + ?", price),
		}).Error; err != nil {
			return err
		}
		newBalance = account.Balance - price

		m := model.Subscription{
			SubscriptionID:   uuid.New().String(),
			UID:              sub.UID,
			PlanID:           sub.PlanID,
			Status:           constants.SubStatusActive,
			AutoRenew:        sub.AutoRenew,
			StartTime:        sub.StartTime,
			EndTime:          sub.EndTime,
			NextBilling:      sub.NextBilling,
			LastBilled:       &sub.StartTime,
			LastChargeAmount: price,
		}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}

		if _, err := insertEntry(tx, &biz.LedgerEntry{
			UID:           sub.UID,
			Type:          constants.EntryTypeSubscription,
			Amount:        price,
			BalanceBefore: account.Balance,
			BalanceAfter:  newBalance,
			Status:        constants.EntryStatusCompleted,
			Description:   fmt.Sprintf("subscription purchase: %s", plan.Name),
			Metadata: map[string]string{
				"subscription_id": m.SubscriptionID,
				"plan_id":         plan.PlanID,
			},
		}); err != nil {
			return err
		}

		created = toBizSubscription(&m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.updateBalanceCache(sub.UID, newBalance)
	return created, nil
}

// Renew 续费状态机，全部分支在单事务内完成：
//
//	未到计费日           -> current（无写入，幂等）
//	套餐超容             -> quota_blocked（无写入，订阅保持活跃）
//	余额充足             -> renewed（扣费、推进计费周期、清宽限期）
//	余额不足且未入宽限期 -> grace（设置 grace_period_end）
//	余额不足且宽限期未过 -> grace（failed_charges 递增）
//	余额不足且宽限期已过 -> expired（到期并释放套餐容量）
func (r *subscriptionRepo) Renew(ctx context.Context, subscriptionID string, graceDays, periodMonths int, graceEnabled bool) (*biz.RenewalOutcome, error) {
	var outcome *biz.RenewalOutcome
	var newBalance int64
	var balanceChanged bool
	var uid string

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Subscription
		err := withRowLock(tx).
			Where("subscription_id = ?", subscriptionID).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billingErrors.ErrSubscriptionNotFound(subscriptionID)
			}
			return err
		}

		now := time.Now()
		// 非活跃订阅和未到期订阅的续费请求都是无害的空操作
		if m.Status != constants.SubStatusActive || m.NextBilling.After(now) {
			outcome = &biz.RenewalOutcome{Result: biz.RenewalCurrent, Subscription: toBizSubscription(&m)}
			return nil
		}

		plan, err := lockPlan(tx, m.PlanID)
		if err != nil {
			return err
		}
		// 容量被管理端调到已用量之下时暂停该套餐的续费扣费
		if plan.UsedQuota > plan.TotalQuota {
			outcome = &biz.RenewalOutcome{Result: biz.RenewalQuotaBlocked, Subscription: toBizSubscription(&m)}
			return nil
		}

		price := plan.MonthlyPrice
		wasGrace := m.GracePeriodEnd != nil

		account, err := lockAccount(tx, m.UID, false)
		if err != nil {
			return err
		}

		if account != nil && account.Balance >= price {
			return r.chargeRenewal(tx, &m, plan, account, price, periodMonths, wasGrace, now,
				func(o *biz.RenewalOutcome, balance int64) {
					outcome = o
					newBalance = balance
					balanceChanged = true
					uid = m.UID
				})
		}

		// 余额不足
		if !graceEnabled {
			sub, err := expireLocked(tx, &m, plan)
			if err != nil {
				return err
			}
			outcome = &biz.RenewalOutcome{Result: biz.RenewalExpired, Subscription: sub}
			return nil
		}
		if wasGrace && !now.Before(*m.GracePeriodEnd) {
			sub, err := expireLocked(tx, &m, plan)
			if err != nil {
				return err
			}
			outcome = &biz.RenewalOutcome{Result: biz.RenewalExpired, Subscription: sub}
			return nil
		}

		updates := map[string]interface{}{
			"failed_charges": gorm.Expr("failed_charges + 1"),
		}
		if !wasGrace {
			graceEnd := now.AddDate(0, 0, graceDays)
			updates["grace_period_end"] = &graceEnd
			m.GracePeriodEnd = &graceEnd
		}
		if err := tx.Model(&m).Updates(updates).Error; err != nil {
			return err
		}
		m.FailedCharges++
		outcome = &biz.RenewalOutcome{Result: biz.RenewalGrace, Subscription: toBizSubscription(&m)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if balanceChanged {
		r.updateBalanceCache(uid, newBalance)
	}
	return outcome, nil
}

// chargeRenewal 扣费并推进计费周期，与 Renew 同事务
func (r *subscriptionRepo) chargeRenewal(
	tx *gorm.DB,
	m *model.Subscription,
	plan *model.Plan,
	account *model.Account,
	price int64,
	periodMonths int,
	wasGrace bool,
	now time.Time,
	commit func(*biz.RenewalOutcome, int64),
) error {
	if err := tx.Model(account).Updates(map[string]interface{}{
		"balance":     gorm.Expr("balance - ?", price),
		"total_spent": gorm.Expr("total_spent + ?", price),
	}).Error; err != nil {
		return err
	}
	newBalance := account.Balance - price

	nextBilling := m.NextBilling.AddDate(0, periodMonths, 0)
	// 长期欠费后恢复时从当前时间起新周期，避免连环补扣
	if !nextBilling.After(now) {
		nextBilling = now.AddDate(0, periodMonths, 0)
	}
	updates := map[string]interface{}{
		"next_billing":       nextBilling,
		"end_time":           nextBilling,
		"last_billed":        &now,
		"last_charge_amount": price,
		"failed_charges":     0,
		"grace_period_end":   nil,
	}
	if err := tx.Model(m).Updates(updates).Error; err != nil {
		return err
	}

	if _, err := insertEntry(tx, &biz.LedgerEntry{
		UID:           m.UID,
		Type:          constants.EntryTypeSubscription,
		Amount:        price,
		BalanceBefore: account.Balance,
		BalanceAfter:  newBalance,
		Status:        constants.EntryStatusCompleted,
		Description:   fmt.Sprintf("subscription renewal: %s", plan.Name),
		Metadata: map[string]string{
			"subscription_id": m.SubscriptionID,
			"plan_id":         plan.PlanID,
		},
	}); err != nil {
		return err
	}

	m.NextBilling = nextBilling
	m.EndTime = nextBilling
	m.LastBilled = &now
	m.LastChargeAmount = price
	m.FailedCharges = 0
	m.GracePeriodEnd = nil
	commit(&biz.RenewalOutcome{
		Result:        biz.RenewalRenewed,
		Recovered:     wasGrace,
		ChargedAmount: price,
		Subscription:  toBizSubscription(m),
	}, newBalance)
	return nil
}

// expireLocked 订阅到期：改状态、关自动续费并释放套餐容量，调用方已持有两把行锁
func expireLocked(tx *gorm.DB, m *model.Subscription, plan *model.Plan) (*biz.Subscription, error) {
	if err := tx.Model(m).Updates(map[string]interface{}{
		"status":           constants.SubStatusExpired,
		"auto_renew":       false,
		"grace_period_end": nil,
	}).Error; err != nil {
		return nil, err
	}
	if plan.UsedQuota > 0 {
		if err := tx.Model(plan).Update("used_quota", gorm.Expr("used_quota - 1")).Error; err != nil {
			return nil, err
		}
	}
	m.Status = constants.SubStatusExpired
	m.AutoRenew = false
	m.GracePeriodEnd = nil
	return toBizSubscription(m), nil
}

// Expire 强制到期（幂等：已到期/已取消直接返回现状）
func (r *subscriptionRepo) Expire(ctx context.Context, subscriptionID, reason string) (*biz.Subscription, error) {
	var sub *biz.Subscription
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Subscription
		err := withRowLock(tx).
			Where("subscription_id = ?", subscriptionID).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billingErrors.ErrSubscriptionNotFound(subscriptionID)
			}
			return err
		}
		if m.Status != constants.SubStatusActive {
			sub = toBizSubscription(&m)
			return nil
		}
		plan, err := lockPlan(tx, m.PlanID)
		if err != nil {
			return err
		}
		sub, err = expireLocked(tx, &m, plan)
		if err != nil {
			return err
		}
		r.log.Infof("Subscription expired: subscription_id=%s, reason=%s", subscriptionID, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel 用户取消订阅：改状态、关自动续费、释放套餐容量
func (r *subscriptionRepo) Cancel(ctx context.Context, subscriptionID, uid string) (*biz.Subscription, error) {
	var sub *biz.Subscription
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Subscription
		err := withRowLock(tx).
			Where("subscription_id = ? AND uid = ?", subscriptionID, uid).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billingErrors.ErrSubscriptionNotFound(subscriptionID)
			}
			return err
		}
		if m.Status != constants.SubStatusActive {
			return billingErrors.ErrInvalidArgument("subscription is not active")
		}
		plan, err := lockPlan(tx, m.PlanID)
		if err != nil {
			return err
		}
		if err := tx.Model(&m).Updates(map[string]interface{}{
			"status":           constants.SubStatusCancelled,
			"auto_renew":       false,
			"grace_period_end": nil,
		}).Error; err != nil {
			return err
		}
		if plan.UsedQuota > 0 {
			if err := tx.Model(plan).Update("used_quota", gorm.Expr("used_quota - 1")).Error; err != nil {
				return err
			}
		}
		m.Status = constants.SubStatusCancelled
		m.AutoRenew = false
		m.GracePeriodEnd = nil
		sub = toBizSubscription(&m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SetAutoRenew 开关自动续费
func (r *subscriptionRepo) SetAutoRenew(ctx context.Context, subscriptionID, uid string, autoRenew bool) error {
	result := r.data.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("subscription_id = ? AND uid = ?", subscriptionID, uid).
		Update("auto_renew", autoRenew)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingErrors.ErrSubscriptionNotFound(subscriptionID)
	}
	return nil
}

// SetGracePeriodEnd 调整宽限期截止时间
func (r *subscriptionRepo) SetGracePeriodEnd(ctx context.Context, subscriptionID string, end time.Time) error {
	result := r.data.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("subscription_id = ?", subscriptionID).
		Update("grace_period_end", &end)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingErrors.ErrSubscriptionNotFound(subscriptionID)
	}
	return nil
}

// ListDueSubscriptions 到期待续费的活跃订阅（宽限期内的由宽限期任务处理）
func (r *subscriptionRepo) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*biz.Subscription, error) {
	var ms []model.Subscription
	err := r.data.db.WithContext(ctx).
		Where("status = ? AND auto_renew = ? AND next_billing <= ? AND grace_period_end IS NULL",
			constants.SubStatusActive, true, now).
		Order("next_billing ASC").Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toBizSubscriptions(ms), nil
}

// ListGraceEnded 宽限期已结束的订阅
func (r *subscriptionRepo) ListGraceEnded(ctx context.Context, now time.Time, limit int) ([]*biz.Subscription, error) {
	var ms []model.Subscription
	err := r.data.db.WithContext(ctx).
		Where("status = ? AND grace_period_end IS NOT NULL AND grace_period_end <= ?",
			constants.SubStatusActive, now).
		Order("grace_period_end ASC").Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toBizSubscriptions(ms), nil
}

// ListInGrace 宽限期内的订阅
func (r *subscriptionRepo) ListInGrace(ctx context.Context, now time.Time) ([]*biz.Subscription, error) {
	var ms []model.Subscription
	err := r.data.db.WithContext(ctx).
		Where("status = ? AND grace_period_end IS NOT NULL AND grace_period_end > ?",
			constants.SubStatusActive, now).
		Order("grace_period_end ASC").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toBizSubscriptions(ms), nil
}

// ListLowCreditCandidates 即将续费的活跃订阅（余额校验在业务层）
func (r *subscriptionRepo) ListLowCreditCandidates(ctx context.Context, now, until time.Time) ([]*biz.Subscription, error) {
	var ms []model.Subscription
	err := r.data.db.WithContext(ctx).
		Where("status = ? AND auto_renew = ? AND grace_period_end IS NULL AND next_billing > ? AND next_billing <= ?",
			constants.SubStatusActive, true, now, until).
		Order("next_billing ASC").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toBizSubscriptions(ms), nil
}

func (r *subscriptionRepo) updateBalanceCache(uid string, balance int64) {
	if r.data.rdb == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	key := fmt.Sprintf("%s%s", constants.RedisKeyBalance, uid)
	if err := r.data.rdb.Set(cacheCtx, key, balance, 5*time.Minute).Err(); err != nil {
		r.log.Warnf("failed to update balance cache after renewal: uid=%s, error=%v", uid, err)
	}
}

func toBizSubscription(m *model.Subscription) *biz.Subscription {
	return &biz.Subscription{
		ID:               m.SubscriptionID,
		UID:              m.UID,
		PlanID:           m.PlanID,
		Status:           m.Status,
		AutoRenew:        m.AutoRenew,
		StartTime:        m.StartTime,
		EndTime:          m.EndTime,
		NextBilling:      m.NextBilling,
		LastBilled:       m.LastBilled,
		LastChargeAmount: m.LastChargeAmount,
		FailedCharges:    m.FailedCharges,
		GracePeriodEnd:   m.GracePeriodEnd,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toBizSubscriptions(ms []model.Subscription) []*biz.Subscription {
	subs := make([]*biz.Subscription, 0, len(ms))
	for i := range ms {
		subs = append(subs, toBizSubscription(&ms[i]))
	}
	return subs
}
