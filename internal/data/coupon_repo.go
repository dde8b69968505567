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

// couponRepo 优惠券数据访问
type couponRepo struct {
	data *Data
	log  *log.Helper
}

// NewCouponRepo 创建优惠券 repo（返回 biz.CouponRepo 接口）
func NewCouponRepo(data *Data, logger log.Logger) biz.CouponRepo {
	return &couponRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateCoupon 创建优惠券，code 冲突时报参数错误
func (r *couponRepo) CreateCoupon(ctx context.Context, coupon *biz.Coupon) error {
	m := model.Coupon{
		CouponID:        uuid.New().String(),
		Code:            coupon.Code,
		Type:            coupon.Type,
		Status:          coupon.Status,
		CreditAmount:    coupon.CreditAmount,
		DiscountPercent: coupon.DiscountPercent,
		DiscountAmount:  coupon.DiscountAmount,
		ServiceName:     coupon.ServiceName,
		MaxUses:         int(coupon.MaxUses),
		MaxUsesPerUser:  int(coupon.MaxUsesPerUser),
		ValidFrom:       coupon.ValidFrom,
		ValidUntil:      coupon.ValidUntil,
	}
	if m.MaxUses <= 0 {
		m.MaxUses = 1
	}
	if m.MaxUsesPerUser <= 0 {
		m.MaxUsesPerUser = 1
	}
	if m.ValidFrom.IsZero() {
		m.ValidFrom = time.Now()
	}
	if err := r.data.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDuplicateKey(err) {
			return billingErrors.ErrInvalidArgument(fmt.Sprintf("coupon code already exists: %s", coupon.Code))
		}
		return err
	}
	coupon.ID = m.CouponID
	return nil
}

// GetCouponByCode 按兑换码查询，不存在时返回 (nil, nil)
func (r *couponRepo) GetCouponByCode(ctx context.Context, code string) (*biz.Coupon, error) {
	var m model.Coupon
	if err := r.data.db.WithContext(ctx).Where("code = ?", code).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizCoupon(&m), nil
}

// Disable 停用优惠券
func (r *couponRepo) Disable(ctx context.Context, code string) error {
	result := r.data.db.WithContext(ctx).Model(&model.Coupon{}).
		Where("code = ?", code).
		Update("status", constants.CouponStatusDisabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingErrors.ErrCouponNotFound(code)
	}
	return nil
}

// CountUserRedemptions 统计用户对某券的既有核销次数
func (r *couponRepo) CountUserRedemptions(ctx context.Context, couponID, uid string) (int64, error) {
	var count int64
	err := r.data.db.WithContext(ctx).Model(&model.CouponRedemption{}).
		Where("coupon_id = ? AND uid = ?", couponID, uid).
		Count(&count).Error
	return count, err
}

// Redeem 兑换优惠券。单事务内：锁券行、复核资格、插入核销记录、
// 递增 used_count、入账。并发兑换由 (coupon_id, uid) 唯一索引兜底，
// 冲突翻译为 AlreadyRedeemed；超发由锁内的 used_count 复核拦截
func (r *couponRepo) Redeem(ctx context.Context, code, uid string, referenceAmount int64) (*biz.CouponRedemption, error) {
	var redemption *biz.CouponRedemption
	var newBalance int64
	var balanceChanged bool

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Coupon
		err := withRowLock(tx).
			Where("code = ?", code).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billingErrors.ErrCouponNotFound(code)
			}
			return err
		}

		var userRedeemed int64
		if err := tx.Model(&model.CouponRedemption{}).
			Where("coupon_id = ? AND uid = ?", m.CouponID, uid).
			Count(&userRedeemed).Error; err != nil {
			return err
		}

		coupon := toBizCoupon(&m)
		if err := coupon.Eligible(time.Now(), uid, userRedeemed, ""); err != nil {
			return err
		}
		value := coupon.Value(referenceAmount)

		rm := model.CouponRedemption{
			CouponRedemptionID: uuid.New().String(),
			CouponID:           m.CouponID,
			UID:                uid,
			CouponCode:         m.Code,
			Value:              value,
		}
		if err := tx.Create(&rm).Error; err != nil {
			if isDuplicateKey(err) {
				return billingErrors.ErrAlreadyRedeemed(code, uid)
			}
			return err
		}

		updates := map[string]interface{}{
			"used_count": gorm.Expr("used_count + 1"),
		}
		if m.UsedCount+1 >= m.MaxUses {
			updates["status"] = constants.CouponStatusUsedUp
		}
		if err := tx.Model(&m).Updates(updates).Error; err != nil {
			return err
		}

		// 入账与核销同事务：任一失败整体回滚
		if value > 0 {
			account, err := lockAccount(tx, uid, true)
			if err != nil {
				return err
			}
			if err := tx.Model(account).Update("balance", gorm.Expr("balance + ?", value)).Error; err != nil {
				return err
			}
			newBalance = account.Balance + value
			balanceChanged = true

			entry, err := insertEntry(tx, &biz.LedgerEntry{
				UID:           uid,
				Type:          constants.EntryTypeCouponRedemption,
				Amount:        value,
				BalanceBefore: account.Balance,
				BalanceAfter:  newBalance,
				Status:        constants.EntryStatusCompleted,
				Description:   fmt.Sprintf("coupon redemption: %s", code),
				Metadata:      map[string]string{"coupon_code": code, "coupon_type": m.Type},
			})
			if err != nil {
				return err
			}
			if err := tx.Model(&rm).Update("ledger_entry_id", entry.ID).Error; err != nil {
				return err
			}
			rm.LedgerEntryID = &entry.ID
		}

		redemption = toBizRedemption(&rm)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if balanceChanged {
		r.updateBalanceCache(uid, newBalance)
	}
	return redemption, nil
}

func (r *couponRepo) updateBalanceCache(uid string, balance int64) {
	if r.data.rdb == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	key := fmt.Sprintf("%s%s", constants.RedisKeyBalance, uid)
	if err := r.data.rdb.Set(cacheCtx, key, balance, 5*time.Minute).Err(); err != nil {
		r.log.Warnf("failed to update balance cache after redemption: uid=%s, error=%v", uid, err)
	}
}

// ListRedemptions 按创建时间倒序分页查询用户核销记录
func (r *couponRepo) ListRedemptions(ctx context.Context, uid string, page, pageSize int) ([]*biz.CouponRedemption, int64, error) {
	var total int64
	query := r.data.db.WithContext(ctx).Model(&model.CouponRedemption{}).Where("uid = ?", uid)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []model.CouponRedemption
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	redemptions := make([]*biz.CouponRedemption, 0, len(ms))
	for i := range ms {
		redemptions = append(redemptions, toBizRedemption(&ms[i]))
	}
	return redemptions, total, nil
}

// ListActiveWelcomeCoupons 按创建时间升序返回当前有效的开户礼券
func (r *couponRepo) ListActiveWelcomeCoupons(ctx context.Context) ([]*biz.Coupon, error) {
	now := time.Now()
	var ms []model.Coupon
	err := r.data.db.WithContext(ctx).
		Where("type = ? AND status = ? AND valid_from <= ?",
			constants.CouponTypeWelcomeBonus, constants.CouponStatusActive, now).
		Where("valid_until IS NULL OR valid_until > ?", now).
		Order("created_at ASC").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	coupons := make([]*biz.Coupon, 0, len(ms))
	for i := range ms {
		coupons = append(coupons, toBizCoupon(&ms[i]))
	}
	return coupons, nil
}

// AttachSubscription 将核销记录关联到订阅
func (r *couponRepo) AttachSubscription(ctx context.Context, redemptionID, subscriptionID string) error {
	result := r.data.db.WithContext(ctx).Model(&model.CouponRedemption{}).
		Where("coupon_redemption_id = ?", redemptionID).
		Update("subscription_id", subscriptionID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingErrors.ErrInvalidArgument(fmt.Sprintf("redemption not found: %s", redemptionID))
	}
	return nil
}

func toBizCoupon(m *model.Coupon) *biz.Coupon {
	return &biz.Coupon{
		ID:              m.CouponID,
		Code:            m.Code,
		Type:            m.Type,
		Status:          m.Status,
		CreditAmount:    m.CreditAmount,
		DiscountPercent: m.DiscountPercent,
		DiscountAmount:  m.DiscountAmount,
		ServiceName:     m.ServiceName,
		MaxUses:         int64(m.MaxUses),
		UsedCount:       int64(m.UsedCount),
		MaxUsesPerUser:  int64(m.MaxUsesPerUser),
		ValidFrom:       m.ValidFrom,
		ValidUntil:      m.ValidUntil,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toBizRedemption(m *model.CouponRedemption) *biz.CouponRedemption {
	return &biz.CouponRedemption{
		ID:             m.CouponRedemptionID,
		CouponID:       m.CouponID,
		UID:            m.UID,
		CouponCode:     m.CouponCode,
		Value:          m.Value,
		LedgerEntryID:  m.LedgerEntryID,
		SubscriptionID: m.SubscriptionID,
		CreatedAt:      m.CreatedAt,
	}
}
