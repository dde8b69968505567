package biz

import (
	"context"
	"fmt"
	"time"

	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"
	"billing-engine/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Coupon 优惠券领域对象
type Coupon struct {
	ID              string
	Code            string
	Type            string
	Status          string
	CreditAmount    int64
	DiscountPercent int
	DiscountAmount  int64
	ServiceName     string
	MaxUses         int64
	UsedCount       int64
	MaxUsesPerUser  int64
	ValidFrom       time.Time
	ValidUntil      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CouponRedemption 核销记录
type CouponRedemption struct {
	ID             string
	CouponID       string
	UID            string
	CouponCode     string
	Value          int64
	LedgerEntryID  *string
	SubscriptionID *string
	CreatedAt      time.Time
}

// CouponValidation 校验结果（只读预检，不保证后续核销成功）
type CouponValidation struct {
	Valid          bool
	Reason         string
	CouponType     string
	PotentialValue int64
}

// Eligible 按固定顺序校验优惠券对指定用户是否可用，返回首个不通过的原因。
// 纯函数，核销事务内和预检接口共用同一套规则。
// userRedeemed 为该用户对本券的既有核销次数，serviceName 为目标服务（可为空）。
func (c *Coupon) Eligible(now time.Time, uid string, userRedeemed int64, serviceName string) error {
	if c.Status != constants.CouponStatusActive {
		return billingErrors.ErrCouponNotEligible(c.Code, fmt.Sprintf("coupon status is %s", c.Status))
	}
	if now.Before(c.ValidFrom) {
		return billingErrors.ErrCouponNotEligible(c.Code, "coupon is not yet valid")
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return billingErrors.ErrCouponNotEligible(c.Code, "coupon has expired")
	}
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return billingErrors.ErrCouponNotEligible(c.Code, "coupon usage limit reached")
	}
	if c.MaxUsesPerUser > 0 && userRedeemed >= c.MaxUsesPerUser {
		return billingErrors.ErrAlreadyRedeemed(c.Code, uid)
	}
	if c.ServiceName != "" && serviceName != "" && c.ServiceName != serviceName {
		return billingErrors.ErrCouponNotEligible(c.Code, fmt.Sprintf("coupon is limited to service %s", c.ServiceName))
	}
	return nil
}

// Value 计算该券的到账价值。referenceAmount 为折扣类券的参照金额（如套餐月费）。
func (c *Coupon) Value(referenceAmount int64) int64 {
	switch c.Type {
	case constants.CouponTypeCreditTopUp, constants.CouponTypeWelcomeBonus:
		return c.CreditAmount
	case constants.CouponTypeSubscriptionDiscount:
		if c.DiscountAmount > 0 {
			return c.DiscountAmount
		}
		if c.DiscountPercent > 0 && referenceAmount > 0 {
			return referenceAmount * int64(c.DiscountPercent) / 100
		}
		return 0
	case constants.CouponTypeFreeService:
		return referenceAmount
	default:
		return 0
	}
}

// CouponRepo 优惠券数据层接口
type CouponRepo interface {
	CreateCoupon(ctx context.Context, coupon *Coupon) error
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	Disable(ctx context.Context, code string) error
	CountUserRedemptions(ctx context.Context, couponID, uid string) (int64, error)

	// Redeem 在单个事务内完成：锁券行、复核资格、插入核销记录（唯一索引
	// 冲突翻译为 AlreadyRedeemed）、递增 used_count（触顶置 used_up）、入账
	Redeem(ctx context.Context, code, uid string, referenceAmount int64) (*CouponRedemption, error)
	ListRedemptions(ctx context.Context, uid string, page, pageSize int) ([]*CouponRedemption, int64, error)
	ListActiveWelcomeCoupons(ctx context.Context) ([]*Coupon, error)
	AttachSubscription(ctx context.Context, redemptionID, subscriptionID string) error
}

// CouponUseCase 优惠券业务逻辑
type CouponUseCase struct {
	repo    CouponRepo
	log     *log.Helper
	metrics *metrics.BillingMetrics
}

// NewCouponUseCase 创建优惠券 UseCase
func NewCouponUseCase(repo CouponRepo, logger log.Logger) *CouponUseCase {
	return &CouponUseCase{
		repo:    repo,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// CreateCoupon 创建优惠券（管理端）
func (uc *CouponUseCase) CreateCoupon(ctx context.Context, coupon *Coupon) error {
	if coupon.Code == "" {
		return billingErrors.ErrInvalidArgument("coupon code is required")
	}
	switch coupon.Type {
	case constants.CouponTypeCreditTopUp, constants.CouponTypeWelcomeBonus:
		if coupon.CreditAmount <= 0 {
			return billingErrors.ErrInvalidArgument("credit_amount must be positive")
		}
	case constants.CouponTypeSubscriptionDiscount:
		if coupon.DiscountAmount <= 0 && (coupon.DiscountPercent <= 0 || coupon.DiscountPercent > 100) {
			return billingErrors.ErrInvalidArgument("discount coupon requires discount_amount or discount_percent in (0,100]")
		}
	case constants.CouponTypeFreeService:
	default:
		return billingErrors.ErrInvalidArgument(fmt.Sprintf("unknown coupon type: %s", coupon.Type))
	}
	if coupon.Status == "" {
		coupon.Status = constants.CouponStatusActive
	}
	return uc.repo.CreateCoupon(ctx, coupon)
}

// DisableCoupon 停用优惠券
func (uc *CouponUseCase) DisableCoupon(ctx context.Context, code string) error {
	return uc.repo.Disable(ctx, code)
}

// GetCouponByCode 按兑换码查询
func (uc *CouponUseCase) GetCouponByCode(ctx context.Context, code string) (*Coupon, error) {
	coupon, err := uc.repo.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, billingErrors.ErrCouponNotFound(code)
	}
	return coupon, nil
}

// Validate 只读预检：不预占、不加锁，结果不构成核销承诺
func (uc *CouponUseCase) Validate(ctx context.Context, code, uid string, referenceAmount int64) (*CouponValidation, error) {
	coupon, err := uc.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	userRedeemed, err := uc.repo.CountUserRedemptions(ctx, coupon.ID, uid)
	if err != nil {
		return nil, err
	}
	if eligErr := coupon.Eligible(time.Now(), uid, userRedeemed, ""); eligErr != nil {
		return &CouponValidation{
			Valid:      false,
			Reason:     eligErr.Error(),
			CouponType: coupon.Type,
		}, nil
	}
	return &CouponValidation{
		Valid:          true,
		CouponType:     coupon.Type,
		PotentialValue: coupon.Value(referenceAmount),
	}, nil
}

// Redeem 核销优惠券，全部副作用在数据层单事务内完成
func (uc *CouponUseCase) Redeem(ctx context.Context, code, uid string, referenceAmount int64) (*CouponRedemption, error) {
	start := time.Now()
	redemption, err := uc.repo.Redeem(ctx, code, uid, referenceAmount)
	if uc.metrics != nil {
		result := constants.JobResultSuccess
		if err != nil {
			result = constants.JobResultFailed
		}
		uc.metrics.CouponRedeemTotal.WithLabelValues(result).Inc()
		uc.metrics.CouponRedeemDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	uc.log.Infof("Coupon redeemed: code=%s, uid=%s, value=%d", code, uid, redemption.Value)
	return redemption, nil
}

// ListRedemptions 查询用户核销历史
func (uc *CouponUseCase) ListRedemptions(ctx context.Context, uid string, page, pageSize int) ([]*CouponRedemption, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return uc.repo.ListRedemptions(ctx, uid, page, pageSize)
}

// ListActiveWelcomeCoupons 按创建时间升序返回所有可用的注册赠金券
func (uc *CouponUseCase) ListActiveWelcomeCoupons(ctx context.Context) ([]*Coupon, error) {
	return uc.repo.ListActiveWelcomeCoupons(ctx)
}

// AttachSubscription 将核销记录关联到订阅（折扣券购买路径）
func (uc *CouponUseCase) AttachSubscription(ctx context.Context, redemptionID, subscriptionID string) error {
	return uc.repo.AttachSubscription(ctx, redemptionID, subscriptionID)
}
