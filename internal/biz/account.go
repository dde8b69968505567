package biz

import (
	"context"

	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// WelcomeBonusResult 单张开户礼券的发放结果
// 发放失败不阻断开户，结果返回给调用方并记录日志
type WelcomeBonusResult struct {
	CouponCode string
	Granted    int64
	Err        error
}

// AccountUseCase 账户业务逻辑
type AccountUseCase struct {
	repo     LedgerRepo
	couponUC *CouponUseCase
	conf     *BillingConfig
	log      *log.Helper
}

// NewAccountUseCase 创建账户 UseCase
func NewAccountUseCase(repo LedgerRepo, couponUC *CouponUseCase, conf *BillingConfig, logger log.Logger) *AccountUseCase {
	return &AccountUseCase{
		repo:     repo,
		couponUC: couponUC,
		conf:     conf,
		log:      log.NewHelper(logger),
	}
}

// CreateAccount 开户
// 开户成功后按创建时间升序发放所有当前可用的 welcome_bonus 优惠券，
// 单张失败只记录不中断，也不向调用方返回错误
func (uc *AccountUseCase) CreateAccount(ctx context.Context, uid string) (*Account, []*WelcomeBonusResult, error) {
	if uid == "" {
		return nil, nil, billingErrors.ErrInvalidArgument("uid is required")
	}

	existing, err := uc.repo.GetAccount(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return existing, nil, nil
	}

	account := &Account{UID: uid}
	if err := uc.repo.CreateAccount(ctx, account); err != nil {
		return nil, nil, err
	}

	var bonuses []*WelcomeBonusResult
	if uc.conf.WelcomeBonusEnabled {
		bonuses = uc.applyWelcomeBonuses(ctx, uid)
	}

	return account, bonuses, nil
}

// GetAccount 获取账户
func (uc *AccountUseCase) GetAccount(ctx context.Context, uid string) (*Account, error) {
	account, err := uc.repo.GetAccount(ctx, uid)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, billingErrors.ErrAccountNotFound(uid)
	}
	return account, nil
}

// AdminAdjust 管理员调账
// delta 为正入账、为负扣款；唯一允许把余额调成负数的路径
func (uc *AccountUseCase) AdminAdjust(ctx context.Context, uid string, delta int64, description string) (*LedgerEntry, error) {
	if delta == 0 {
		return nil, billingErrors.ErrInvalidArgument("delta must be non-zero")
	}
	metadata := map[string]string{"source": "admin"}
	if delta > 0 {
		return uc.repo.AddCredit(ctx, uid, delta, constants.EntryTypeAdminAdjustment, description, metadata)
	}
	return uc.repo.DeductCredit(ctx, uid, -delta, constants.EntryTypeAdminAdjustment, description, metadata, true)
}

// applyWelcomeBonuses 发放所有可用的开户礼券（尽力而为）
func (uc *AccountUseCase) applyWelcomeBonuses(ctx context.Context, uid string) []*WelcomeBonusResult {
	coupons, err := uc.couponUC.ListActiveWelcomeCoupons(ctx)
	if err != nil {
		uc.log.Warnf("List welcome coupons failed for uid=%s: %v", uid, err)
		return nil
	}

	results := make([]*WelcomeBonusResult, 0, len(coupons))
	for _, coupon := range coupons {
		res := &WelcomeBonusResult{CouponCode: coupon.Code}
		redemption, err := uc.couponUC.Redeem(ctx, coupon.Code, uid, 0)
		if err != nil {
			res.Err = err
			uc.log.Warnf("Welcome bonus failed: uid=%s, code=%s, error=%v", uid, coupon.Code, err)
		} else {
			res.Granted = redemption.Value
		}
		results = append(results, res)
	}
	return results
}
