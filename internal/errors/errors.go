package errors

import (
	"fmt"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Billing Engine 领域错误定义
// 统一通过 kratos errors 构造，reason 为稳定的错误标识，
// 业务层通过 IsXxx 谓词分支（续费状态机、MQ 消费者依赖 reason 匹配）。
//
// reason 划分：
//   *_NOT_FOUND:            资源不存在
//   INSUFFICIENT_CREDIT:    余额不足
//   QUOTA_EXCEEDED:         配额不足
//   INVALID_QUOTA_BOUND:    配额上限非法（小于已用量）
//   ALREADY_REDEEMED:       优惠券重复兑换
//   COUPON_NOT_ELIGIBLE:    优惠券不可用（过期/禁用/用完/服务不匹配）
//   UNKNOWN_JOB:            未知任务名
//   EXTERNAL_UNAVAILABLE:   外部协作方不可用
const (
	ReasonAccountNotFound      = "ACCOUNT_NOT_FOUND"
	ReasonPlanNotFound         = "PLAN_NOT_FOUND"
	ReasonSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ReasonCouponNotFound       = "COUPON_NOT_FOUND"
	ReasonEntryNotFound        = "LEDGER_ENTRY_NOT_FOUND"
	ReasonInsufficientCredit   = "INSUFFICIENT_CREDIT"
	ReasonQuotaExceeded        = "QUOTA_EXCEEDED"
	ReasonInvalidQuotaBound    = "INVALID_QUOTA_BOUND"
	ReasonAlreadyRedeemed      = "ALREADY_REDEEMED"
	ReasonCouponNotEligible    = "COUPON_NOT_ELIGIBLE"
	ReasonInvalidArgument      = "INVALID_ARGUMENT"
	ReasonUnknownJob           = "UNKNOWN_JOB"
	ReasonExternalUnavailable  = "EXTERNAL_UNAVAILABLE"
)

// ErrAccountNotFound 账户不存在
func ErrAccountNotFound(uid string) *kerrors.Error {
	return kerrors.NotFound(ReasonAccountNotFound, fmt.Sprintf("account not found: uid=%s", uid))
}

// ErrPlanNotFound 套餐不存在
func ErrPlanNotFound(planID string) *kerrors.Error {
	return kerrors.NotFound(ReasonPlanNotFound, fmt.Sprintf("plan not found: plan_id=%s", planID))
}

// ErrSubscriptionNotFound 订阅不存在
func ErrSubscriptionNotFound(subID string) *kerrors.Error {
	return kerrors.NotFound(ReasonSubscriptionNotFound, fmt.Sprintf("subscription not found: subscription_id=%s", subID))
}

// ErrCouponNotFound 优惠券不存在
func ErrCouponNotFound(code string) *kerrors.Error {
	return kerrors.NotFound(ReasonCouponNotFound, fmt.Sprintf("coupon not found: code=%s", code))
}

// ErrEntryNotFound 流水不存在
func ErrEntryNotFound(entryID string) *kerrors.Error {
	return kerrors.NotFound(ReasonEntryNotFound, fmt.Sprintf("ledger entry not found: entry_id=%s", entryID))
}

// ErrInsufficientCredit 余额不足
func ErrInsufficientCredit(uid string, balance, required int64) *kerrors.Error {
	return kerrors.New(402, ReasonInsufficientCredit,
		fmt.Sprintf("insufficient credit: uid=%s, balance=%d, required=%d", uid, balance, required))
}

// ErrQuotaExceeded 配额不足
func ErrQuotaExceeded(planID string, used, total int64) *kerrors.Error {
	return kerrors.Conflict(ReasonQuotaExceeded,
		fmt.Sprintf("plan quota exceeded: plan_id=%s, used=%d, total=%d", planID, used, total))
}

// ErrInvalidQuotaBound 配额上限小于已用量
func ErrInvalidQuotaBound(planID string, requested, used int64) *kerrors.Error {
	return kerrors.BadRequest(ReasonInvalidQuotaBound,
		fmt.Sprintf("total quota %d below used quota %d: plan_id=%s", requested, used, planID))
}

// ErrAlreadyRedeemed 优惠券已兑换过
func ErrAlreadyRedeemed(code, uid string) *kerrors.Error {
	return kerrors.Conflict(ReasonAlreadyRedeemed,
		fmt.Sprintf("coupon already redeemed: code=%s, uid=%s", code, uid))
}

// ErrCouponNotEligible 优惠券不可用，detail 为首个不满足的校验项
func ErrCouponNotEligible(code, detail string) *kerrors.Error {
	return kerrors.BadRequest(ReasonCouponNotEligible,
		fmt.Sprintf("coupon not eligible: code=%s, reason=%s", code, detail))
}

// ErrInvalidArgument 参数非法
func ErrInvalidArgument(detail string) *kerrors.Error {
	return kerrors.BadRequest(ReasonInvalidArgument, detail)
}

// ErrUnknownJob 未知任务名
func ErrUnknownJob(name string) *kerrors.Error {
	return kerrors.BadRequest(ReasonUnknownJob, fmt.Sprintf("unknown job: %s", name))
}

// ErrExternalUnavailable 外部协作方不可用
func ErrExternalUnavailable(dep string, err error) *kerrors.Error {
	return kerrors.ServiceUnavailable(ReasonExternalUnavailable,
		fmt.Sprintf("external dependency unavailable: %s: %v", dep, err))
}

// IsInsufficientCredit 判断是否余额不足错误
func IsInsufficientCredit(err error) bool {
	return kerrors.Reason(err) == ReasonInsufficientCredit
}

// IsQuotaExceeded 判断是否配额不足错误
func IsQuotaExceeded(err error) bool {
	return kerrors.Reason(err) == ReasonQuotaExceeded
}

// IsAlreadyRedeemed 判断是否重复兑换错误
func IsAlreadyRedeemed(err error) bool {
	return kerrors.Reason(err) == ReasonAlreadyRedeemed
}

// IsCouponNotEligible 判断是否优惠券不可用错误
func IsCouponNotEligible(err error) bool {
	return kerrors.Reason(err) == ReasonCouponNotEligible
}

// IsNotFound 判断是否任一资源不存在错误
func IsNotFound(err error) bool {
	switch kerrors.Reason(err) {
	case ReasonAccountNotFound, ReasonPlanNotFound, ReasonSubscriptionNotFound,
		ReasonCouponNotFound, ReasonEntryNotFound:
		return true
	}
	return false
}

// IsExternalUnavailable 判断是否外部依赖不可用错误
func IsExternalUnavailable(err error) bool {
	return kerrors.Reason(err) == ReasonExternalUnavailable
}
