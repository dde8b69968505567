package service

import (
	"context"
	"time"

	"billing-engine/internal/biz"
	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// AdminService 面向运营后台的管理服务
type AdminService struct {
	accountUC *biz.AccountUseCase
	quotaUC   *biz.QuotaUseCase
	couponUC  *biz.CouponUseCase
	subUC     *biz.SubscriptionUseCase
	statsUC   *biz.StatsUseCase
	jobUC     *biz.JobUseCase
	state     *biz.SchedulerState
	log       *log.Helper
}

// NewAdminService 创建 AdminService
func NewAdminService(
	accountUC *biz.AccountUseCase,
	quotaUC *biz.QuotaUseCase,
	couponUC *biz.CouponUseCase,
	subUC *biz.SubscriptionUseCase,
	statsUC *biz.StatsUseCase,
	jobUC *biz.JobUseCase,
	state *biz.SchedulerState,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		accountUC: accountUC,
		quotaUC:   quotaUC,
		couponUC:  couponUC,
		subUC:     subUC,
		statsUC:   statsUC,
		jobUC:     jobUC,
		state:     state,
		log:       log.NewHelper(logger),
	}
}

// ========== 调账 ==========

// AdjustRequest 管理员调账请求
type AdjustRequest struct {
	UID         string `json:"uid"`
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
}

// AdjustReply 调账响应
type AdjustReply struct {
	Entry *LedgerEntryView `json:"entry"`
}

// Adjust 管理员调账（正负均可，允许余额进入负数）
func (s *AdminService) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustReply, error) {
	entry, err := s.accountUC.AdminAdjust(ctx, req.UID, req.Delta, req.Description)
	if err != nil {
		s.log.Errorf("Adjust failed: uid=%s, delta=%d, error=%v", req.UID, req.Delta, err)
		return nil, err
	}
	return &AdjustReply{Entry: toEntryView(entry)}, nil
}

// ========== 套餐管理 ==========

// CreatePlanRequest 创建套餐请求
type CreatePlanRequest struct {
	ServiceName  string `json:"service_name"`
	Name         string `json:"name"`
	MonthlyPrice int64  `json:"monthly_price"`
	TotalQuota   int64  `json:"total_quota"`
}

// CreatePlanReply 创建套餐响应
type CreatePlanReply struct {
	Plan *PlanView `json:"plan"`
}

// CreatePlan 创建套餐
func (s *AdminService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*CreatePlanReply, error) {
	plan := &biz.Plan{
		ServiceName:  req.ServiceName,
		Name:         req.Name,
		MonthlyPrice: req.MonthlyPrice,
		TotalQuota:   req.TotalQuota,
	}
	if err := s.quotaUC.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	return &CreatePlanReply{Plan: toPlanView(plan)}, nil
}

// UpdateQuotaRequest 调整容量上限请求
type UpdateQuotaRequest struct {
	PlanID     string `json:"plan_id"`
	TotalQuota int64  `json:"total_quota"`
}

// UpdateQuota 调整单个套餐容量上限
func (s *AdminService) UpdateQuota(ctx context.Context, req *UpdateQuotaRequest) error {
	return s.quotaUC.UpdateTotalQuota(ctx, req.PlanID, req.TotalQuota)
}

// BulkUpdateQuotaRequest 批量调整容量请求
type BulkUpdateQuotaRequest struct {
	Updates map[string]int64 `json:"updates"` // plan_id -> total_quota
}

// QuotaUpdateResultView 单套餐调整结果
type QuotaUpdateResultView struct {
	PlanID string `json:"plan_id"`
	Error  string `json:"error,omitempty"`
}

// BulkUpdateQuotaReply 批量调整响应
type BulkUpdateQuotaReply struct {
	Results []*QuotaUpdateResultView `json:"results"`
}

// BulkUpdateQuota 批量调整容量上限，单个失败不中断
func (s *AdminService) BulkUpdateQuota(ctx context.Context, req *BulkUpdateQuotaRequest) (*BulkUpdateQuotaReply, error) {
	results := s.quotaUC.BulkUpdateQuota(ctx, req.Updates)
	reply := &BulkUpdateQuotaReply{Results: make([]*QuotaUpdateResultView, 0, len(results))}
	for _, r := range results {
		view := &QuotaUpdateResultView{PlanID: r.PlanID}
		if r.Err != nil {
			view.Error = r.Err.Error()
		}
		reply.Results = append(reply.Results, view)
	}
	return reply, nil
}

// ========== 优惠券管理 ==========

// CreateCouponRequest 创建优惠券请求
type CreateCouponRequest struct {
	Code            string     `json:"code"`
	Type            string     `json:"type"`
	CreditAmount    int64      `json:"credit_amount,omitempty"`
	DiscountPercent int        `json:"discount_percent,omitempty"`
	DiscountAmount  int64      `json:"discount_amount,omitempty"`
	ServiceName     string     `json:"service_name,omitempty"`
	MaxUses         int64      `json:"max_uses,omitempty"`
	MaxUsesPerUser  int64      `json:"max_uses_per_user,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
}

// CreateCouponReply 创建优惠券响应
type CreateCouponReply struct {
	CouponID string `json:"coupon_id"`
	Code     string `json:"code"`
}

// CreateCoupon 创建优惠券
func (s *AdminService) CreateCoupon(ctx context.Context, req *CreateCouponRequest) (*CreateCouponReply, error) {
	coupon := &biz.Coupon{
		Code:            req.Code,
		Type:            req.Type,
		CreditAmount:    req.CreditAmount,
		DiscountPercent: req.DiscountPercent,
		DiscountAmount:  req.DiscountAmount,
		ServiceName:     req.ServiceName,
		MaxUses:         req.MaxUses,
		MaxUsesPerUser:  req.MaxUsesPerUser,
		ValidUntil:      req.ValidUntil,
	}
	if req.ValidFrom != nil {
		coupon.ValidFrom = *req.ValidFrom
	}
	if err := s.couponUC.CreateCoupon(ctx, coupon); err != nil {
		return nil, err
	}
	return &CreateCouponReply{CouponID: coupon.ID, Code: coupon.Code}, nil
}

// DisableCoupon 停用优惠券
func (s *AdminService) DisableCoupon(ctx context.Context, code string) error {
	return s.couponUC.DisableCoupon(ctx, code)
}

// ========== 订阅管理 ==========

// SetGracePeriodRequest 调整宽限期请求
type SetGracePeriodRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Days           int    `json:"days"`
}

// SetGracePeriodReply 调整宽限期响应
type SetGracePeriodReply struct {
	Subscription *SubscriptionView `json:"subscription"`
}

// SetGracePeriod 调整宽限期长度
func (s *AdminService) SetGracePeriod(ctx context.Context, req *SetGracePeriodRequest) (*SetGracePeriodReply, error) {
	sub, err := s.subUC.SetGracePeriod(ctx, req.SubscriptionID, req.Days)
	if err != nil {
		return nil, err
	}
	return &SetGracePeriodReply{Subscription: toSubscriptionView(sub)}, nil
}

// ExpireSubscriptionRequest 强制到期请求
type ExpireSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason,omitempty"`
}

// ExpireSubscriptionReply 强制到期响应
type ExpireSubscriptionReply struct {
	Subscription *SubscriptionView `json:"subscription"`
}

// ExpireSubscription 管理端强制到期
func (s *AdminService) ExpireSubscription(ctx context.Context, req *ExpireSubscriptionRequest) (*ExpireSubscriptionReply, error) {
	sub, err := s.subUC.ExpireSubscription(ctx, req.SubscriptionID, req.Reason)
	if err != nil {
		return nil, err
	}
	return &ExpireSubscriptionReply{Subscription: toSubscriptionView(sub)}, nil
}

// ========== 任务 ==========

// RunJobRequest 手动触发任务请求
type RunJobRequest struct {
	Job string `json:"job"`
}

// JobReportView 任务报告视图
type JobReportView struct {
	Job        string   `json:"job"`
	Skipped    bool     `json:"skipped"`
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// RunJobReply 任务触发响应
type RunJobReply struct {
	Report *JobReportView `json:"report"`
}

// RunJob 手动触发定时任务
func (s *AdminService) RunJob(ctx context.Context, req *RunJobRequest) (*RunJobReply, error) {
	if req.Job == "" {
		return nil, billingErrors.ErrInvalidArgument("job is required")
	}
	report, err := s.jobUC.RunJob(ctx, req.Job)
	if err != nil {
		return nil, err
	}
	return &RunJobReply{Report: &JobReportView{
		Job:        report.Job,
		Skipped:    report.Skipped,
		Processed:  report.Processed,
		Successful: report.Successful,
		Failed:     report.Failed,
		Errors:     report.Errors,
	}}, nil
}

// SchedulerStatusReply 调度器状态响应
type SchedulerStatusReply struct {
	Running    bool     `json:"running"`
	ActiveJobs []string `json:"active_jobs"`
}

// SchedulerStatus 查询调度器状态
func (s *AdminService) SchedulerStatus(ctx context.Context) (*SchedulerStatusReply, error) {
	return &SchedulerStatusReply{
		Running:    s.state.IsRunning(),
		ActiveJobs: s.state.ActiveJobs(),
	}, nil
}

// ========== 统计 ==========

// BillingStatsReply 统计查询响应
type BillingStatsReply struct {
	Stats *biz.BillingStats `json:"stats"`
}

// GetBillingStats 查询某天的计费统计（缺省当天）
func (s *AdminService) GetBillingStats(ctx context.Context, date string) (*BillingStatsReply, error) {
	day := time.Now()
	if date != "" {
		parsed, err := time.Parse(constants.TimeFormatDate, date)
		if err != nil {
			return nil, billingErrors.ErrInvalidArgument("date must be YYYY-MM-DD")
		}
		day = parsed
	}
	stats, err := s.statsUC.GetStats(ctx, day)
	if err != nil {
		return nil, err
	}
	return &BillingStatsReply{Stats: stats}, nil
}
