package biz

import (
	"context"
	"time"

	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"
	"billing-engine/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Plan 套餐领域对象
type Plan struct {
	ID           string
	ServiceName  string
	Name         string
	MonthlyPrice int64
	TotalQuota   int64
	UsedQuota    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining 剩余容量
func (p *Plan) Remaining() int64 {
	if p.UsedQuota >= p.TotalQuota {
		return 0
	}
	return p.TotalQuota - p.UsedQuota
}

// QuotaAvailability 配额可用性查询结果（只读，不预占）
type QuotaAvailability struct {
	PlanID    string
	Available bool
	Remaining int64
}

// QuotaUpdateResult 批量调整单个套餐的结果
type QuotaUpdateResult struct {
	PlanID string
	Err    error
}

// PlanRepo 套餐数据层接口（定义在 biz 层）
type PlanRepo interface {
	CreatePlan(ctx context.Context, plan *Plan) error
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)

	// Allocate/Release 必须与其支撑的订阅写入处于同一事务；
	// 此处的独立入口供外部调用方使用，内部事务版本由订阅 repo 复用
	Allocate(ctx context.Context, planID string, amount int64) error
	Release(ctx context.Context, planID string, amount int64) (int64, error)
	UpdateTotalQuota(ctx context.Context, planID string, total int64) error
}

// QuotaUseCase 配额业务逻辑
type QuotaUseCase struct {
	repo    PlanRepo
	log     *log.Helper
	metrics *metrics.BillingMetrics
}

// NewQuotaUseCase 创建配额 UseCase
func NewQuotaUseCase(repo PlanRepo, logger log.Logger) *QuotaUseCase {
	return &QuotaUseCase{
		repo:    repo,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// GetPlan 获取套餐
func (uc *QuotaUseCase) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	plan, err := uc.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, billingErrors.ErrPlanNotFound(planID)
	}
	return plan, nil
}

// CreatePlan 创建套餐
func (uc *QuotaUseCase) CreatePlan(ctx context.Context, plan *Plan) error {
	if plan.TotalQuota < 0 || plan.MonthlyPrice < 0 {
		return billingErrors.ErrInvalidArgument("total_quota and monthly_price must be non-negative")
	}
	return uc.repo.CreatePlan(ctx, plan)
}

// CheckAvailability 查询容量余量（只读，不预占；调用方必须在分配事务内复查）
func (uc *QuotaUseCase) CheckAvailability(ctx context.Context, planID string, requested int64) (*QuotaAvailability, error) {
	if requested <= 0 {
		requested = 1
	}
	plan, err := uc.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	remaining := plan.Remaining()
	return &QuotaAvailability{
		PlanID:    planID,
		Available: remaining >= requested,
		Remaining: remaining,
	}, nil
}

// Allocate 分配容量
func (uc *QuotaUseCase) Allocate(ctx context.Context, planID string, amount int64) error {
	if amount <= 0 {
		amount = 1
	}
	err := uc.repo.Allocate(ctx, planID, amount)
	if uc.metrics != nil {
		result := constants.JobResultSuccess
		if err != nil {
			result = constants.JobResultFailed
		}
		uc.metrics.QuotaAllocateTotal.WithLabelValues(result).Inc()
	}
	return err
}

// Release 释放容量（下限 0，超量释放按实际释放量返回，不报错）
func (uc *QuotaUseCase) Release(ctx context.Context, planID string, amount int64) (int64, error) {
	if amount <= 0 {
		amount = 1
	}
	return uc.repo.Release(ctx, planID, amount)
}

// UpdateTotalQuota 调整套餐容量上限（低于已用量时拒绝）
func (uc *QuotaUseCase) UpdateTotalQuota(ctx context.Context, planID string, total int64) error {
	if total < 0 {
		return billingErrors.ErrInvalidArgument("total quota must be non-negative")
	}
	return uc.repo.UpdateTotalQuota(ctx, planID, total)
}

// BulkUpdateQuota 批量调整容量上限，逐套餐返回结果，单个失败不中断
func (uc *QuotaUseCase) BulkUpdateQuota(ctx context.Context, updates map[string]int64) []*QuotaUpdateResult {
	results := make([]*QuotaUpdateResult, 0, len(updates))
	for planID, total := range updates {
		err := uc.UpdateTotalQuota(ctx, planID, total)
		if err != nil {
			uc.log.Warnf("Bulk quota update failed: plan_id=%s, total=%d, error=%v", planID, total, err)
		}
		results = append(results, &QuotaUpdateResult{PlanID: planID, Err: err})
	}
	return results
}
