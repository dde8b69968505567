package data

import (
	"context"
	"errors"

	"billing-engine/internal/biz"
	"billing-engine/internal/data/model"
	billingErrors "billing-engine/internal/errors"
	"billing-engine/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// planRepo 套餐数据访问
type planRepo struct {
	data    *Data
	log     *log.Helper
	metrics *metrics.BillingMetrics
}

// NewPlanRepo 创建套餐 repo（返回 biz.PlanRepo 接口）
func NewPlanRepo(data *Data, logger log.Logger) biz.PlanRepo {
	return &planRepo{
		data:    data,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// CreatePlan 创建套餐
func (r *planRepo) CreatePlan(ctx context.Context, plan *biz.Plan) error {
	m := model.Plan{
		PlanID:       uuid.New().String(),
		ServiceName:  plan.ServiceName,
		Name:         plan.Name,
		MonthlyPrice: plan.MonthlyPrice,
		TotalQuota:   plan.TotalQuota,
		UsedQuota:    plan.UsedQuota,
	}
	if err := r.data.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	plan.ID = m.PlanID
	return nil
}

// GetPlan 获取套餐，不存在时返回 (nil, nil)
func (r *planRepo) GetPlan(ctx context.Context, planID string) (*biz.Plan, error) {
	var m model.Plan
	if err := r.data.db.WithContext(ctx).Where("plan_id = ?", planID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizPlan(&m), nil
}

// ListPlans 获取全部套餐
func (r *planRepo) ListPlans(ctx context.Context) ([]*biz.Plan, error) {
	var ms []model.Plan
	if err := r.data.db.WithContext(ctx).Order("created_at ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	plans := make([]*biz.Plan, 0, len(ms))
	for i := range ms {
		plans = append(plans, toBizPlan(&ms[i]))
	}
	return plans, nil
}

// Allocate 锁套餐行后分配容量，容量不足返回 QuotaExceeded，不产生写入
func (r *planRepo) Allocate(ctx context.Context, planID string, amount int64) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := lockPlan(tx, planID)
		if err != nil {
			return err
		}
		if plan.UsedQuota+amount > plan.TotalQuota {
			return billingErrors.ErrQuotaExceeded(planID, plan.UsedQuota, plan.TotalQuota)
		}
		if err := tx.Model(plan).Update("used_quota", gorm.Expr("used_quota + ?", amount)).Error; err != nil {
			return err
		}
		r.observeUtilization(plan.Name, plan.UsedQuota+amount, plan.TotalQuota)
		return nil
	})
}

// Release 锁套餐行后释放容量，下限 0，返回实际释放量
func (r *planRepo) Release(ctx context.Context, planID string, amount int64) (int64, error) {
	var released int64
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := lockPlan(tx, planID)
		if err != nil {
			return err
		}
		released = amount
		if released > plan.UsedQuota {
			released = plan.UsedQuota
		}
		if released == 0 {
			return nil
		}
		if err := tx.Model(plan).Update("used_quota", gorm.Expr("used_quota - ?", released)).Error; err != nil {
			return err
		}
		r.observeUtilization(plan.Name, plan.UsedQuota-released, plan.TotalQuota)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// UpdateTotalQuota 调整容量上限，新上限低于已用量时返回 InvalidQuotaBound
func (r *planRepo) UpdateTotalQuota(ctx context.Context, planID string, total int64) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := lockPlan(tx, planID)
		if err != nil {
			return err
		}
		if total < plan.UsedQuota {
			return billingErrors.ErrInvalidQuotaBound(planID, total, plan.UsedQuota)
		}
		if err := tx.Model(plan).Update("total_quota", total).Error; err != nil {
			return err
		}
		r.observeUtilization(plan.Name, plan.UsedQuota, total)
		return nil
	})
}

func (r *planRepo) observeUtilization(planName string, used, total int64) {
	if r.metrics == nil || total <= 0 {
		return
	}
	r.metrics.QuotaUtilization.WithLabelValues(planName).Set(float64(used) / float64(total))
}

// lockPlan 锁套餐行（FOR UPDATE），不存在时返回 PlanNotFound
func lockPlan(tx *gorm.DB, planID string) (*model.Plan, error) {
	var m model.Plan
	err := withRowLock(tx).
		Where("plan_id = ?", planID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billingErrors.ErrPlanNotFound(planID)
		}
		return nil, err
	}
	return &m, nil
}

func toBizPlan(m *model.Plan) *biz.Plan {
	return &biz.Plan{
		ID:           m.PlanID,
		ServiceName:  m.ServiceName,
		Name:         m.Name,
		MonthlyPrice: m.MonthlyPrice,
		TotalQuota:   m.TotalQuota,
		UsedQuota:    m.UsedQuota,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
