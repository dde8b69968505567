package biz

import (
	"context"
	"time"

	"billing-engine/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// BillingStats 计费统计快照
type BillingStats struct {
	Date                 string `json:"date"`
	ActiveSubscriptions  int64  `json:"active_subscriptions"`
	InGraceSubscriptions int64  `json:"in_grace_subscriptions"`
	ExpiredToday         int64  `json:"expired_today"`
	RenewedToday         int64  `json:"renewed_today"`
	RevenueToday         int64  `json:"revenue_today"`
	TopUpToday           int64  `json:"top_up_today"`
	PendingTopUps        int64  `json:"pending_top_ups"`
	TotalBalance         int64  `json:"total_balance"`
	CouponRedeemedToday  int64  `json:"coupon_redeemed_today"`
}

// StatsRepo 统计数据层接口
type StatsRepo interface {
	CollectDaily(ctx context.Context, day time.Time) (*BillingStats, error)
	SaveSnapshot(ctx context.Context, stats *BillingStats) error
	GetSnapshot(ctx context.Context, date string) (*BillingStats, error)
}

// StatsUseCase 统计业务逻辑
type StatsUseCase struct {
	repo StatsRepo
	log  *log.Helper
}

// NewStatsUseCase 创建统计 UseCase
func NewStatsUseCase(repo StatsRepo, logger log.Logger) *StatsUseCase {
	return &StatsUseCase{
		repo: repo,
		log:  log.NewHelper(logger),
	}
}

// CollectDaily 汇总指定日期的计费统计并落快照，重复执行覆盖同日快照
func (uc *StatsUseCase) CollectDaily(ctx context.Context, day time.Time) (*BillingStats, error) {
	stats, err := uc.repo.CollectDaily(ctx, day)
	if err != nil {
		return nil, err
	}
	if err := uc.repo.SaveSnapshot(ctx, stats); err != nil {
		return nil, err
	}
	uc.log.Infof("Billing stats collected: date=%s, active=%d, in_grace=%d, revenue=%d",
		stats.Date, stats.ActiveSubscriptions, stats.InGraceSubscriptions, stats.RevenueToday)
	return stats, nil
}

// GetStats 查询某天的统计快照，无快照则实时汇总
func (uc *StatsUseCase) GetStats(ctx context.Context, day time.Time) (*BillingStats, error) {
	date := day.Format(constants.TimeFormatDate)
	snapshot, err := uc.repo.GetSnapshot(ctx, date)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		return snapshot, nil
	}
	return uc.repo.CollectDaily(ctx, day)
}
