package data

import (
	"context"
	"errors"
	"time"

	"billing-engine/internal/biz"
	"billing-engine/internal/constants"
	"billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// statsRepo 统计数据访问
type statsRepo struct {
	data *Data
	log  *log.Helper
}

// NewStatsRepo 创建统计 repo（返回 biz.StatsRepo 接口）
func NewStatsRepo(data *Data, logger log.Logger) biz.StatsRepo {
	return &statsRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CollectDaily 实时汇总指定日期的计费统计
func (r *statsRepo) CollectDaily(ctx context.Context, day time.Time) (*biz.BillingStats, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	db := r.data.db.WithContext(ctx)
	stats := &biz.BillingStats{Date: dayStart.Format(constants.TimeFormatDate)}

	if err := db.Model(&model.Subscription{}).
		Where("status = ?", constants.SubStatusActive).
		Count(&stats.ActiveSubscriptions).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Subscription{}).
		Where("status = ? AND grace_period_end IS NOT NULL", constants.SubStatusActive).
		Count(&stats.InGraceSubscriptions).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Subscription{}).
		Where("status = ? AND updated_at >= ? AND updated_at < ?",
			constants.SubStatusExpired, dayStart, dayEnd).
		Count(&stats.ExpiredToday).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Subscription{}).
		Where("last_billed >= ? AND last_billed < ?", dayStart, dayEnd).
		Count(&stats.RenewedToday).Error; err != nil {
		return nil, err
	}

	type sumRow struct {
		Total int64
	}
	var revenue sumRow
	if err := db.Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("type IN ? AND status = ? AND created_at >= ? AND created_at < ?",
			[]string{constants.EntryTypeSubscription, constants.EntryTypeUpgrade},
			constants.EntryStatusCompleted, dayStart, dayEnd).
		Scan(&revenue).Error; err != nil {
		return nil, err
	}
	stats.RevenueToday = revenue.Total

	var topUp sumRow
	if err := db.Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("type = ? AND status = ? AND created_at >= ? AND created_at < ?",
			constants.EntryTypeTopUp, constants.EntryStatusCompleted, dayStart, dayEnd).
		Scan(&topUp).Error; err != nil {
		return nil, err
	}
	stats.TopUpToday = topUp.Total

	if err := db.Model(&model.LedgerEntry{}).
		Where("type = ? AND status = ?", constants.EntryTypeTopUp, constants.EntryStatusPending).
		Count(&stats.PendingTopUps).Error; err != nil {
		return nil, err
	}

	var balance sumRow
	if err := db.Model(&model.Account{}).
		Select("COALESCE(SUM(balance), 0) AS total").
		Scan(&balance).Error; err != nil {
		return nil, err
	}
	stats.TotalBalance = balance.Total

	if err := db.Model(&model.CouponRedemption{}).
		Where("created_at >= ? AND created_at < ?", dayStart, dayEnd).
		Count(&stats.CouponRedeemedToday).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

// SaveSnapshot 落快照，同日覆盖写入
func (r *statsRepo) SaveSnapshot(ctx context.Context, stats *biz.BillingStats) error {
	m := model.BillingStatsSnapshot{
		BillingStatsID:       uuid.New().String(),
		Date:                 stats.Date,
		ActiveSubscriptions:  stats.ActiveSubscriptions,
		InGraceSubscriptions: stats.InGraceSubscriptions,
		ExpiredToday:         stats.ExpiredToday,
		RenewedToday:         stats.RenewedToday,
		RevenueToday:         stats.RevenueToday,
		TopUpToday:           stats.TopUpToday,
		PendingTopUps:        stats.PendingTopUps,
		TotalBalance:         stats.TotalBalance,
		CouponRedeemedToday:  stats.CouponRedeemedToday,
	}
	return r.data.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"active_subscriptions", "in_grace_subscriptions", "expired_today",
			"renewed_today", "revenue_today", "top_up_today", "pending_top_ups",
			"total_balance", "coupon_redeemed_today", "updated_at",
		}),
	}).Create(&m).Error
}

// GetSnapshot 按日期查询快照，不存在时返回 (nil, nil)
func (r *statsRepo) GetSnapshot(ctx context.Context, date string) (*biz.BillingStats, error) {
	var m model.BillingStatsSnapshot
	if err := r.data.db.WithContext(ctx).Where("date = ?", date).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &biz.BillingStats{
		Date:                 m.Date,
		ActiveSubscriptions:  m.ActiveSubscriptions,
		InGraceSubscriptions: m.InGraceSubscriptions,
		ExpiredToday:         m.ExpiredToday,
		RenewedToday:         m.RenewedToday,
		RevenueToday:         m.RevenueToday,
		TopUpToday:           m.TopUpToday,
		PendingTopUps:        m.PendingTopUps,
		TotalBalance:         m.TotalBalance,
		CouponRedeemedToday:  m.CouponRedeemedToday,
	}, nil
}
