package data

import (
	"io"
	"testing"
	"time"

	"billing-engine/internal/constants"
	"billing-engine/internal/data/model"

	"github.com/glebarez/sqlite"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

// 表结构使用手写 DDL 建表：模型里的 enum 列类型是 MySQL 方言，
// sqlite 下 AutoMigrate 无法使用
var testSchema = []string{
	`CREATE TABLE account (
		account_id   varchar(36) PRIMARY KEY,
		uid          varchar(36) NOT NULL UNIQUE,
		balance      bigint NOT NULL DEFAULT 0,
		total_top_up bigint NOT NULL DEFAULT 0,
		total_spent  bigint NOT NULL DEFAULT 0,
		created_at   datetime,
		updated_at   datetime
	)`,
	`CREATE TABLE ledger_entry (
		ledger_entry_id varchar(36) PRIMARY KEY,
		uid             varchar(36) NOT NULL,
		type            varchar(32) NOT NULL,
		amount          bigint NOT NULL,
		balance_before  bigint NOT NULL DEFAULT 0,
		balance_after   bigint NOT NULL DEFAULT 0,
		status          varchar(16) NOT NULL DEFAULT 'completed',
		description     varchar(255),
		metadata        text,
		gateway_ref     varchar(64) UNIQUE,
		created_at      datetime,
		completed_at    datetime
	)`,
	`CREATE INDEX idx_uid_date ON ledger_entry (uid, created_at)`,
	`CREATE TABLE plan (
		plan_id       varchar(36) PRIMARY KEY,
		service_name  varchar(32) NOT NULL,
		name          varchar(64) NOT NULL,
		monthly_price bigint NOT NULL,
		total_quota   bigint NOT NULL DEFAULT 0,
		used_quota    bigint NOT NULL DEFAULT 0,
		created_at    datetime,
		updated_at    datetime
	)`,
	`CREATE TABLE subscription (
		subscription_id    varchar(36) PRIMARY KEY,
		uid                varchar(36) NOT NULL,
		plan_id            varchar(36) NOT NULL,
		status             varchar(32) NOT NULL DEFAULT 'active',
		auto_renew         bool NOT NULL DEFAULT true,
		start_time         datetime NOT NULL,
		end_time           datetime NOT NULL,
		next_billing       datetime NOT NULL,
		last_billed        datetime,
		last_charge_amount bigint NOT NULL DEFAULT 0,
		failed_charges     integer NOT NULL DEFAULT 0,
		grace_period_end   datetime,
		created_at         datetime,
		updated_at         datetime
	)`,
	`CREATE TABLE coupon (
		coupon_id         varchar(36) PRIMARY KEY,
		code              varchar(64) NOT NULL UNIQUE,
		type              varchar(32) NOT NULL,
		status            varchar(16) NOT NULL DEFAULT 'active',
		credit_amount     bigint NOT NULL DEFAULT 0,
		discount_percent  integer NOT NULL DEFAULT 0,
		discount_amount   bigint NOT NULL DEFAULT 0,
		service_name      varchar(32),
		max_uses          integer NOT NULL DEFAULT 1,
		used_count        integer NOT NULL DEFAULT 0,
		max_uses_per_user integer NOT NULL DEFAULT 1,
		valid_from        datetime NOT NULL,
		valid_until       datetime,
		created_at        datetime,
		updated_at        datetime
	)`,
	`CREATE TABLE coupon_redemption (
		coupon_redemption_id varchar(36) PRIMARY KEY,
		coupon_id            varchar(36) NOT NULL,
		uid                  varchar(36) NOT NULL,
		coupon_code          varchar(64) NOT NULL,
		value                bigint NOT NULL DEFAULT 0,
		ledger_entry_id      varchar(36),
		subscription_id      varchar(36),
		created_at           datetime,
		UNIQUE (coupon_id, uid)
	)`,
	`CREATE TABLE billing_stats_snapshot (
		billing_stats_id       varchar(36) PRIMARY KEY,
		date                   varchar(10) NOT NULL UNIQUE,
		active_subscriptions   bigint NOT NULL DEFAULT 0,
		in_grace_subscriptions bigint NOT NULL DEFAULT 0,
		expired_today          bigint NOT NULL DEFAULT 0,
		renewed_today          bigint NOT NULL DEFAULT 0,
		revenue_today          bigint NOT NULL DEFAULT 0,
		top_up_today           bigint NOT NULL DEFAULT 0,
		pending_top_ups        bigint NOT NULL DEFAULT 0,
		total_balance          bigint NOT NULL DEFAULT 0,
		coupon_redeemed_today  bigint NOT NULL DEFAULT 0,
		created_at             datetime,
		updated_at             datetime
	)`,
}

// newTestData 创建基于内存 sqlite 的数据层实例
// 单连接保证事务串行，接近 MySQL 行锁下的执行顺序
func newTestData(t *testing.T) *Data {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: glog.Default.LogMode(glog.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	for _, stmt := range testSchema {
		require.NoError(t, db.Exec(stmt).Error)
	}

	return &Data{db: db}
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

func seedAccount(t *testing.T, d *Data, uid string, balance int64) *model.Account {
	t.Helper()
	m := &model.Account{
		AccountID: uuid.NewString(),
		UID:       uid,
		Balance:   balance,
	}
	require.NoError(t, d.db.Create(m).Error)
	return m
}

func seedPlan(t *testing.T, d *Data, serviceName string, price, total, used int64) *model.Plan {
	t.Helper()
	m := &model.Plan{
		PlanID:       uuid.NewString(),
		ServiceName:  serviceName,
		Name:         serviceName + " 标准版",
		MonthlyPrice: price,
		TotalQuota:   total,
		UsedQuota:    used,
	}
	require.NoError(t, d.db.Create(m).Error)
	return m
}

func seedCoupon(t *testing.T, d *Data, m *model.Coupon) *model.Coupon {
	t.Helper()
	if m.CouponID == "" {
		m.CouponID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = model.CouponStatusActive
	}
	if m.ValidFrom.IsZero() {
		m.ValidFrom = time.Now().Add(-time.Hour)
	}
	require.NoError(t, d.db.Create(m).Error)
	return m
}

func seedSubscription(t *testing.T, d *Data, m *model.Subscription) *model.Subscription {
	t.Helper()
	if m.SubscriptionID == "" {
		m.SubscriptionID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = model.SubStatusActive
	}
	// Create 会跳过带 default 标签的零值字段（auto_renew default:true）并把
	// 数据库默认值回填进结构体，先记录调用方设置的值，再显式回写 false。
	autoRenew := m.AutoRenew
	require.NoError(t, d.db.Create(m).Error)
	if !autoRenew {
		require.NoError(t, d.db.Model(m).Update("auto_renew", false).Error)
		m.AutoRenew = false
	}
	return m
}

// activeSub 构造一个处于计费期内的活跃订阅
func activeSub(uid, planID string, nextBilling time.Time) *model.Subscription {
	return &model.Subscription{
		SubscriptionID: uuid.NewString(),
		UID:            uid,
		PlanID:         planID,
		Status:         constants.SubStatusActive,
		AutoRenew:      true,
		StartTime:      nextBilling.AddDate(0, -1, 0),
		EndTime:        nextBilling,
		NextBilling:    nextBilling,
	}
}
