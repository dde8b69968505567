package data

import (
	"context"
	"testing"
	"time"

	"billing-engine/internal/biz"
	"billing-engine/internal/constants"
	"billing-engine/internal/data/model"
	billingErrors "billing-engine/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func purchaseInput(uid, planID string) *biz.Subscription {
	now := time.Now()
	return &biz.Subscription{
		UID:         uid,
		PlanID:      planID,
		AutoRenew:   true,
		StartTime:   now,
		EndTime:     now.AddDate(0, 1, 0),
		NextBilling: now.AddDate(0, 1, 0),
	}
}

func TestPurchase(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ledger := NewLedgerRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 0)
	seedAccount(t, d, "u1", 60000)

	sub, err := repo.Purchase(ctx, purchaseInput("u1", p.PlanID), 50000)
	require.NoError(t, err)
	assert.Equal(t, constants.SubStatusActive, sub.Status)
	assert.Equal(t, int64(50000), sub.LastChargeAmount)
	require.NotNil(t, sub.LastBilled)

	account, err := ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), account.Balance)

	var plan model.Plan
	require.NoError(t, d.db.Where("plan_id = ?", p.PlanID).First(&plan).Error)
	assert.Equal(t, int64(1), plan.UsedQuota)

	entries, total, err := ledger.ListEntries(ctx, "u1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, constants.EntryTypeSubscription, entries[0].Type)
	assert.Equal(t, sub.ID, entries[0].Metadata["subscription_id"])
}

// 购买失败必须整体回滚：不占容量、不扣费、不留流水
func TestPurchase_InsufficientRollsBack(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 0)
	seedAccount(t, d, "u1", 40000)

	_, err := repo.Purchase(ctx, purchaseInput("u1", p.PlanID), 50000)
	require.Error(t, err)
	assert.True(t, billingErrors.IsInsufficientCredit(err))

	var plan model.Plan
	require.NoError(t, d.db.Where("plan_id = ?", p.PlanID).First(&plan).Error)
	assert.Equal(t, int64(0), plan.UsedQuota)

	var subs, entries int64
	require.NoError(t, d.db.Model(&model.Subscription{}).Count(&subs).Error)
	require.NoError(t, d.db.Model(&model.LedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(0), subs)
	assert.Equal(t, int64(0), entries)
}

func TestPurchase_QuotaFull(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 1000, 1, 1)
	seedAccount(t, d, "u1", 5000)

	_, err := repo.Purchase(ctx, purchaseInput("u1", p.PlanID), 1000)
	require.Error(t, err)
	assert.True(t, billingErrors.IsQuotaExceeded(err))
}

func TestPurchase_NoAccount(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())

	p := seedPlan(t, d, "gpu", 1000, 5, 0)
	_, err := repo.Purchase(context.Background(), purchaseInput("ghost", p.PlanID), 1000)
	require.Error(t, err)
	assert.True(t, billingErrors.IsNotFound(err))
}

func TestRenew_Success(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ledger := NewLedgerRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	seedAccount(t, d, "u1", 60000)
	due := time.Now().Add(-time.Hour)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, due))

	outcome, err := repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalRenewed, outcome.Result)
	assert.False(t, outcome.Recovered)
	assert.Equal(t, int64(50000), outcome.ChargedAmount)
	assert.True(t, outcome.Subscription.NextBilling.After(time.Now()))
	assert.Equal(t, 0, outcome.Subscription.FailedCharges)
	assert.Nil(t, outcome.Subscription.GracePeriodEnd)

	account, err := ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), account.Balance)

	// 续费不重复占用容量
	var plan model.Plan
	require.NoError(t, d.db.Where("plan_id = ?", p.PlanID).First(&plan).Error)
	assert.Equal(t, int64(1), plan.UsedQuota)

	_, total, err := ledger.ListEntries(ctx, "u1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

// 续费幂等：同一订阅重复处理只扣一次费
func TestRenew_Idempotent(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ledger := NewLedgerRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	seedAccount(t, d, "u1", 200000)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, time.Now().Add(-time.Hour)))

	outcome, err := repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalRenewed, outcome.Result)

	outcome, err = repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalCurrent, outcome.Result)

	account, err := ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150000), account.Balance)
}

func TestRenew_EntersGrace(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	seedAccount(t, d, "u1", 40000)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, time.Now().Add(-time.Hour)))

	outcome, err := repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalGrace, outcome.Result)
	assert.Equal(t, constants.SubStatusActive, outcome.Subscription.Status)
	assert.Equal(t, 1, outcome.Subscription.FailedCharges)
	require.NotNil(t, outcome.Subscription.GracePeriodEnd)
	expectedEnd := time.Now().AddDate(0, 0, 7)
	assert.WithinDuration(t, expectedEnd, *outcome.Subscription.GracePeriodEnd, time.Minute)

	// 宽限期内重试：失败计数递增，截止时间不被重置
	firstEnd := *outcome.Subscription.GracePeriodEnd
	outcome, err = repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalGrace, outcome.Result)
	assert.Equal(t, 2, outcome.Subscription.FailedCharges)
	assert.Equal(t, firstEnd.Unix(), outcome.Subscription.GracePeriodEnd.Unix())
}

// 余额 40000、月费 50000 进入 7 天宽限期，充值到 60000 后续费成功恢复
func TestRenew_RecoversAfterTopUp(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ledger := NewLedgerRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	seedAccount(t, d, "u1", 40000)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, time.Now().Add(-time.Hour)))

	outcome, err := repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	require.Equal(t, biz.RenewalGrace, outcome.Result)

	_, err = ledger.AddCredit(ctx, "u1", 20000, constants.EntryTypeTopUp, "top-up", nil)
	require.NoError(t, err)

	outcome, err = repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalRenewed, outcome.Result)
	assert.True(t, outcome.Recovered)
	assert.Nil(t, outcome.Subscription.GracePeriodEnd)
	assert.Equal(t, 0, outcome.Subscription.FailedCharges)

	account, err := ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), account.Balance)
}

func TestRenew_GraceEndedExpires(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	seedAccount(t, d, "u1", 100)
	graceEnd := time.Now().Add(-time.Hour)
	m := activeSub("u1", p.PlanID, time.Now().AddDate(0, 0, -8))
	m.GracePeriodEnd = &graceEnd
	m.FailedCharges = 3
	s := seedSubscription(t, d, m)

	outcome, err := repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalExpired, outcome.Result)
	assert.Equal(t, constants.SubStatusExpired, outcome.Subscription.Status)
	assert.False(t, outcome.Subscription.AutoRenew)
	assert.Nil(t, outcome.Subscription.GracePeriodEnd)

	// 到期释放一个容量
	var plan model.Plan
	require.NoError(t, d.db.Where("plan_id = ?", p.PlanID).First(&plan).Error)
	assert.Equal(t, int64(0), plan.UsedQuota)
}

// 宽限期策略关闭时余额不足直接到期
func TestRenew_GraceDisabled(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	seedAccount(t, d, "u1", 100)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, time.Now().Add(-time.Hour)))

	outcome, err := repo.Renew(ctx, s.SubscriptionID, 7, 1, false)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalExpired, outcome.Result)
}

// 套餐被缩容到超员时续费暂停，订阅保持活跃且不扣费
func TestRenew_QuotaBlocked(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ledger := NewLedgerRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 1, 2)
	seedAccount(t, d, "u1", 100000)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, time.Now().Add(-time.Hour)))

	outcome, err := repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalQuotaBlocked, outcome.Result)
	assert.Equal(t, constants.SubStatusActive, outcome.Subscription.Status)

	account, err := ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), account.Balance)
}

func TestRenew_NonActiveIsNoop(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 0)
	m := activeSub("u1", p.PlanID, time.Now().Add(-time.Hour))
	m.Status = constants.SubStatusExpired
	s := seedSubscription(t, d, m)

	outcome, err := repo.Renew(ctx, s.SubscriptionID, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, biz.RenewalCurrent, outcome.Result)
}

func TestExpire_Idempotent(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, time.Now().AddDate(0, 1, 0)))

	sub, err := repo.Expire(ctx, s.SubscriptionID, "manual")
	require.NoError(t, err)
	assert.Equal(t, constants.SubStatusExpired, sub.Status)
	assert.False(t, sub.AutoRenew)

	// 落库的 auto_renew 同步关闭
	var row model.Subscription
	require.NoError(t, d.db.Where("subscription_id = ?", s.SubscriptionID).First(&row).Error)
	assert.False(t, row.AutoRenew)

	// 重复到期不再释放容量
	sub, err = repo.Expire(ctx, s.SubscriptionID, "manual")
	require.NoError(t, err)
	assert.Equal(t, constants.SubStatusExpired, sub.Status)

	var plan model.Plan
	require.NoError(t, d.db.Where("plan_id = ?", p.PlanID).First(&plan).Error)
	assert.Equal(t, int64(0), plan.UsedQuota)
}

func TestCancel(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, time.Now().AddDate(0, 1, 0)))

	// 非持有人不可取消
	_, err := repo.Cancel(ctx, s.SubscriptionID, "u2")
	require.Error(t, err)
	assert.True(t, billingErrors.IsNotFound(err))

	sub, err := repo.Cancel(ctx, s.SubscriptionID, "u1")
	require.NoError(t, err)
	assert.Equal(t, constants.SubStatusCancelled, sub.Status)
	assert.False(t, sub.AutoRenew)

	var plan model.Plan
	require.NoError(t, d.db.Where("plan_id = ?", p.PlanID).First(&plan).Error)
	assert.Equal(t, int64(0), plan.UsedQuota)

	// 已取消的订阅不可再取消
	_, err = repo.Cancel(ctx, s.SubscriptionID, "u1")
	require.Error(t, err)
}

func TestSetAutoRenew(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()

	p := seedPlan(t, d, "gpu", 50000, 5, 1)
	s := seedSubscription(t, d, activeSub("u1", p.PlanID, time.Now().AddDate(0, 1, 0)))

	require.NoError(t, repo.SetAutoRenew(ctx, s.SubscriptionID, "u1", false))

	sub, err := repo.GetSubscription(ctx, s.SubscriptionID)
	require.NoError(t, err)
	assert.False(t, sub.AutoRenew)

	err = repo.SetAutoRenew(ctx, s.SubscriptionID, "u2", true)
	require.Error(t, err)
	assert.True(t, billingErrors.IsNotFound(err))
}

func TestListDueAndGraceQueries(t *testing.T) {
	d := newTestData(t)
	repo := NewSubscriptionRepo(d, testLogger())
	ctx := context.Background()
	now := time.Now()

	p := seedPlan(t, d, "gpu", 50000, 10, 4)

	due := seedSubscription(t, d, activeSub("u1", p.PlanID, now.Add(-time.Hour)))

	notDue := activeSub("u2", p.PlanID, now.AddDate(0, 0, 10))
	seedSubscription(t, d, notDue)

	manual := activeSub("u3", p.PlanID, now.Add(-time.Hour))
	manual.AutoRenew = false
	seedSubscription(t, d, manual)

	graceEnd := now.AddDate(0, 0, 2)
	inGrace := activeSub("u4", p.PlanID, now.AddDate(0, 0, -5))
	inGrace.GracePeriodEnd = &graceEnd
	seedSubscription(t, d, inGrace)

	graceOver := now.Add(-time.Hour)
	ended := activeSub("u5", p.PlanID, now.AddDate(0, 0, -10))
	ended.GracePeriodEnd = &graceOver
	seedSubscription(t, d, ended)

	dueList, err := repo.ListDueSubscriptions(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, dueList, 1)
	assert.Equal(t, due.SubscriptionID, dueList[0].ID)

	endedList, err := repo.ListGraceEnded(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, endedList, 1)
	assert.Equal(t, ended.SubscriptionID, endedList[0].ID)

	graceList, err := repo.ListInGrace(ctx, now)
	require.NoError(t, err)
	require.Len(t, graceList, 1)
	assert.Equal(t, inGrace.SubscriptionID, graceList[0].ID)

	lowCredit, err := repo.ListLowCreditCandidates(ctx, now, now.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Len(t, lowCredit, 1)
	assert.Equal(t, notDue.SubscriptionID, lowCredit[0].ID)
}
