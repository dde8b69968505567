package data

import (
	"context"
	"sync"
	"testing"

	"billing-engine/internal/biz"
	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"
	"billing-engine/internal/data/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccount_Idempotent(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()

	require.NoError(t, repo.CreateAccount(ctx, &biz.Account{UID: "u1"}))
	// 重复开户不报错
	require.NoError(t, repo.CreateAccount(ctx, &biz.Account{UID: "u1"}))

	var count int64
	require.NoError(t, d.db.Model(&model.Account{}).Where("uid = ?", "u1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAddCredit_TopUp(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 0)

	entry, err := repo.AddCredit(ctx, "u1", 40000, constants.EntryTypeTopUp, "initial top-up", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.BalanceBefore)
	assert.Equal(t, int64(40000), entry.BalanceAfter)
	assert.Equal(t, constants.EntryStatusCompleted, entry.Status)
	require.NotNil(t, entry.CompletedAt)

	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, int64(40000), account.Balance)
	assert.Equal(t, int64(40000), account.TotalTopUp)
	assert.Equal(t, int64(0), account.TotalSpent)
}

// 入账不开户：账户不存在时报错且不产生任何写入
func TestAddCredit_AccountNotFound(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()

	_, err := repo.AddCredit(ctx, "ghost", 100, constants.EntryTypeTopUp, "top-up", nil)
	require.Error(t, err)
	assert.True(t, billingErrors.IsNotFound(err))

	var accounts, entries int64
	require.NoError(t, d.db.Model(&model.Account{}).Count(&accounts).Error)
	require.NoError(t, d.db.Model(&model.LedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(0), accounts)
	assert.Equal(t, int64(0), entries)
}

func TestAddCredit_NonTopUpDoesNotBumpTotalTopUp(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 0)

	_, err := repo.AddCredit(ctx, "u1", 500, constants.EntryTypeCouponRedemption, "coupon", nil)
	require.NoError(t, err)

	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.Balance)
	assert.Equal(t, int64(0), account.TotalTopUp)
}

func TestDeductCredit(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 1000)

	entry, err := repo.DeductCredit(ctx, "u1", 400, constants.EntryTypeSubscription, "monthly charge", nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), entry.BalanceBefore)
	assert.Equal(t, int64(600), entry.BalanceAfter)

	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), account.Balance)
	assert.Equal(t, int64(400), account.TotalSpent)
}

func TestDeductCredit_Insufficient(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 300)

	_, err := repo.DeductCredit(ctx, "u1", 400, constants.EntryTypeSubscription, "monthly charge", nil, false)
	require.Error(t, err)
	assert.True(t, billingErrors.IsInsufficientCredit(err))

	// 失败时无任何写入
	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), account.Balance)

	var entries int64
	require.NoError(t, d.db.Model(&model.LedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(0), entries)
}

func TestDeductCredit_AllowNegative(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 100)

	entry, err := repo.DeductCredit(ctx, "u1", 250, constants.EntryTypeAdminAdjustment, "correction", nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(-150), entry.BalanceAfter)

	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(-150), account.Balance)
}

func TestDeductCredit_AccountNotFound(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())

	_, err := repo.DeductCredit(context.Background(), "ghost", 1, constants.EntryTypeSubscription, "", nil, false)
	require.Error(t, err)
	assert.True(t, billingErrors.IsNotFound(err))
}

// 并发扣款：余额 1000，10 个并发各扣 300，恰好 3 笔成功
func TestDeductCredit_Concurrent(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 1000)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.DeductCredit(ctx, "u1", 300, constants.EntryTypeSubscription, "charge", nil, false)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		if err == nil {
			ok++
		} else if billingErrors.IsInsufficientCredit(err) {
			insufficient++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, insufficient)

	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance)

	// 余额守恒：流水净额 == 余额变化
	var entries int64
	require.NoError(t, d.db.Model(&model.LedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(3), entries)
}

func TestTopUp_Lifecycle(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 10000)

	pending, err := repo.CreatePendingTopUp(ctx, "u1", 50000, "gateway top-up", nil)
	require.NoError(t, err)
	assert.Equal(t, constants.EntryStatusPending, pending.Status)
	assert.Equal(t, int64(0), pending.BalanceBefore)
	assert.Equal(t, int64(0), pending.BalanceAfter)

	// pending 不影响余额
	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), account.Balance)

	n, err := repo.CountPendingTopUps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entry, err := repo.FinalizeTopUp(ctx, pending.ID, constants.SettlementOutcomeSuccess, "gw-123")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, constants.EntryStatusCompleted, entry.Status)
	assert.Equal(t, int64(10000), entry.BalanceBefore)
	assert.Equal(t, int64(60000), entry.BalanceAfter)
	assert.Equal(t, "gw-123", entry.GatewayRef)

	account, err = repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(60000), account.Balance)
	assert.Equal(t, int64(50000), account.TotalTopUp)

	// 重复结算事件是 no-op
	entry, err = repo.FinalizeTopUp(ctx, pending.ID, constants.SettlementOutcomeSuccess, "gw-123")
	require.NoError(t, err)
	assert.Nil(t, entry)

	account, err = repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(60000), account.Balance)
}

// 同一 gateway_ref 结算两笔不同流水：第二笔整体回滚，
// 余额只入账一次，第二笔保持 pending
func TestFinalizeTopUp_DuplicateGatewayRef(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 0)

	first, err := repo.CreatePendingTopUp(ctx, "u1", 500, "", nil)
	require.NoError(t, err)
	second, err := repo.CreatePendingTopUp(ctx, "u1", 500, "", nil)
	require.NoError(t, err)

	entry, err := repo.FinalizeTopUp(ctx, first.ID, constants.SettlementOutcomeSuccess, "gw-dup")
	require.NoError(t, err)
	require.NotNil(t, entry)

	entry, err = repo.FinalizeTopUp(ctx, second.ID, constants.SettlementOutcomeSuccess, "gw-dup")
	require.NoError(t, err)
	assert.Nil(t, entry)

	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.Balance)
	assert.Equal(t, int64(500), account.TotalTopUp)

	got, err := repo.GetEntry(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.EntryStatusPending, got.Status)
}

func TestFinalizeTopUp_Failed(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 100)

	pending, err := repo.CreatePendingTopUp(ctx, "u1", 5000, "", nil)
	require.NoError(t, err)

	entry, err := repo.FinalizeTopUp(ctx, pending.ID, constants.SettlementOutcomeFailed, "gw-f1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, constants.EntryStatusFailed, entry.Status)

	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance)
}

func TestFinalizeTopUp_NotFound(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())

	_, err := repo.FinalizeTopUp(context.Background(), "missing", constants.SettlementOutcomeSuccess, "gw-x")
	require.Error(t, err)
	assert.True(t, billingErrors.IsNotFound(err))
}

func TestCancelTopUp(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 100)

	pending, err := repo.CreatePendingTopUp(ctx, "u1", 5000, "", nil)
	require.NoError(t, err)

	// 只有持有人能取消
	err = repo.CancelTopUp(ctx, pending.ID, "u2")
	require.Error(t, err)
	assert.True(t, billingErrors.IsNotFound(err))

	require.NoError(t, repo.CancelTopUp(ctx, pending.ID, "u1"))

	got, err := repo.GetEntry(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.EntryStatusCancelled, got.Status)

	// 取消后迟到的结算事件不再入账
	entry, err := repo.FinalizeTopUp(ctx, pending.ID, constants.SettlementOutcomeSuccess, "gw-late")
	require.NoError(t, err)
	assert.Nil(t, entry)

	account, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance)

	// 已取消的流水不可再次取消
	err = repo.CancelTopUp(ctx, pending.ID, "u1")
	require.Error(t, err)
}

func TestListEntries_Pagination(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 0)
	seedAccount(t, d, "u2", 0)

	for i := 0; i < 5; i++ {
		_, err := repo.AddCredit(ctx, "u1", int64(100*(i+1)), constants.EntryTypeTopUp, "top-up", nil)
		require.NoError(t, err)
	}
	_, err := repo.AddCredit(ctx, "u2", 999, constants.EntryTypeTopUp, "other user", nil)
	require.NoError(t, err)

	entries, total, err := repo.ListEntries(ctx, "u1", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, entries, 3)

	entries, _, err = repo.ListEntries(ctx, "u1", 2, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEntryMetadata_RoundTrip(t *testing.T) {
	d := newTestData(t)
	repo := NewLedgerRepo(d, testLogger())
	ctx := context.Background()
	seedAccount(t, d, "u1", 0)

	entry, err := repo.AddCredit(ctx, "u1", 100, constants.EntryTypeCouponRedemption, "coupon", map[string]string{
		"coupon_code": "WELCOME10",
	})
	require.NoError(t, err)

	got, err := repo.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", got.Metadata["coupon_code"])
}
