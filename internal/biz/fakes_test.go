package biz

import (
	"context"
	"io"
	"time"

	billingErrors "billing-engine/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// fakeLedgerRepo 内存账本，只实现测试用到的行为
type fakeLedgerRepo struct {
	accounts map[string]*Account
	entries  []*LedgerEntry
	err      error
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{accounts: make(map[string]*Account)}
}

func (f *fakeLedgerRepo) CreateAccount(ctx context.Context, account *Account) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.accounts[account.UID]; !ok {
		f.accounts[account.UID] = &Account{UID: account.UID}
	}
	return nil
}

func (f *fakeLedgerRepo) GetAccount(ctx context.Context, uid string) (*Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[uid], nil
}

func (f *fakeLedgerRepo) AddCredit(ctx context.Context, uid string, amount int64, entryType, description string, metadata map[string]string) (*LedgerEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	account, ok := f.accounts[uid]
	if !ok {
		return nil, billingErrors.ErrAccountNotFound(uid)
	}
	entry := &LedgerEntry{
		ID:            "entry-" + uid,
		UID:           uid,
		Type:          entryType,
		Amount:        amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance + amount,
		Status:        "completed",
		Metadata:      metadata,
	}
	account.Balance += amount
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeLedgerRepo) DeductCredit(ctx context.Context, uid string, amount int64, entryType, description string, metadata map[string]string, allowNegative bool) (*LedgerEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	account := f.accounts[uid]
	entry := &LedgerEntry{
		UID:           uid,
		Type:          entryType,
		Amount:        amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance - amount,
		Status:        "completed",
	}
	account.Balance -= amount
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeLedgerRepo) CreatePendingTopUp(ctx context.Context, uid string, amount int64, description string, metadata map[string]string) (*LedgerEntry, error) {
	return nil, f.err
}

func (f *fakeLedgerRepo) FinalizeTopUp(ctx context.Context, entryID, outcome, gatewayRef string) (*LedgerEntry, error) {
	return nil, f.err
}

func (f *fakeLedgerRepo) CancelTopUp(ctx context.Context, entryID, uid string) error { return f.err }

func (f *fakeLedgerRepo) GetEntry(ctx context.Context, entryID string) (*LedgerEntry, error) {
	return nil, f.err
}

func (f *fakeLedgerRepo) ListEntries(ctx context.Context, uid string, page, pageSize int) ([]*LedgerEntry, int64, error) {
	return f.entries, int64(len(f.entries)), f.err
}

func (f *fakeLedgerRepo) CountPendingTopUps(ctx context.Context) (int64, error) { return 0, f.err }

// fakeCouponRepo 内存优惠券仓库
type fakeCouponRepo struct {
	coupons     map[string]*Coupon
	redeemCalls []string
	redeemValue int64
	redeemErr   error
	attached    map[string]string // redemptionID -> subscriptionID
	welcome     []*Coupon
}

func newFakeCouponRepo() *fakeCouponRepo {
	return &fakeCouponRepo{
		coupons:  make(map[string]*Coupon),
		attached: make(map[string]string),
	}
}

func (f *fakeCouponRepo) CreateCoupon(ctx context.Context, coupon *Coupon) error {
	coupon.ID = "coupon-" + coupon.Code
	f.coupons[coupon.Code] = coupon
	return nil
}

func (f *fakeCouponRepo) GetCouponByCode(ctx context.Context, code string) (*Coupon, error) {
	return f.coupons[code], nil
}

func (f *fakeCouponRepo) Disable(ctx context.Context, code string) error { return nil }

func (f *fakeCouponRepo) CountUserRedemptions(ctx context.Context, couponID, uid string) (int64, error) {
	return 0, nil
}

func (f *fakeCouponRepo) Redeem(ctx context.Context, code, uid string, referenceAmount int64) (*CouponRedemption, error) {
	f.redeemCalls = append(f.redeemCalls, code+":"+uid)
	if f.redeemErr != nil {
		return nil, f.redeemErr
	}
	return &CouponRedemption{
		ID:         "redemption-" + code,
		CouponCode: code,
		UID:        uid,
		Value:      f.redeemValue,
	}, nil
}

func (f *fakeCouponRepo) ListRedemptions(ctx context.Context, uid string, page, pageSize int) ([]*CouponRedemption, int64, error) {
	return nil, 0, nil
}

func (f *fakeCouponRepo) ListActiveWelcomeCoupons(ctx context.Context) ([]*Coupon, error) {
	return f.welcome, nil
}

func (f *fakeCouponRepo) AttachSubscription(ctx context.Context, redemptionID, subscriptionID string) error {
	f.attached[redemptionID] = subscriptionID
	return nil
}

// fakePlanRepo 内存套餐仓库
type fakePlanRepo struct {
	plans     map[string]*Plan
	updateErr map[string]error
}

func newFakePlanRepo() *fakePlanRepo {
	return &fakePlanRepo{
		plans:     make(map[string]*Plan),
		updateErr: make(map[string]error),
	}
}

func (f *fakePlanRepo) CreatePlan(ctx context.Context, plan *Plan) error {
	plan.ID = "plan-" + plan.ServiceName
	f.plans[plan.ID] = plan
	return nil
}

func (f *fakePlanRepo) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	return f.plans[planID], nil
}

func (f *fakePlanRepo) ListPlans(ctx context.Context) ([]*Plan, error) { return nil, nil }

func (f *fakePlanRepo) Allocate(ctx context.Context, planID string, amount int64) error { return nil }

func (f *fakePlanRepo) Release(ctx context.Context, planID string, amount int64) (int64, error) {
	return amount, nil
}

func (f *fakePlanRepo) UpdateTotalQuota(ctx context.Context, planID string, total int64) error {
	if err, ok := f.updateErr[planID]; ok {
		return err
	}
	if plan, ok := f.plans[planID]; ok {
		plan.TotalQuota = total
	}
	return nil
}

// fakeSubRepo 内存订阅仓库，Renew 按预设结果返回
type fakeSubRepo struct {
	subs       map[string]*Subscription
	outcomes   map[string]*RenewalOutcome
	renewErr   map[string]error
	due        []*Subscription
	graceEnded []*Subscription
	inGrace    []*Subscription
	lowCredit  []*Subscription

	purchased     []*Subscription
	purchaseErr   error
	graceEndSet   map[string]time.Time
	renewedOrder  []string
	expireResults map[string]*Subscription
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{
		subs:          make(map[string]*Subscription),
		outcomes:      make(map[string]*RenewalOutcome),
		renewErr:      make(map[string]error),
		graceEndSet:   make(map[string]time.Time),
		expireResults: make(map[string]*Subscription),
	}
}

func (f *fakeSubRepo) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return f.subs[subscriptionID], nil
}

func (f *fakeSubRepo) ListByUID(ctx context.Context, uid string) ([]*Subscription, error) {
	return nil, nil
}

func (f *fakeSubRepo) Purchase(ctx context.Context, sub *Subscription, price int64) (*Subscription, error) {
	if f.purchaseErr != nil {
		return nil, f.purchaseErr
	}
	created := *sub
	created.ID = "sub-new"
	created.LastChargeAmount = price
	f.purchased = append(f.purchased, &created)
	return &created, nil
}

func (f *fakeSubRepo) Renew(ctx context.Context, subscriptionID string, graceDays, periodMonths int, graceEnabled bool) (*RenewalOutcome, error) {
	f.renewedOrder = append(f.renewedOrder, subscriptionID)
	if err := f.renewErr[subscriptionID]; err != nil {
		return nil, err
	}
	if outcome := f.outcomes[subscriptionID]; outcome != nil {
		return outcome, nil
	}
	return &RenewalOutcome{Result: RenewalCurrent, Subscription: f.subs[subscriptionID]}, nil
}

func (f *fakeSubRepo) Expire(ctx context.Context, subscriptionID, reason string) (*Subscription, error) {
	return f.expireResults[subscriptionID], nil
}

func (f *fakeSubRepo) Cancel(ctx context.Context, subscriptionID, uid string) (*Subscription, error) {
	return f.subs[subscriptionID], nil
}

func (f *fakeSubRepo) SetAutoRenew(ctx context.Context, subscriptionID, uid string, autoRenew bool) error {
	return nil
}

func (f *fakeSubRepo) SetGracePeriodEnd(ctx context.Context, subscriptionID string, end time.Time) error {
	f.graceEndSet[subscriptionID] = end
	return nil
}

func (f *fakeSubRepo) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return f.due, nil
}

func (f *fakeSubRepo) ListGraceEnded(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return f.graceEnded, nil
}

func (f *fakeSubRepo) ListInGrace(ctx context.Context, now time.Time) ([]*Subscription, error) {
	return f.inGrace, nil
}

func (f *fakeSubRepo) ListLowCreditCandidates(ctx context.Context, now, until time.Time) ([]*Subscription, error) {
	return f.lowCredit, nil
}

// fakeStatsRepo 内存统计仓库
type fakeStatsRepo struct {
	stats      *BillingStats
	snapshots  map[string]*BillingStats
	collectErr error
}

func newFakeStatsRepo() *fakeStatsRepo {
	return &fakeStatsRepo{snapshots: make(map[string]*BillingStats)}
}

func (f *fakeStatsRepo) CollectDaily(ctx context.Context, day time.Time) (*BillingStats, error) {
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	if f.stats != nil {
		return f.stats, nil
	}
	return &BillingStats{Date: day.Format("2006-01-02")}, nil
}

func (f *fakeStatsRepo) SaveSnapshot(ctx context.Context, stats *BillingStats) error {
	f.snapshots[stats.Date] = stats
	return nil
}

func (f *fakeStatsRepo) GetSnapshot(ctx context.Context, date string) (*BillingStats, error) {
	return f.snapshots[date], nil
}

// fakeNotifier 记录发出的通知
type fakeNotifier struct {
	events []*NotificationEvent
	err    error
}

func (f *fakeNotifier) Send(ctx context.Context, event *NotificationEvent) error {
	f.events = append(f.events, event)
	return f.err
}

// fakeProvisioning 记录实例回收调用
type fakeProvisioning struct {
	terminated []string
	err        error
}

func (f *fakeProvisioning) TerminateInstances(ctx context.Context, uid, subscriptionID string) error {
	f.terminated = append(f.terminated, subscriptionID)
	return f.err
}

// fakeLocker 可配置的任务锁
type fakeLocker struct {
	acquired bool
	err      error
	releases int
}

func (f *fakeLocker) Acquire(ctx context.Context, name string) (func(), bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.releases++ }, true, nil
}

func testBillingConfig() *BillingConfig {
	return &BillingConfig{
		GraceDaysDefault:       7,
		GraceDaysMin:           1,
		GraceDaysMax:           30,
		BillingPeriodMonths:    1,
		LowCreditLookaheadDays: 3,
		GraceReminderDays:      3,
		WelcomeBonusEnabled:    true,
		GracePeriodEnabled:     true,
	}
}

func newTestSubscriptionUseCase(
	repo SubscriptionRepo,
	planRepo PlanRepo,
	couponRepo CouponRepo,
	ledgerRepo LedgerRepo,
	provisioning ProvisioningClient,
	notifier NotificationSender,
) *SubscriptionUseCase {
	logger := testLogger()
	return NewSubscriptionUseCase(
		repo,
		NewQuotaUseCase(planRepo, logger),
		NewCouponUseCase(couponRepo, logger),
		ledgerRepo,
		provisioning,
		notifier,
		testBillingConfig(),
		logger,
	)
}
